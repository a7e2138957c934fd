package scan

import (
	"context"
	"fmt"
	"time"
)

const (
	StateExists      = ExistenceState("EXISTS")
	StateAbsent      = ExistenceState("ABSENT")
	StateError       = ExistenceState("ERROR")
	StateRateLimited = ExistenceState("RATE_LIMITED")

	StatusBridgedNew      = RowStatus("bridged-new")
	StatusBridgedFollowed = RowStatus("bridged-followed")
	StatusNotBridged      = RowStatus("not-bridged")
	StatusUnknown         = RowStatus("unknown")

	coveragePercentFormat = "%.2f%%"
)

// ExistenceState classifies the outcome of a single existence probe.
// StateRateLimited is internal to the probing loop and never reaches a Row.
type ExistenceState string

// ExistenceResult describes one probe attempt for an identifier. RetryAfter
// carries the suggested wait when State is StateRateLimited.
type ExistenceResult struct {
	Identifier string
	State      ExistenceState
	Detail     string
	RetryAfter time.Duration
}

// RowStatus classifies a reported identifier.
type RowStatus string

// Row is the unit handed to report rendering. Status is derived once from
// the probe outcome and follow set membership and never mutated afterwards.
type Row struct {
	Handle     string
	Source     string
	Link       string
	SearchLink string
	Status     RowStatus
	Detail     string
}

// Summary aggregates the counts of a completed run. Listed covers the
// identifiers that reached classification; excluded and malformed entries
// are dropped before that point.
type Summary struct {
	Listed          int
	BridgedNew      int
	AlreadyFollowed int
	NotBridged      int
	Unknown         int
	Excluded        int
	Malformed       int
	SkippedDone     int
}

// Bridged returns the number of identifiers with a confirmed bridged presence.
func (summary Summary) Bridged() int {
	return summary.BridgedNew + summary.AlreadyFollowed
}

// Coverage returns the bridged share of listed identifiers in percent.
func (summary Summary) Coverage() float64 {
	if summary.Listed == 0 {
		return 0
	}
	return float64(summary.Bridged()) / float64(summary.Listed) * 100
}

// CoverageLabel formats the coverage percentage with two decimals.
func (summary Summary) CoverageLabel() string {
	return fmt.Sprintf(coveragePercentFormat, summary.Coverage())
}

// Prober asks a target service whether an identifier is resolvable there.
type Prober interface {
	Probe(ctx context.Context, identifier string) ExistenceResult
}

// Rotator switches probing to an alternate instance and returns its name.
type Rotator interface {
	RotateInstance() string
}

// Classify derives the report status from a probe outcome and follow set
// membership.
func Classify(result ExistenceResult, alreadyFollowed bool) RowStatus {
	switch result.State {
	case StateExists:
		if alreadyFollowed {
			return StatusBridgedFollowed
		}
		return StatusBridgedNew
	case StateAbsent:
		return StatusNotBridged
	default:
		return StatusUnknown
	}
}

// SummarizeRows rebuilds run totals from materialized rows. Counts that never
// produce rows, excluded and malformed entries among them, cannot be
// recovered and stay zero.
func SummarizeRows(rows []Row) Summary {
	summary := Summary{Listed: len(rows)}
	for _, row := range rows {
		switch row.Status {
		case StatusBridgedNew:
			summary.BridgedNew++
		case StatusBridgedFollowed:
			summary.AlreadyFollowed++
		case StatusNotBridged:
			summary.NotBridged++
		default:
			summary.Unknown++
		}
	}
	return summary
}
