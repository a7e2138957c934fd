package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/StraySignal/fediverse-radar/internal/bridge"
	"github.com/StraySignal/fediverse-radar/internal/followset"
)

const (
	defaultConcurrency       = 10
	defaultRetryCap          = 3
	defaultRotationThreshold = 299
	maxRateLimitWait         = 90 * time.Second

	errMessageMissingProber    = "runner requires a prober"
	errMessageMissingConverter = "runner requires a converter"

	rateLimitDetailFormat = "rate limited after %d attempts"

	logMessageExcluded     = "identifier excluded by denylist"
	logMessageMalformed    = "skipping malformed identifier"
	logMessageAlreadyDone  = "skipping identifier handled by a prior run"
	logMessageRateLimited  = "probe rate limited, requeueing"
	logMessageRetriesSpent = "probe retries exhausted"
	logMessageRotated      = "rotated probe instance"

	logFieldIdentifier = "identifier"
	logFieldAttempts   = "attempts"
	logFieldInstance   = "instance"
	logFieldWait       = "wait"
)

var (
	errMissingProber    = errors.New(errMessageMissingProber)
	errMissingConverter = errors.New(errMessageMissingConverter)
)

// Converter derives the bridge-namespace counterpart of a raw identifier.
type Converter func(rawIdentifier string) (bridge.Conversion, error)

// LinkBuilder produces the profile link and optional search link for a
// conversion. When nil, rows carry the conversion's own profile URL.
type LinkBuilder func(conversion bridge.Conversion) (link string, searchLink string)

// Config assembles the collaborators and tuning knobs of a Runner. Prober
// and Convert are required; everything else has a usable default.
type Config struct {
	Prober            Prober
	Convert           Converter
	Excluder          bridge.Excluder
	FollowSet         *followset.FollowSet
	Links             LinkBuilder
	Rotator           Rotator
	Concurrency       int
	RetryCap          int
	RotationThreshold int
	Pacing            PacingConfig
	SkipDone          map[string]struct{}
	Progress          func(completed int, total int)
	RowSink           func(row Row)
	Logger            *zap.Logger
}

// Runner drives conversion, filtering, and probing over a batch of
// identifiers with bounded concurrency and rate-limit requeueing.
type Runner struct {
	prober            Prober
	convert           Converter
	excluder          bridge.Excluder
	followSet         *followset.FollowSet
	links             LinkBuilder
	rotator           Rotator
	concurrency       int
	retryCap          int
	rotationThreshold int
	pacer             *probePacer
	skipDone          map[string]struct{}
	progress          func(completed int, total int)
	rowSink           func(row Row)
	logger            *zap.Logger
}

type workItem struct {
	conversion bridge.Conversion
	attempts   int
}

type probeOutcome struct {
	item   workItem
	result ExistenceResult
}

// NewRunner constructs a Runner from configuration values.
func NewRunner(configuration Config) (*Runner, error) {
	if configuration.Prober == nil {
		return nil, errMissingProber
	}
	if configuration.Convert == nil {
		return nil, errMissingConverter
	}

	concurrency := configuration.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	retryCap := configuration.RetryCap
	if retryCap <= 0 {
		retryCap = defaultRetryCap
	}
	rotationThreshold := configuration.RotationThreshold
	if rotationThreshold <= 0 {
		rotationThreshold = defaultRotationThreshold
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var pacer *probePacer
	if configuration.Pacing.enabled() {
		pacer = newProbePacer(configuration.Pacing)
	}

	runner := &Runner{
		prober:            configuration.Prober,
		convert:           configuration.Convert,
		excluder:          configuration.Excluder,
		followSet:         configuration.FollowSet,
		links:             configuration.Links,
		rotator:           configuration.Rotator,
		concurrency:       concurrency,
		retryCap:          retryCap,
		rotationThreshold: rotationThreshold,
		pacer:             pacer,
		skipDone:          configuration.SkipDone,
		progress:          configuration.Progress,
		rowSink:           configuration.RowSink,
		logger:            logger,
	}
	return runner, nil
}

// Run converts, filters, and probes the supplied identifiers. Probes start
// in input order; rows are appended in completion order. Already-followed
// identifiers are classified without a probe. The returned error is non-nil
// only when the context ends the run early, in which case the rows gathered
// so far are still returned.
func (runner *Runner) Run(ctx context.Context, rawIdentifiers []string) ([]Row, Summary, error) {
	var summary Summary
	queue, shortRows := runner.prepare(rawIdentifiers, &summary)

	total := len(queue) + len(shortRows)
	summary.Listed = total
	rows := make([]Row, 0, total)
	completed := 0

	complete := func(row Row) {
		rows = append(rows, row)
		completed++
		summary.count(row.Status)
		if runner.rowSink != nil {
			runner.rowSink(row)
		}
		if runner.progress != nil {
			runner.progress(completed, total)
		}
	}

	for _, row := range shortRows {
		complete(row)
	}
	if len(queue) == 0 {
		return rows, summary, nil
	}

	workChannel := make(chan workItem)
	outcomeChannel := make(chan probeOutcome)
	var workerGroup sync.WaitGroup
	for workerIndex := 0; workerIndex < runner.concurrency; workerIndex++ {
		workerGroup.Add(1)
		go func() {
			defer workerGroup.Done()
			runner.probeWorker(ctx, workChannel, outcomeChannel)
		}()
	}

	var runErr error
	inFlight := 0
	attemptCount := 0

dispatchLoop:
	for len(queue) > 0 || inFlight > 0 {
		var sendChannel chan workItem
		var nextItem workItem
		if len(queue) > 0 {
			sendChannel = workChannel
			nextItem = queue[0]
		}

		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break dispatchLoop
		case sendChannel <- nextItem:
			queue = queue[1:]
			inFlight++
		case outcome := <-outcomeChannel:
			inFlight--
			attemptCount++
			runner.maybeRotate(attemptCount)

			if outcome.result.State == StateRateLimited {
				queue = runner.handleRateLimit(ctx, outcome, queue, complete)
				continue
			}

			alreadyFollowed := runner.followSet != nil && runner.followSet.Contains(outcome.item.conversion.Derived.Raw)
			status := Classify(outcome.result, alreadyFollowed)
			complete(runner.buildRow(outcome.item.conversion, status, outcome.result.Detail))
		}
	}

	close(workChannel)
	for inFlight > 0 {
		<-outcomeChannel
		inFlight--
	}
	workerGroup.Wait()

	return rows, summary, runErr
}

// prepare drops excluded, malformed, and already-handled identifiers, splits
// off already-followed conversions as pre-classified rows, and queues the
// rest for probing in input order.
func (runner *Runner) prepare(rawIdentifiers []string, summary *Summary) ([]workItem, []Row) {
	queue := make([]workItem, 0, len(rawIdentifiers))
	shortRows := make([]Row, 0)

	for _, rawIdentifier := range rawIdentifiers {
		trimmed := strings.TrimSpace(rawIdentifier)
		if trimmed == "" {
			continue
		}
		if runner.excluder.IsExcluded(trimmed) {
			summary.Excluded++
			runner.logger.Debug(logMessageExcluded, zap.String(logFieldIdentifier, trimmed))
			continue
		}
		conversion, convertErr := runner.convert(trimmed)
		if convertErr != nil {
			summary.Malformed++
			runner.logger.Warn(logMessageMalformed, zap.String(logFieldIdentifier, trimmed), zap.Error(convertErr))
			continue
		}
		if len(runner.skipDone) > 0 {
			if _, done := runner.skipDone[strings.ToLower(conversion.Derived.Raw)]; done {
				summary.SkippedDone++
				runner.logger.Debug(logMessageAlreadyDone, zap.String(logFieldIdentifier, conversion.Derived.Raw))
				continue
			}
		}
		if runner.followSet != nil && runner.followSet.Contains(conversion.Derived.Raw) {
			shortRows = append(shortRows, runner.buildRow(conversion, StatusBridgedFollowed, ""))
			continue
		}
		queue = append(queue, workItem{conversion: conversion})
	}
	return queue, shortRows
}

func (runner *Runner) probeWorker(ctx context.Context, workChannel <-chan workItem, outcomeChannel chan<- probeOutcome) {
	for item := range workChannel {
		if runner.pacer != nil {
			delayDuration, restDuration := runner.pacer.NextWaits()
			if waitForDuration(ctx, delayDuration) != nil || waitForDuration(ctx, restDuration) != nil {
				outcomeChannel <- probeOutcome{item: item, result: ExistenceResult{
					Identifier: item.conversion.Derived.Raw,
					State:      StateError,
					Detail:     ctx.Err().Error(),
				}}
				continue
			}
		}
		result := runner.prober.Probe(ctx, item.conversion.Derived.Raw)
		outcomeChannel <- probeOutcome{item: item, result: result}
	}
}

// handleRateLimit requeues a throttled identifier at the back of the queue
// or, past the retry cap, classifies it unknown. The dispatcher pauses for
// the suggested wait so in-flight pressure drops while the limit lasts.
func (runner *Runner) handleRateLimit(ctx context.Context, outcome probeOutcome, queue []workItem, complete func(Row)) []workItem {
	attemptsSoFar := outcome.item.attempts + 1
	if attemptsSoFar > runner.retryCap {
		runner.logger.Warn(logMessageRetriesSpent,
			zap.String(logFieldIdentifier, outcome.item.conversion.Derived.Raw),
			zap.Int(logFieldAttempts, attemptsSoFar))
		detail := rateLimitDetail(attemptsSoFar)
		complete(runner.buildRow(outcome.item.conversion, StatusUnknown, detail))
		return queue
	}

	waitDuration := outcome.result.RetryAfter
	if waitDuration > maxRateLimitWait {
		waitDuration = maxRateLimitWait
	}
	runner.logger.Info(logMessageRateLimited,
		zap.String(logFieldIdentifier, outcome.item.conversion.Derived.Raw),
		zap.Int(logFieldAttempts, attemptsSoFar),
		zap.Duration(logFieldWait, waitDuration))

	queue = append(queue, workItem{conversion: outcome.item.conversion, attempts: attemptsSoFar})
	_ = waitForDuration(ctx, waitDuration)
	return queue
}

func (runner *Runner) maybeRotate(attemptCount int) {
	if runner.rotator == nil {
		return
	}
	if attemptCount%runner.rotationThreshold != 0 {
		return
	}
	instanceName := runner.rotator.RotateInstance()
	runner.logger.Info(logMessageRotated, zap.String(logFieldInstance, instanceName))
}

func (runner *Runner) buildRow(conversion bridge.Conversion, status RowStatus, detail string) Row {
	link := conversion.ProfileURL
	searchLink := ""
	if runner.links != nil {
		link, searchLink = runner.links(conversion)
	}
	return Row{
		Handle:     conversion.Derived.Raw,
		Source:     conversion.Source.Raw,
		Link:       link,
		SearchLink: searchLink,
		Status:     status,
		Detail:     detail,
	}
}

func (summary *Summary) count(status RowStatus) {
	switch status {
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

func rateLimitDetail(attempts int) string {
	return fmt.Sprintf(rateLimitDetailFormat, attempts)
}
