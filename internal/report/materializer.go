// Package report materializes scan results as CSV and HTML artifacts.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/StraySignal/fediverse-radar/internal/scan"
)

const (
	columnHandle     = "handle"
	columnLink       = "link"
	columnStatus     = "status"
	columnSearchLink = "search_link"

	outreachColumnHandle  = "handle"
	outreachColumnMessage = "message"
	outreachMessageFormat = "%s %s"

	errMessageMissingHeader     = "report file is missing a header row"
	errMessageUnknownColumns    = "report header does not contain the expected columns"
	errMessageClosedIncremental = "incremental report already closed"
)

var (
	// ErrMissingHeader indicates a report file without a header row.
	ErrMissingHeader = errors.New(errMessageMissingHeader)
	// ErrUnknownColumns indicates a report header this package did not write.
	ErrUnknownColumns = errors.New(errMessageUnknownColumns)

	errClosedIncremental = errors.New(errMessageClosedIncremental)
)

// WriteCSV writes rows to path, replacing any previous report. The search
// link column is included only when at least one row carries one, so runs
// without a search instance stay three columns wide. Identical row sequences
// produce byte-identical files.
func WriteCSV(path string, rows []scan.Row) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	includeSearchLink := anySearchLink(rows)
	if err := writer.Write(headerColumns(includeSearchLink)); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(rowRecord(row, includeSearchLink)); err != nil {
			return err
		}
	}
	return writer.Error()
}

// IncrementalCSV appends rows to a report file as they are classified, so an
// interrupted run still leaves a usable partial report behind. The search
// link column has to be decided up front because the header is written before
// any row arrives.
type IncrementalCSV struct {
	mutex             sync.Mutex
	file              *os.File
	writer            *csv.Writer
	includeSearchLink bool
}

// NewIncrementalCSV truncates path and writes the header row.
func NewIncrementalCSV(path string, includeSearchLink bool) (*IncrementalCSV, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(headerColumns(includeSearchLink)); err != nil {
		file.Close()
		return nil, err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return nil, err
	}
	return &IncrementalCSV{
		file:              file,
		writer:            writer,
		includeSearchLink: includeSearchLink,
	}, nil
}

// Append writes one row and flushes it to disk.
func (incremental *IncrementalCSV) Append(row scan.Row) error {
	incremental.mutex.Lock()
	defer incremental.mutex.Unlock()
	if incremental.file == nil {
		return errClosedIncremental
	}
	if err := incremental.writer.Write(rowRecord(row, incremental.includeSearchLink)); err != nil {
		return err
	}
	incremental.writer.Flush()
	return incremental.writer.Error()
}

// Close flushes buffered rows and closes the underlying file.
func (incremental *IncrementalCSV) Close() error {
	incremental.mutex.Lock()
	defer incremental.mutex.Unlock()
	if incremental.file == nil {
		return nil
	}
	incremental.writer.Flush()
	flushErr := incremental.writer.Error()
	closeErr := incremental.file.Close()
	incremental.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// WriteOutreachCSV writes the not-bridged rows with a ready-to-send message
// asking the account to follow the bridge service.
func WriteOutreachCSV(path string, rows []scan.Row, bridgeRequestAddress string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{outreachColumnHandle, outreachColumnMessage}); err != nil {
		return err
	}
	for _, row := range rows {
		if row.Status != scan.StatusNotBridged {
			continue
		}
		message := fmt.Sprintf(outreachMessageFormat, bridgeRequestAddress, row.Source)
		if err := writer.Write([]string{row.Source, message}); err != nil {
			return err
		}
	}
	return writer.Error()
}

// LoadCSV parses a previously materialized report back into rows. Only the
// columns the report format persists are recovered.
func LoadCSV(path string) ([]scan.Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrMissingHeader
	}

	header := records[0]
	if len(header) < 3 || header[0] != columnHandle || header[1] != columnLink || header[2] != columnStatus {
		return nil, ErrUnknownColumns
	}
	hasSearchLink := len(header) > 3 && header[3] == columnSearchLink

	rows := make([]scan.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < 3 {
			continue
		}
		row := scan.Row{
			Handle: record[0],
			Link:   record[1],
			Status: scan.RowStatus(record[2]),
		}
		if hasSearchLink && len(record) > 3 {
			row.SearchLink = record[3]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func headerColumns(includeSearchLink bool) []string {
	if includeSearchLink {
		return []string{columnHandle, columnLink, columnStatus, columnSearchLink}
	}
	return []string{columnHandle, columnLink, columnStatus}
}

func rowRecord(row scan.Row, includeSearchLink bool) []string {
	if includeSearchLink {
		return []string{row.Handle, row.Link, string(row.Status), row.SearchLink}
	}
	return []string{row.Handle, row.Link, string(row.Status)}
}

func anySearchLink(rows []scan.Row) bool {
	for _, row := range rows {
		if row.SearchLink != "" {
			return true
		}
	}
	return false
}
