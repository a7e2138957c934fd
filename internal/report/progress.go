package report

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

const progressFilePermissions = 0o644

// ProgressLog records every identifier a run has finished with, one per
// line, so an interrupted run can resume without repeating probes.
type ProgressLog struct {
	mutex  sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// OpenProgressLog opens path for appending, creating it when absent.
func OpenProgressLog(path string) (*ProgressLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, progressFilePermissions)
	if err != nil {
		return nil, err
	}
	return &ProgressLog{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Record appends one identifier and flushes it to disk.
func (progress *ProgressLog) Record(identifier string) error {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}
	progress.mutex.Lock()
	defer progress.mutex.Unlock()
	if progress.file == nil {
		return nil
	}
	if _, err := progress.writer.WriteString(trimmed + "\n"); err != nil {
		return err
	}
	return progress.writer.Flush()
}

// Close flushes pending lines and closes the file.
func (progress *ProgressLog) Close() error {
	progress.mutex.Lock()
	defer progress.mutex.Unlock()
	if progress.file == nil {
		return nil
	}
	flushErr := progress.writer.Flush()
	closeErr := progress.file.Close()
	progress.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// ReadProgressLog returns the identifiers recorded by earlier runs, keyed by
// their lowercase form. A missing file yields an empty set.
func ReadProgressLog(path string) (map[string]struct{}, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	defer file.Close()

	identifiers := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		identifiers[strings.ToLower(line)] = struct{}{}
	}
	return identifiers, scanner.Err()
}
