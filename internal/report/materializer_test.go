package report_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/StraySignal/fediverse-radar/internal/report"
	"github.com/StraySignal/fediverse-radar/internal/scan"
)

func sampleRows() []scan.Row {
	return []scan.Row{
		{
			Handle:     "alice.example.social.ap.brid.gy",
			Source:     "alice@example.social",
			Link:       "https://bsky.app/profile/alice.example.social.ap.brid.gy",
			SearchLink: "https://mastodon.social/search?q=alice.example.social.ap.brid.gy",
			Status:     scan.StatusBridgedNew,
		},
		{
			Handle: "bob.example.social.ap.brid.gy",
			Source: "bob@example.social",
			Status: scan.StatusNotBridged,
		},
	}
}

func TestWriteCSVOmitsSearchColumnWhenUnused(t *testing.T) {
	rows := []scan.Row{
		{Handle: "alice.example.social.ap.brid.gy", Link: "https://bsky.app/profile/alice.example.social.ap.brid.gy", Status: scan.StatusBridgedNew},
		{Handle: "bob.example.social.ap.brid.gy", Status: scan.StatusNotBridged},
	}
	path := filepath.Join(t.TempDir(), "bridged.csv")
	if err := report.WriteCSV(path, rows); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if lines[0] != "handle,link,status" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
	}
}

func TestWriteCSVIncludesSearchColumnWhenPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridged.csv")
	if err := report.WriteCSV(path, sampleRows()); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if lines[0] != "handle,link,status,search_link" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "https://mastodon.social/search?q=alice.example.social.ap.brid.gy") {
		t.Fatalf("expected search link in first row, got %s", lines[1])
	}
}

func TestWriteCSVIsDeterministic(t *testing.T) {
	directory := t.TempDir()
	firstPath := filepath.Join(directory, "first.csv")
	secondPath := filepath.Join(directory, "second.csv")

	if err := report.WriteCSV(firstPath, sampleRows()); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := report.WriteCSV(secondPath, sampleRows()); err != nil {
		t.Fatalf("second write: %v", err)
	}

	firstContent, err := os.ReadFile(firstPath)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	secondContent, err := os.ReadFile(secondPath)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if !bytes.Equal(firstContent, secondContent) {
		t.Fatalf("expected identical row sequences to produce identical files")
	}
}

func TestIncrementalCSVAppendsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridged.csv")
	incremental, err := report.NewIncrementalCSV(path, true)
	if err != nil {
		t.Fatalf("create incremental report: %v", err)
	}
	for _, row := range sampleRows() {
		if appendErr := incremental.Append(row); appendErr != nil {
			t.Fatalf("append row: %v", appendErr)
		}
	}
	if closeErr := incremental.Close(); closeErr != nil {
		t.Fatalf("close incremental report: %v", closeErr)
	}

	rows, err := report.LoadCSV(path)
	if err != nil {
		t.Fatalf("load csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Handle != "alice.example.social.ap.brid.gy" {
		t.Fatalf("unexpected first handle: %s", rows[0].Handle)
	}
	if rows[0].Status != scan.StatusBridgedNew {
		t.Fatalf("unexpected first status: %s", rows[0].Status)
	}

	if appendErr := incremental.Append(sampleRows()[0]); appendErr == nil {
		t.Fatalf("expected append after close to fail")
	}
}

func TestWriteOutreachCSVKeepsOnlyNotBridgedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not_bridged.csv")
	if err := report.WriteOutreachCSV(path, sampleRows(), "@bsky.brid.gy@bsky.brid.gy"); err != nil {
		t.Fatalf("write outreach csv: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read outreach csv: %v", err)
	}
	text := string(content)
	if strings.Contains(text, "alice@example.social") {
		t.Fatalf("expected bridged account to be excluded from outreach, got %s", text)
	}
	if !strings.Contains(text, "@bsky.brid.gy@bsky.brid.gy bob@example.social") {
		t.Fatalf("expected outreach message for bob, got %s", text)
	}
}

func TestLoadCSVRoundTripsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridged.csv")
	if err := report.WriteCSV(path, sampleRows()); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	rows, err := report.LoadCSV(path)
	if err != nil {
		t.Fatalf("load csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].SearchLink != "https://mastodon.social/search?q=alice.example.social.ap.brid.gy" {
		t.Fatalf("unexpected search link: %s", rows[0].SearchLink)
	}
	if rows[1].Status != scan.StatusNotBridged {
		t.Fatalf("unexpected second status: %s", rows[1].Status)
	}
}

func TestLoadCSVRejectsForeignHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.csv")
	if err := os.WriteFile(path, []byte("name,email\nalice,alice@example.com\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := report.LoadCSV(path); !errors.Is(err, report.ErrUnknownColumns) {
		t.Fatalf("expected ErrUnknownColumns, got %v", err)
	}
}
