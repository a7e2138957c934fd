package report_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/StraySignal/fediverse-radar/internal/report"
	"github.com/StraySignal/fediverse-radar/internal/scan"
)

func TestRenderHTMLStructure(t *testing.T) {
	const (
		snippetBridgedRow     = "<tr class=\"status-bridged-new\">"
		snippetNotBridgedRow  = "<tr class=\"status-not-bridged\">"
		snippetProfileLink    = "<a href=\"https://bsky.app/profile/alice.example.social.ap.brid.gy\">"
		snippetSearchLink     = "<a href=\"https://mastodon.social/search?q=alice.example.social.ap.brid.gy\">search</a>"
		snippetListedCount    = "<span class=\"count\">10</span> listed"
		snippetCoverageLabel  = "Coverage: <strong>30.00%</strong>"
		snippetGeneratedStamp = "Generated 2026-02-01 12:00 UTC"
		snippetEmbeddedStyle  = "tr.status-bridged-new td"
	)

	page := report.Page{
		Title:       "Fediverse to Bluesky",
		GeneratedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		Rows:        sampleRows(),
		Summary: scan.Summary{
			Listed:          10,
			BridgedNew:      2,
			AlreadyFollowed: 1,
			NotBridged:      6,
			Unknown:         1,
		},
	}

	html, err := report.RenderHTML(page)
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	expectedSnippets := []string{
		snippetBridgedRow,
		snippetNotBridgedRow,
		snippetProfileLink,
		snippetSearchLink,
		snippetListedCount,
		snippetCoverageLabel,
		snippetGeneratedStamp,
		snippetEmbeddedStyle,
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(html, snippet) {
			t.Fatalf("expected HTML to contain %q", snippet)
		}
	}
}

func TestRenderHTMLEscapesAccountFields(t *testing.T) {
	page := report.Page{
		Rows: []scan.Row{
			{Handle: "<script>alert(1)</script>", Status: scan.StatusUnknown},
		},
	}

	html, err := report.RenderHTML(page)
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Fatalf("expected handle content to be escaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Fatalf("expected escaped handle in output")
	}
}

func TestRenderHTMLDefaultsTitle(t *testing.T) {
	html, err := report.RenderHTML(report.Page{})
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	if !strings.Contains(html, "<title>Bridged Account Report</title>") {
		t.Fatalf("expected default title in output")
	}
}

func TestWriteHTMLWritesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridged.html")
	page := report.Page{Rows: sampleRows(), Summary: scan.Summary{Listed: 2, BridgedNew: 1, NotBridged: 1}}

	if err := report.WriteHTML(path, page); err != nil {
		t.Fatalf("WriteHTML: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if !strings.HasPrefix(string(content), "<!doctype html>") {
		t.Fatalf("expected rendered document to start with a doctype")
	}
}
