package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/StraySignal/fediverse-radar/internal/scan"
)

const (
	defaultPageTitle    = "Bridged Account Report"
	generatedAtFormat   = "2006-01-02 15:04 UTC"
	htmlFilePermissions = 0o644
)

// Page carries everything the HTML report renders.
type Page struct {
	Title       string
	GeneratedAt time.Time
	Rows        []scan.Row
	Summary     scan.Summary
}

type reportViewModel struct {
	Title       string
	GeneratedAt string
	Rows        []scan.Row
	Summary     scan.Summary
	Coverage    string
	CSS         template.CSS
}

// RenderHTML assembles the report page from the embedded template and styles.
func RenderHTML(page Page) (string, error) {
	if strings.TrimSpace(page.Title) == "" {
		page.Title = defaultPageTitle
	}
	if page.GeneratedAt.IsZero() {
		page.GeneratedAt = time.Now().UTC()
	}
	cssText, err := embeddedText(embeddedCSSPath)
	if err != nil {
		return "", err
	}
	viewModel := reportViewModel{
		Title:       page.Title,
		GeneratedAt: page.GeneratedAt.UTC().Format(generatedAtFormat),
		Rows:        page.Rows,
		Summary:     page.Summary,
		Coverage:    page.Summary.CoverageLabel(),
		CSS:         template.CSS(cssText),
	}
	tmpl, err := parseTemplates(embeddedFS, templateReportFile)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}
	var buffer bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buffer, templateReportName, viewModel); err != nil {
		return "", fmt.Errorf("template execute: %w", err)
	}
	return buffer.String(), nil
}

// WriteHTML renders the page and writes it to path.
func WriteHTML(path string, page Page) error {
	rendered, err := RenderHTML(page)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(rendered), htmlFilePermissions)
}
