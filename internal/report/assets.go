package report

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"

	"github.com/StraySignal/fediverse-radar/internal/scan"
)

//go:embed web/static/* web/templates/*
var embeddedFS embed.FS

const (
	templateBaseName     = "base"
	templateReportFile   = "web/templates/report.tmpl"
	templateReportName   = "report.tmpl"
	embeddedCSSPath      = "web/static/report.css"
	statusClassPrefix    = "status-"
	embedReadErrorFormat = "embed read %s: %w"
)

func embeddedText(path string) (string, error) {
	content, err := fs.ReadFile(embeddedFS, path)
	if err != nil {
		return "", fmt.Errorf(embedReadErrorFormat, path, err)
	}
	return string(content), nil
}

func parseTemplates(fileSystem fs.FS, files ...string) (*template.Template, error) {
	templateWithFuncs := template.New(templateBaseName).Funcs(template.FuncMap{
		"rowClass": func(status scan.RowStatus) string {
			return statusClassPrefix + string(status)
		},
	})
	parsedTemplate, err := templateWithFuncs.ParseFS(fileSystem, files...)
	if err != nil {
		return nil, err
	}
	return parsedTemplate, nil
}
