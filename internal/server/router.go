package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/StraySignal/fediverse-radar/internal/report"
	"github.com/StraySignal/fediverse-radar/internal/scan"
)

const (
	reportRoutePath           = "/"
	healthRoutePath           = "/healthz"
	htmlContentType           = "text/html; charset=utf-8"
	errorMessageReportMissing = "report data unavailable"
	errorMessageRenderFailure = "report page rendering failed"
	healthStatusKey           = "status"
	healthStatusOK            = "ok"
	logMessageRenderFailure   = "report render failure"
	logMessageMissingReport   = "report data not loaded"
	ginModeRelease            = "release"
)

// ReportData carries the materialized rows and totals the viewer serves.
type ReportData struct {
	Title   string
	Rows    []scan.Row
	Summary scan.Summary
}

// ReportService encapsulates rendering a report page.
type ReportService interface {
	RenderReportPage(page report.Page) (string, error)
}

// HTMLReportService implements ReportService by delegating to the report package.
type HTMLReportService struct{}

// RenderReportPage uses report.RenderHTML to produce the HTML output.
func (HTMLReportService) RenderReportPage(page report.Page) (string, error) {
	return report.RenderHTML(page)
}

// RouterConfig configures the HTTP routing for report requests.
type RouterConfig struct {
	ReportData *ReportData
	Service    ReportService
	Logger     *zap.Logger
}

// NewRouter constructs a Gin engine configured with the report and health handlers.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	service := configuration.Service
	if service == nil {
		service = HTMLReportService{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := reportHandler{
		data:    configuration.ReportData,
		service: service,
		logger:  logger,
	}

	engine.GET(reportRoutePath, handler.serveReport)
	engine.GET(healthRoutePath, handler.healthStatus)

	return engine, nil
}

type reportHandler struct {
	data    *ReportData
	service ReportService
	logger  *zap.Logger
}

func (handler reportHandler) serveReport(ginContext *gin.Context) {
	if handler.data == nil {
		handler.logger.Error(logMessageMissingReport)
		ginContext.String(http.StatusInternalServerError, errorMessageReportMissing)
		return
	}

	page := report.Page{
		Title:   handler.data.Title,
		Rows:    handler.data.Rows,
		Summary: handler.data.Summary,
	}
	pageHTML, err := handler.service.RenderReportPage(page)
	if err != nil {
		handler.logger.Error(logMessageRenderFailure, zap.Error(err))
		ginContext.String(http.StatusInternalServerError, errorMessageRenderFailure)
		return
	}
	ginContext.Data(http.StatusOK, htmlContentType, []byte(pageHTML))
}

func (handler reportHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}
