package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/StraySignal/fediverse-radar/internal/config"
	"github.com/StraySignal/fediverse-radar/internal/report"
	"github.com/StraySignal/fediverse-radar/internal/scan"
	"github.com/StraySignal/fediverse-radar/internal/server"
)

const (
	commandUse              = "radarserve"
	commandShortDescription = "Serve a materialized bridged account report over HTTP"

	flagReportName        = "report"
	flagReportDescription = "Path to the CSV report to serve"
	flagTitleName         = "title"
	flagTitleDescription  = "Page title for the rendered report"
	flagHostName          = "host"
	flagHostDescription   = "Host interface for the HTTP server"
	flagPortName          = "port"
	flagPortDescription   = "Port for the HTTP server"

	defaultReportPath = "bridged.csv"
	defaultHost       = "127.0.0.1"
	defaultPort       = 8080

	addressFormat = "%s:%d"

	errMessageLoggerCreate   = "create logger"
	errMessageLoadReport     = "load report"
	errMessageListenAndServe = "listen and serve"

	logMessageReportLoaded   = "report loaded"
	logMessageStartingServer = "starting HTTP server"
	logMessageServerStopped  = "server stopped"
	logMessageListenError    = "server listen failure"

	logFieldPath    = "path"
	logFieldRows    = "rows"
	logFieldAddress = "address"

	exitCodeFailure = 1
)

func main() {
	if err := newRadarserveCommand().Execute(); err != nil {
		os.Exit(exitCodeFailure)
	}
}

func newRadarserveCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          commandUse,
		Short:        commandShortDescription,
		RunE:         runRadarserveCommand,
		SilenceUsage: true,
	}

	command.Flags().String(flagReportName, defaultReportPath, flagReportDescription)
	command.Flags().String(flagTitleName, "", flagTitleDescription)
	command.Flags().String(flagHostName, defaultHost, flagHostDescription)
	command.Flags().Int(flagPortName, defaultPort, flagPortDescription)

	bindFlagToViper(command, flagReportName)
	bindFlagToViper(command, flagTitleName)
	bindFlagToViper(command, flagHostName)
	bindFlagToViper(command, flagPortName)

	cobra.OnInitialize(config.ConfigureEnvironment)

	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.Flags().Lookup(flagName)))
}

func runRadarserveCommand(*cobra.Command, []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	reportPath := viper.GetString(flagReportName)
	rows, loadErr := report.LoadCSV(reportPath)
	if loadErr != nil {
		return fmt.Errorf("%s: %w", errMessageLoadReport, loadErr)
	}
	summary := scan.SummarizeRows(rows)
	logger.Info(logMessageReportLoaded,
		zap.String(logFieldPath, reportPath),
		zap.Int(logFieldRows, len(rows)))

	router, routerErr := server.NewRouter(server.RouterConfig{
		ReportData: &server.ReportData{
			Title:   viper.GetString(flagTitleName),
			Rows:    rows,
			Summary: summary,
		},
		Logger: logger,
	})
	if routerErr != nil {
		return routerErr
	}

	host := viper.GetString(flagHostName)
	port := viper.GetInt(flagPortName)
	address := fmt.Sprintf(addressFormat, host, port)
	logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))

	httpServer := &http.Server{Addr: address, Handler: router}
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Error(logMessageListenError, zap.Error(serveErr))
		return fmt.Errorf("%s: %w", errMessageListenAndServe, serveErr)
	}

	logger.Info(logMessageServerStopped)
	return nil
}
