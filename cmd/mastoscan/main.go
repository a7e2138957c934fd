package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/StraySignal/fediverse-radar/internal/bluesky"
	"github.com/StraySignal/fediverse-radar/internal/bridge"
	"github.com/StraySignal/fediverse-radar/internal/config"
	"github.com/StraySignal/fediverse-radar/internal/exports"
	"github.com/StraySignal/fediverse-radar/internal/followset"
	"github.com/StraySignal/fediverse-radar/internal/report"
	"github.com/StraySignal/fediverse-radar/internal/scan"
)

const (
	commandUse              = "mastoscan"
	commandShortDescription = "Scan a Mastodon following export for accounts bridged into Bluesky"

	flagConfigName                 = "config"
	flagConfigDescription          = "Path to a key=value configuration file"
	flagAccountDescription         = "Bluesky account whose follow list marks rows as already followed"
	flagFollowingExportDescription = "Path to the Mastodon following_accounts.csv export to scan"
	flagOutputName                 = "output"
	flagOutputDescription          = "Path for the CSV report"
	flagHTMLName                   = "html"
	flagHTMLDescription            = "Path for the HTML report (empty disables)"
	flagOutreachName               = "outreach"
	flagOutreachDescription        = "Path for an outreach CSV of accounts not yet bridged (empty disables)"
	flagProgressName               = "progress"
	flagProgressDescription        = "Path for the append-only progress log (empty disables)"
	flagResumeName                 = "resume"
	flagResumeDescription          = "Skip identifiers already recorded in the progress log"

	defaultOutputPath      = "bridged.csv"
	defaultHTMLPath        = "bridged.html"
	defaultProgressPath    = "checked_handles.txt"
	progressReportInterval = 25
	accountPrefix          = "@"

	errMessageLoggerCreate    = "create logger"
	errMessageReadExport      = "read following export"
	errMessageClientCreate    = "create bluesky client"
	errMessageRunnerCreate    = "create scan runner"
	errMessageReadProgress    = "read progress log"
	errMessageOpenProgress    = "open progress log"
	errMessageOpenIncremental = "open incremental report"
	errMessageWriteReport     = "write csv report"
	errMessageWriteHTML       = "write html report"
	errMessageWriteOutreach   = "write outreach report"

	logMessageFollowSetResolved  = "bluesky follow set resolved"
	logMessageScanStarting       = "starting bridged account scan"
	logMessageScanEndedEarly     = "scan ended before completing"
	logMessageScanProgress       = "scan progress"
	logMessageIncrementalFailure = "incremental report append failed"
	logMessageProgressFailure    = "progress log append failed"

	logFieldAccount   = "account"
	logFieldListed    = "listed"
	logFieldFollows   = "follows"
	logFieldCompleted = "completed"
	logFieldTotal     = "total"

	wroteArtifactFormat = "Wrote %s\n"
	summaryOutputFormat = "Done. listed=%d, bridged_new=%d, already_followed=%d, not_bridged=%d, unknown=%d, coverage=%s\n"

	exitCodeFailure              = 1
	exitCodeMissingConfiguration = 2
)

func main() {
	if err := newMastoscanCommand().Execute(); err != nil {
		if config.IsMissingKey(err) {
			os.Exit(exitCodeMissingConfiguration)
		}
		os.Exit(exitCodeFailure)
	}
}

func newMastoscanCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          commandUse,
		Short:        commandShortDescription,
		RunE:         runMastoscanCommand,
		SilenceUsage: true,
	}

	command.Flags().String(flagConfigName, "", flagConfigDescription)
	command.Flags().String(config.KeyAccount, "", flagAccountDescription)
	command.Flags().String(config.KeyFollowingExport, "", flagFollowingExportDescription)
	command.Flags().String(flagOutputName, defaultOutputPath, flagOutputDescription)
	command.Flags().String(flagHTMLName, defaultHTMLPath, flagHTMLDescription)
	command.Flags().String(flagOutreachName, "", flagOutreachDescription)
	command.Flags().String(flagProgressName, defaultProgressPath, flagProgressDescription)
	command.Flags().Bool(flagResumeName, false, flagResumeDescription)

	bindFlagToViper(command, flagConfigName)
	bindFlagToViper(command, config.KeyAccount)
	bindFlagToViper(command, config.KeyFollowingExport)
	bindFlagToViper(command, flagOutputName)
	bindFlagToViper(command, flagHTMLName)
	bindFlagToViper(command, flagOutreachName)
	bindFlagToViper(command, flagProgressName)
	bindFlagToViper(command, flagResumeName)

	cobra.OnInitialize(config.ConfigureEnvironment)

	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.Flags().Lookup(flagName)))
}

func runMastoscanCommand(*cobra.Command, []string) error {
	if bootstrapErr := config.Bootstrap(viper.GetString(flagConfigName)); bootstrapErr != nil {
		return bootstrapErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	runConfig := config.Load()
	if validateErr := runConfig.Validate(config.KeyAccount, config.KeyFollowingExport); validateErr != nil {
		return validateErr
	}

	addresses, readErr := exports.ReadMastodonFollowing(runConfig.FollowingExport)
	if readErr != nil {
		return fmt.Errorf("%s: %w", errMessageReadExport, readErr)
	}

	blueskyClient, clientErr := bluesky.NewClient(bluesky.Config{Logger: logger})
	if clientErr != nil {
		return fmt.Errorf("%s: %w", errMessageClientCreate, clientErr)
	}

	ctx := context.Background()
	account := strings.TrimPrefix(runConfig.Account, accountPrefix)
	followSet := followset.Resolve(ctx, bluesky.FollowsPager{Client: blueskyClient}, account, followset.ResolveConfig{Logger: logger})
	logger.Info(logMessageFollowSetResolved,
		zap.String(logFieldAccount, account),
		zap.Int(logFieldFollows, followSet.Size()))

	progressPath := viper.GetString(flagProgressName)
	var skipDone map[string]struct{}
	if viper.GetBool(flagResumeName) && progressPath != "" {
		var progressErr error
		skipDone, progressErr = report.ReadProgressLog(progressPath)
		if progressErr != nil {
			return fmt.Errorf("%s: %w", errMessageReadProgress, progressErr)
		}
	}

	var progressLog *report.ProgressLog
	if progressPath != "" {
		var openErr error
		progressLog, openErr = report.OpenProgressLog(progressPath)
		if openErr != nil {
			return fmt.Errorf("%s: %w", errMessageOpenProgress, openErr)
		}
		defer func() {
			_ = progressLog.Close()
		}()
	}

	outputPath := viper.GetString(flagOutputName)
	incremental, incrementalErr := report.NewIncrementalCSV(outputPath, false)
	if incrementalErr != nil {
		return fmt.Errorf("%s: %w", errMessageOpenIncremental, incrementalErr)
	}
	defer func() {
		_ = incremental.Close()
	}()

	runner, runnerErr := scan.NewRunner(scan.Config{
		Prober:    blueskyClient,
		Convert:   bridge.ToBlueskyHandle,
		Excluder:  bridge.NewExcluder(bridge.FediverseExclusions),
		FollowSet: followSet,
		SkipDone:  skipDone,
		RowSink: func(row scan.Row) {
			if appendErr := incremental.Append(row); appendErr != nil {
				logger.Warn(logMessageIncrementalFailure, zap.Error(appendErr))
			}
			if progressLog != nil {
				if recordErr := progressLog.Record(row.Handle); recordErr != nil {
					logger.Warn(logMessageProgressFailure, zap.Error(recordErr))
				}
			}
		},
		Progress: func(completed int, total int) {
			if completed%progressReportInterval == 0 || completed == total {
				logger.Info(logMessageScanProgress,
					zap.Int(logFieldCompleted, completed),
					zap.Int(logFieldTotal, total))
			}
		},
		Logger: logger,
	})
	if runnerErr != nil {
		return fmt.Errorf("%s: %w", errMessageRunnerCreate, runnerErr)
	}

	logger.Info(logMessageScanStarting,
		zap.String(logFieldAccount, account),
		zap.Int(logFieldListed, len(addresses)))

	rows, summary, runErr := runner.Run(ctx, addresses)
	if runErr != nil {
		logger.Warn(logMessageScanEndedEarly, zap.Error(runErr))
	}

	if closeErr := incremental.Close(); closeErr != nil {
		logger.Warn(logMessageIncrementalFailure, zap.Error(closeErr))
	}

	if writeErr := report.WriteCSV(outputPath, rows); writeErr != nil {
		return fmt.Errorf("%s: %w", errMessageWriteReport, writeErr)
	}
	fmt.Printf(wroteArtifactFormat, outputPath)

	if htmlPath := viper.GetString(flagHTMLName); htmlPath != "" {
		if htmlErr := report.WriteHTML(htmlPath, report.Page{Rows: rows, Summary: summary}); htmlErr != nil {
			return fmt.Errorf("%s: %w", errMessageWriteHTML, htmlErr)
		}
		fmt.Printf(wroteArtifactFormat, htmlPath)
	}

	if outreachPath := viper.GetString(flagOutreachName); outreachPath != "" {
		if outreachErr := report.WriteOutreachCSV(outreachPath, rows, bridge.BridgeRequestAddressFediverse); outreachErr != nil {
			return fmt.Errorf("%s: %w", errMessageWriteOutreach, outreachErr)
		}
		fmt.Printf(wroteArtifactFormat, outreachPath)
	}

	fmt.Printf(summaryOutputFormat,
		summary.Listed, summary.BridgedNew, summary.AlreadyFollowed, summary.NotBridged, summary.Unknown, summary.CoverageLabel())
	return nil
}
