package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/StraySignal/fediverse-radar/internal/bluesky"
	"github.com/StraySignal/fediverse-radar/internal/bridge"
	"github.com/StraySignal/fediverse-radar/internal/bridgy"
	"github.com/StraySignal/fediverse-radar/internal/config"
	"github.com/StraySignal/fediverse-radar/internal/exports"
	"github.com/StraySignal/fediverse-radar/internal/followset"
	"github.com/StraySignal/fediverse-radar/internal/mastodon"
	"github.com/StraySignal/fediverse-radar/internal/report"
	"github.com/StraySignal/fediverse-radar/internal/scan"
)

const (
	commandUse              = "bskyscan"
	commandShortDescription = "Scan Bluesky follows for accounts bridged into the fediverse"

	flagConfigName                 = "config"
	flagConfigDescription          = "Path to a key=value configuration file"
	flagAccountDescription         = "Bluesky account whose follow list is scanned"
	flagSearchInstanceDescription  = "Comma-separated Mastodon instances used for account search probing"
	flagLinkInstanceDescription    = "Mastodon instance used in generated profile and search links"
	flagFollowingExportDescription = "Optional Mastodon following export marking accounts as already followed"
	flagExportDirName              = "export-dir"
	flagExportDirDescription       = "Directory of Bluesky follow record JSON files scanned instead of the live list"
	flagFollowersName              = "followers"
	flagFollowersDescription       = "Scan the accounts following the actor instead of the follow list"
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

	defaultOutputPath      = "bridged_fediverse.csv"
	defaultHTMLPath        = "bridged_fediverse.html"
	defaultProgressPath    = "checked_handles.txt"
	progressReportInterval = 25
	accountPrefix          = "@"

	probeBaseDelay = time.Second
	probeJitter    = 250 * time.Millisecond
	probeBurstSize = 25
	probeBurstRest = 5 * time.Second

	profileLinkFormat = "https://%s/@%s"
	searchLinkFormat  = "https://%s/search?q=%s"

	errMessageLoggerCreate    = "create logger"
	errMessageBlueskyClient   = "create bluesky client"
	errMessageMastodonClient  = "create mastodon client"
	errMessageBridgeClient    = "create bridge client"
	errMessageListFollows     = "list bluesky follows"
	errMessageReadRecords     = "read follow record export"
	errMessageReadFollowing   = "read following export"
	errMessageRunnerCreate    = "create scan runner"
	errMessageReadProgress    = "read progress log"
	errMessageOpenProgress    = "open progress log"
	errMessageOpenIncremental = "open incremental report"
	errMessageWriteReport     = "write csv report"
	errMessageWriteHTML       = "write html report"
	errMessageWriteOutreach   = "write outreach report"

	logMessageProbeViaSearch     = "probing via mastodon account search"
	logMessageProbeViaBridge     = "probing via bridge frontend"
	logMessageSubjectsResolved   = "resolved export subjects to handles"
	logMessageFollowSetLoaded    = "already-followed set loaded"
	logMessageScanStarting       = "starting bridged account scan"
	logMessageScanEndedEarly     = "scan ended before completing"
	logMessageScanProgress       = "scan progress"
	logMessageIncrementalFailure = "incremental report append failed"
	logMessageProgressFailure    = "progress log append failed"

	logFieldAccount   = "account"
	logFieldInstance  = "instance"
	logFieldListed    = "listed"
	logFieldFollows   = "follows"
	logFieldSubjects  = "subjects"
	logFieldHandles   = "handles"
	logFieldCompleted = "completed"
	logFieldTotal     = "total"

	wroteArtifactFormat = "Wrote %s\n"
	summaryOutputFormat = "Done. listed=%d, bridged_new=%d, already_followed=%d, not_bridged=%d, unknown=%d, coverage=%s\n"

	exitCodeFailure              = 1
	exitCodeMissingConfiguration = 2
)

func main() {
	if err := newBskyscanCommand().Execute(); err != nil {
		if config.IsMissingKey(err) {
			os.Exit(exitCodeMissingConfiguration)
		}
		os.Exit(exitCodeFailure)
	}
}

func newBskyscanCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          commandUse,
		Short:        commandShortDescription,
		RunE:         runBskyscanCommand,
		SilenceUsage: true,
	}

	command.Flags().String(flagConfigName, "", flagConfigDescription)
	command.Flags().String(config.KeyAccount, "", flagAccountDescription)
	command.Flags().String(config.KeySearchInstance, "", flagSearchInstanceDescription)
	command.Flags().String(config.KeyLinkInstance, "", flagLinkInstanceDescription)
	command.Flags().String(config.KeyFollowingExport, "", flagFollowingExportDescription)
	command.Flags().String(flagExportDirName, "", flagExportDirDescription)
	command.Flags().Bool(flagFollowersName, false, flagFollowersDescription)
	command.Flags().String(flagOutputName, defaultOutputPath, flagOutputDescription)
	command.Flags().String(flagHTMLName, defaultHTMLPath, flagHTMLDescription)
	command.Flags().String(flagOutreachName, "", flagOutreachDescription)
	command.Flags().String(flagProgressName, defaultProgressPath, flagProgressDescription)
	command.Flags().Bool(flagResumeName, false, flagResumeDescription)

	bindFlagToViper(command, flagConfigName)
	bindFlagToViper(command, config.KeyAccount)
	bindFlagToViper(command, config.KeySearchInstance)
	bindFlagToViper(command, config.KeyLinkInstance)
	bindFlagToViper(command, config.KeyFollowingExport)
	bindFlagToViper(command, flagExportDirName)
	bindFlagToViper(command, flagFollowersName)
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

func runBskyscanCommand(*cobra.Command, []string) error {
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
	if validateErr := runConfig.Validate(config.KeyAccount); validateErr != nil {
		return validateErr
	}

	blueskyClient, clientErr := bluesky.NewClient(bluesky.Config{Logger: logger})
	if clientErr != nil {
		return fmt.Errorf("%s: %w", errMessageBlueskyClient, clientErr)
	}
	bridgeClient, bridgeErr := bridgy.NewClient(bridgy.Config{Logger: logger})
	if bridgeErr != nil {
		return fmt.Errorf("%s: %w", errMessageBridgeClient, bridgeErr)
	}

	ctx := context.Background()
	account := strings.TrimPrefix(runConfig.Account, accountPrefix)

	identifiers, gatherErr := gatherIdentifiers(ctx, logger, blueskyClient, account)
	if gatherErr != nil {
		return gatherErr
	}

	followSet, followSetErr := loadFollowSet(logger, account, runConfig.FollowingExport)
	if followSetErr != nil {
		return followSetErr
	}

	prober, rotator, proberErr := buildProber(logger, bridgeClient, runConfig.SearchInstances)
	if proberErr != nil {
		return proberErr
	}
	links := buildLinks(runConfig.LinkInstance, bridgeClient)
	includeSearchLink := runConfig.LinkInstance != ""

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
	incremental, incrementalErr := report.NewIncrementalCSV(outputPath, includeSearchLink)
	if incrementalErr != nil {
		return fmt.Errorf("%s: %w", errMessageOpenIncremental, incrementalErr)
	}
	defer func() {
		_ = incremental.Close()
	}()

	runner, runnerErr := scan.NewRunner(scan.Config{
		Prober:    prober,
		Convert:   bridge.ToFediverseAddress,
		Excluder:  bridge.NewExcluder(bridge.BlueskyExclusions),
		FollowSet: followSet,
		Links:     links,
		Rotator:   rotator,
		Pacing: scan.PacingConfig{
			BaseDelay: probeBaseDelay,
			Jitter:    probeJitter,
			BurstSize: probeBurstSize,
			BurstRest: probeBurstRest,
		},
		SkipDone: skipDone,
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
		zap.Int(logFieldListed, len(identifiers)))

	rows, summary, runErr := runner.Run(ctx, identifiers)
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
		if outreachErr := report.WriteOutreachCSV(outreachPath, rows, bridge.BridgeRequestAddressBluesky); outreachErr != nil {
			return fmt.Errorf("%s: %w", errMessageWriteOutreach, outreachErr)
		}
		fmt.Printf(wroteArtifactFormat, outreachPath)
	}

	fmt.Printf(summaryOutputFormat,
		summary.Listed, summary.BridgedNew, summary.AlreadyFollowed, summary.NotBridged, summary.Unknown, summary.CoverageLabel())
	return nil
}

// gatherIdentifiers collects the Bluesky handles to scan: the live follow
// list by default, the live follower list with --followers, or the subjects
// of an exported follow record directory with --export-dir.
func gatherIdentifiers(ctx context.Context, logger *zap.Logger, blueskyClient *bluesky.Client, account string) ([]string, error) {
	if exportDir := viper.GetString(flagExportDirName); exportDir != "" {
		subjects, readErr := exports.ReadBlueskyFollowRecords(exportDir)
		if readErr != nil {
			return nil, fmt.Errorf("%s: %w", errMessageReadRecords, readErr)
		}
		handles := blueskyClient.ResolveHandles(ctx, subjects)
		logger.Info(logMessageSubjectsResolved,
			zap.Int(logFieldSubjects, len(subjects)),
			zap.Int(logFieldHandles, len(handles)))
		return handles, nil
	}

	if viper.GetBool(flagFollowersName) {
		followers, listErr := blueskyClient.ListAllFollowers(ctx, account, 0)
		if listErr != nil {
			return nil, fmt.Errorf("%s: %w", errMessageListFollows, listErr)
		}
		return followers, nil
	}

	follows, listErr := blueskyClient.ListAllFollows(ctx, account, 0)
	if listErr != nil {
		return nil, fmt.Errorf("%s: %w", errMessageListFollows, listErr)
	}
	return follows, nil
}

// loadFollowSet builds the already-followed set from a Mastodon following
// export when one is configured. Bridged Bluesky accounts appear in that
// export under their user.domain@bsky.brid.gy address, which is exactly the
// derived form the runner checks membership against.
func loadFollowSet(logger *zap.Logger, account string, followingExport string) (*followset.FollowSet, error) {
	if followingExport == "" {
		return nil, nil
	}
	addresses, readErr := exports.ReadMastodonFollowing(followingExport)
	if readErr != nil {
		return nil, fmt.Errorf("%s: %w", errMessageReadFollowing, readErr)
	}
	followSet := followset.FromIdentifiers(account, addresses)
	logger.Info(logMessageFollowSetLoaded, zap.Int(logFieldFollows, followSet.Size()))
	return followSet, nil
}

// buildProber selects the existence probe: Mastodon account search when
// instances are configured, the Bridgy Fed frontend otherwise. Rotation only
// applies when there is more than one search instance to rotate through.
func buildProber(logger *zap.Logger, bridgeClient *bridgy.Client, searchInstances []string) (scan.Prober, scan.Rotator, error) {
	if len(searchInstances) == 0 {
		logger.Info(logMessageProbeViaBridge)
		return bridgeClient, nil, nil
	}

	mastodonClient, clientErr := mastodon.NewClient(mastodon.Config{Instances: searchInstances, Logger: logger})
	if clientErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", errMessageMastodonClient, clientErr)
	}
	logger.Info(logMessageProbeViaSearch, zap.String(logFieldInstance, mastodonClient.CurrentInstance()))

	var rotator scan.Rotator
	if len(searchInstances) > 1 {
		rotator = mastodonClient
	}
	return mastodonClient, rotator, nil
}

// buildLinks produces report links. With a configured link instance rows get
// a profile link and a search link on that instance; otherwise they link to
// the bridge frontend status page for the source handle.
func buildLinks(linkInstance string, bridgeClient *bridgy.Client) scan.LinkBuilder {
	if linkInstance == "" {
		return func(conversion bridge.Conversion) (string, string) {
			return bridgeClient.ProfileURL(conversion.Source.Raw), ""
		}
	}
	return func(conversion bridge.Conversion) (string, string) {
		profileLink := fmt.Sprintf(profileLinkFormat, linkInstance, conversion.Derived.Raw)
		searchLink := fmt.Sprintf(searchLinkFormat, linkInstance, url.QueryEscape(conversion.Derived.Raw))
		return profileLink, searchLink
	}
}
