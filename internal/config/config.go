// Package config resolves run settings from flags, environment variables and
// optional key=value files.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings are resolved with the usual precedence: bound command line flags
// win over FEDIRADAR_* environment variables, which win over values loaded
// from a key=value file. Files store the environment form of each key, for
// example FEDIRADAR_SEARCH_INSTANCE for the search-instance key.
const (
	EnvPrefix = "FEDIRADAR"

	KeyAccount         = "account"
	KeySearchInstance  = "search-instance"
	KeyLinkInstance    = "link-instance"
	KeyFollowingExport = "following-export"

	defaultConfigFileName = "fediradar.env"
	instanceListSeparator = ","

	errMessageConfigFileRead = "read configuration file"
	missingKeyErrorFormat    = "missing required configuration: %s"
)

// MissingKeyError reports a required configuration key with no value.
type MissingKeyError struct {
	Key string
}

func (missing *MissingKeyError) Error() string {
	return fmt.Sprintf(missingKeyErrorFormat, missing.Key)
}

// RunConfig carries the resolved settings a scan run needs.
type RunConfig struct {
	// Account is the identifier of the account whose follow lists are
	// cross-referenced.
	Account string
	// SearchInstances lists the Mastodon instances used for existence
	// searches. The first entry is the primary, the rest are rotation
	// alternates.
	SearchInstances []string
	// LinkInstance is the instance used when building profile links in
	// generated reports.
	LinkInstance string
	// FollowingExport optionally points at a Mastodon following export CSV
	// used for already-followed filtering.
	FollowingExport string
}

// ConfigureEnvironment wires viper to the FEDIRADAR_* environment variables.
// Intended for cobra.OnInitialize.
func ConfigureEnvironment() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Bootstrap loads optional key=value files into the process environment
// before viper resolves settings. Without an explicit path the working
// directory's .env and fediradar.env are tried and may be absent; an
// explicitly requested file must be readable.
func Bootstrap(configFilePath string) error {
	trimmedPath := strings.TrimSpace(configFilePath)
	if trimmedPath == "" {
		_ = godotenv.Load()
		_ = godotenv.Load(defaultConfigFileName)
		return nil
	}
	if err := godotenv.Load(trimmedPath); err != nil {
		return fmt.Errorf("%s: %w", errMessageConfigFileRead, err)
	}
	return nil
}

// Load reads the resolved settings out of viper.
func Load() RunConfig {
	return RunConfig{
		Account:         strings.TrimSpace(viper.GetString(KeyAccount)),
		SearchInstances: splitInstanceList(viper.GetString(KeySearchInstance)),
		LinkInstance:    strings.TrimSpace(viper.GetString(KeyLinkInstance)),
		FollowingExport: strings.TrimSpace(viper.GetString(KeyFollowingExport)),
	}
}

// Validate checks that every named key resolved to a value. The first missing
// key is reported as a MissingKeyError.
func (runConfig RunConfig) Validate(requiredKeys ...string) error {
	for _, requiredKey := range requiredKeys {
		switch requiredKey {
		case KeyAccount:
			if runConfig.Account == "" {
				return &MissingKeyError{Key: requiredKey}
			}
		case KeySearchInstance:
			if len(runConfig.SearchInstances) == 0 {
				return &MissingKeyError{Key: requiredKey}
			}
		case KeyLinkInstance:
			if runConfig.LinkInstance == "" {
				return &MissingKeyError{Key: requiredKey}
			}
		case KeyFollowingExport:
			if runConfig.FollowingExport == "" {
				return &MissingKeyError{Key: requiredKey}
			}
		}
	}
	return nil
}

// IsMissingKey reports whether the error is a missing-configuration error, so
// callers can map it to the configuration exit code.
func IsMissingKey(err error) bool {
	var missing *MissingKeyError
	return errors.As(err, &missing)
}

func splitInstanceList(rawList string) []string {
	parts := strings.Split(rawList, instanceListSeparator)
	instances := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		instances = append(instances, trimmed)
	}
	return instances
}
