package bridge

import "strings"

const (
	bridgedBlueskyDomain    = "bsky.brid.gy"
	threadsFederationDomain = "threads.net"
	birdMakeupDomain        = "bird.makeup"
	bridgeServiceDomain     = "brid.gy"
)

var (
	// FediverseExclusions lists domains whose accounts must never be converted
	// toward Bluesky: accounts already bridged from Bluesky and accounts served
	// by other bridging services.
	FediverseExclusions = []string{bridgedBlueskyDomain, threadsFederationDomain, birdMakeupDomain}

	// BlueskyExclusions lists handle domains whose accounts must never be
	// converted toward the fediverse. Any brid.gy handle is already a bridged
	// identity.
	BlueskyExclusions = []string{bridgeServiceDomain}
)

// Excluder reports whether an account identifier belongs to a denylisted domain.
type Excluder struct {
	domainSuffixes []string
}

// NewExcluder constructs an Excluder from a list of lowercase domain suffixes.
func NewExcluder(domainSuffixes []string) Excluder {
	return Excluder{domainSuffixes: domainSuffixes}
}

// IsExcluded reports whether the identifier's domain equals or is a subdomain
// of any denylisted domain. Matching is case-insensitive and respects label
// boundaries, so notbsky.brid.gy does not match bsky.brid.gy.
func (excluder Excluder) IsExcluded(rawIdentifier string) bool {
	normalized := strings.ToLower(strings.TrimSpace(rawIdentifier))
	normalized = strings.TrimPrefix(normalized, addressSeparator)
	if normalized == "" {
		return false
	}

	domainPart := normalized
	if separatorIndex := strings.LastIndex(normalized, addressSeparator); separatorIndex >= 0 {
		domainPart = normalized[separatorIndex+1:]
	}

	for _, domainSuffix := range excluder.domainSuffixes {
		if domainPart == domainSuffix {
			return true
		}
		if strings.HasSuffix(domainPart, labelSeparator+domainSuffix) {
			return true
		}
	}
	return false
}
