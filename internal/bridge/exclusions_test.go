package bridge_test

import (
	"testing"

	"github.com/StraySignal/fediverse-radar/internal/bridge"
)

func TestExcluderFediverseDirection(t *testing.T) {
	excluder := bridge.NewExcluder(bridge.FediverseExclusions)

	testCases := []struct {
		name           string
		rawIdentifier  string
		expectExcluded bool
	}{
		{
			name:           "bridged bluesky account is excluded",
			rawIdentifier:  "alice@bsky.brid.gy",
			expectExcluded: true,
		},
		{
			name:           "threads account is excluded",
			rawIdentifier:  "bob@threads.net",
			expectExcluded: true,
		},
		{
			name:           "bird makeup account is excluded",
			rawIdentifier:  "carol@bird.makeup",
			expectExcluded: true,
		},
		{
			name:           "regular fediverse account passes",
			rawIdentifier:  "dave@mastodon.social",
			expectExcluded: false,
		},
		{
			name:           "subdomain of denylisted domain is excluded",
			rawIdentifier:  "eve@media.threads.net",
			expectExcluded: true,
		},
		{
			name:           "lookalike domain passes the label boundary",
			rawIdentifier:  "mallory@notbsky.brid.gy",
			expectExcluded: false,
		},
		{
			name:           "matching is case insensitive",
			rawIdentifier:  "Alice@BSKY.Brid.GY",
			expectExcluded: true,
		},
		{
			name:           "leading at sign is ignored",
			rawIdentifier:  "@alice@bsky.brid.gy",
			expectExcluded: true,
		},
		{
			name:           "blank identifier passes",
			rawIdentifier:  "   ",
			expectExcluded: false,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			excluded := excluder.IsExcluded(testCase.rawIdentifier)
			if excluded != testCase.expectExcluded {
				t.Fatalf("expected excluded=%t for %q, got %t", testCase.expectExcluded, testCase.rawIdentifier, excluded)
			}
		})
	}
}

func TestExcluderBlueskyDirection(t *testing.T) {
	excluder := bridge.NewExcluder(bridge.BlueskyExclusions)

	testCases := []struct {
		name           string
		rawIdentifier  string
		expectExcluded bool
	}{
		{
			name:           "bridged fediverse handle is excluded",
			rawIdentifier:  "alice.mastodon.social.ap.brid.gy",
			expectExcluded: true,
		},
		{
			name:           "native bluesky handle passes",
			rawIdentifier:  "alice.bsky.social",
			expectExcluded: false,
		},
		{
			name:           "custom domain handle passes",
			rawIdentifier:  "blog.example.com",
			expectExcluded: false,
		},
		{
			name:           "case differences do not matter",
			rawIdentifier:  "Alice.Mastodon.Social.AP.Brid.GY",
			expectExcluded: true,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			excluded := excluder.IsExcluded(testCase.rawIdentifier)
			if excluded != testCase.expectExcluded {
				t.Fatalf("expected excluded=%t for %q, got %t", testCase.expectExcluded, testCase.rawIdentifier, excluded)
			}
		})
	}
}
