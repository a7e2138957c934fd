package mastodon_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/StraySignal/fediverse-radar/internal/scan"
)

func TestProbeClassifiesSearchOutcomes(t *testing.T) {
	testCases := []struct {
		name          string
		statusCode    int
		body          string
		retryAfter    string
		expectedState scan.ExistenceState
	}{
		{
			name:          "matching account exists",
			statusCode:    http.StatusOK,
			body:          testSearchBodyMatch,
			expectedState: scan.StateExists,
		},
		{
			name:          "empty result is absent",
			statusCode:    http.StatusOK,
			body:          testSearchBodyEmpty,
			expectedState: scan.StateAbsent,
		},
		{
			name:          "throttled search is rate limited",
			statusCode:    http.StatusTooManyRequests,
			retryAfter:    "7",
			expectedState: scan.StateRateLimited,
		},
		{
			name:          "server failure is an error",
			statusCode:    http.StatusBadGateway,
			expectedState: scan.StateError,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			client := newTestSearchClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				if testCase.retryAfter != "" {
					writer.Header().Set("Retry-After", testCase.retryAfter)
				}
				writer.WriteHeader(testCase.statusCode)
				if testCase.body != "" {
					_, _ = writer.Write([]byte(testCase.body))
				}
			}))

			result := client.Probe(context.Background(), "alice.example.com@bsky.brid.gy")
			if result.State != testCase.expectedState {
				t.Fatalf("expected state %s, got %s", testCase.expectedState, result.State)
			}
			if result.Identifier != "alice.example.com@bsky.brid.gy" {
				t.Fatalf("unexpected identifier: %s", result.Identifier)
			}
		})
	}
}

func TestProbeCarriesRetryWait(t *testing.T) {
	client := newTestSearchClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Retry-After", "7")
		writer.WriteHeader(http.StatusTooManyRequests)
	}))

	result := client.Probe(context.Background(), "alice.example.com@bsky.brid.gy")
	if result.State != scan.StateRateLimited {
		t.Fatalf("expected rate limited state, got %s", result.State)
	}
	if result.RetryAfter < 7*time.Second {
		t.Fatalf("expected retry wait of at least 7s, got %s", result.RetryAfter)
	}
	if !strings.Contains(result.Detail, "rate limited") {
		t.Fatalf("expected rate limit detail, got %s", result.Detail)
	}
}

func TestProbeRecordsErrorDetail(t *testing.T) {
	client := newTestSearchClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
	}))

	result := client.Probe(context.Background(), "alice.example.com@bsky.brid.gy")
	if result.State != scan.StateError {
		t.Fatalf("expected error state, got %s", result.State)
	}
	if result.Detail == "" {
		t.Fatalf("expected detail describing the failure")
	}
}
