// Package bridgy checks bridging status against the Bridgy Fed web frontend.
package bridgy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/StraySignal/fediverse-radar/internal/scan"
	"go.uber.org/zap"
)

const (
	defaultBaseURL      = "https://fed.brid.gy"
	bskyUserPathPrefix  = "/bsky/"
	bridgeAddressSuffix = "@bsky.brid.gy"

	acceptHeaderName     = "Accept"
	acceptHeaderValue    = "text/html"
	userAgentHeaderName  = "User-Agent"
	userAgentHeaderValue = "fediverse-radar/1.0"
	retryAfterHeaderName = "Retry-After"

	defaultHTTPTimeout = 15 * time.Second
	defaultRetryWait   = 20 * time.Second

	errMessageEmptyHandle      = "handle cannot be empty"
	errMessageUnexpectedStatus = "bridge status request returned unexpected status code"

	rateLimitDetailFormat = "bridge frontend rate limited, retry after %s"
)

var errEmptyHandle = errors.New(errMessageEmptyHandle)

var _ scan.Prober = (*Client)(nil)

// Config customizes a Client instance.
type Config struct {
	BaseURL string
	Client  *http.Client
	Logger  *zap.Logger
}

// Client queries the bridge frontend for the public profile pages it serves
// on behalf of bridged Bluesky accounts.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	logger     *zap.Logger
}

// NewClient constructs a Client against the public bridge frontend unless a
// base URL override is configured.
func NewClient(configuration Config) (*Client, error) {
	baseURLString := configuration.BaseURL
	if strings.TrimSpace(baseURLString) == "" {
		baseURLString = defaultBaseURL
	}
	parsedBaseURL, err := url.Parse(baseURLString)
	if err != nil {
		return nil, fmt.Errorf("parse bridge base url: %w", err)
	}

	httpClient := configuration.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    parsedBaseURL,
		logger:     logger,
	}, nil
}

// ProfileURL returns the bridge frontend page for a Bluesky handle.
func (client *Client) ProfileURL(handle string) string {
	pageURL := *client.baseURL
	pageURL.Path = bskyUserPathPrefix + strings.TrimSpace(handle)
	return pageURL.String()
}

// CheckBridged reports whether the bridge serves a profile page for the
// handle. A missing page means the account is not bridged.
func (client *Client) CheckBridged(ctx context.Context, handle string) (bool, error) {
	statusCode, _, err := client.fetchStatus(ctx, handle)
	if err != nil {
		return false, err
	}
	switch statusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%s: %d", errMessageUnexpectedStatus, statusCode)
	}
}

// Probe reports the bridging state of a candidate bridge address. The bridge
// address suffix is stripped so both bare handles and full addresses work.
func (client *Client) Probe(ctx context.Context, identifier string) scan.ExistenceResult {
	result := scan.ExistenceResult{Identifier: identifier}
	handle := strings.TrimSuffix(strings.TrimSpace(identifier), bridgeAddressSuffix)

	statusCode, retryAfter, err := client.fetchStatus(ctx, handle)
	if err != nil {
		result.State = scan.StateError
		result.Detail = err.Error()
		return result
	}
	switch statusCode {
	case http.StatusOK:
		result.State = scan.StateExists
	case http.StatusNotFound:
		result.State = scan.StateAbsent
	case http.StatusTooManyRequests:
		result.State = scan.StateRateLimited
		result.RetryAfter = retryAfter
		result.Detail = fmt.Sprintf(rateLimitDetailFormat, retryAfter)
	default:
		result.State = scan.StateError
		result.Detail = fmt.Sprintf("%s: %d", errMessageUnexpectedStatus, statusCode)
	}
	return result
}

func (client *Client) fetchStatus(ctx context.Context, handle string) (int, time.Duration, error) {
	trimmedHandle := strings.TrimSpace(handle)
	if trimmedHandle == "" {
		return 0, 0, errEmptyHandle
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.ProfileURL(trimmedHandle), nil)
	if err != nil {
		return 0, 0, err
	}
	request.Header.Set(acceptHeaderName, acceptHeaderValue)
	request.Header.Set(userAgentHeaderName, userAgentHeaderValue)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(response.Body, 1024))
		response.Body.Close()
	}()

	return response.StatusCode, retryWait(response.Header), nil
}

func retryWait(headers http.Header) time.Duration {
	retryAfter := strings.TrimSpace(headers.Get(retryAfterHeaderName))
	if retryAfter != "" {
		if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultRetryWait
}
