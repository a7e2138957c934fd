package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	searchEndpointPath       = "/api/v1/accounts/search"
	searchQueryParameter     = "q"
	searchLimitParameter     = "limit"
	searchResolveParameter   = "resolve"
	searchResultLimit        = "5"
	searchResolveRemote      = "false"
	acceptHeaderName         = "Accept"
	acceptHeaderValue        = "application/json"
	userAgentHeaderName      = "User-Agent"
	userAgentHeaderValue     = "fediverse-radar/1.0"
	retryAfterHeaderName     = "Retry-After"
	rateLimitResetHeaderName = "X-RateLimit-Reset"

	defaultDialTimeout           = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultClientTimeout         = 15 * time.Second

	defaultRetryWait        = 20 * time.Second
	minimumResetWait        = 2 * time.Second
	retryJitterLimit        = 300 * time.Millisecond
	defaultJitterLimit      = 500 * time.Millisecond
	instanceSchemeHTTPS     = "https"
	instanceSchemeSeparator = "://"

	errMessageNoInstances      = "at least one instance is required"
	errMessageEmptyQuery       = "search query must not be empty"
	errMessageUnexpectedStatus = "instance search returned unexpected status code"

	rateLimitedErrorFormat = "%s: search rate limited, retry after %s"
)

// ErrNoInstances indicates the client was configured without any instance
// to search against.
var ErrNoInstances = errors.New(errMessageNoInstances)

var errEmptyQuery = errors.New(errMessageEmptyQuery)

// Account carries the fields of a search result this tool reads.
type Account struct {
	ID          string `json:"id"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

// RateLimitedError reports an HTTP 429 from an instance along with the wait
// its rate limit headers suggest before retrying.
type RateLimitedError struct {
	Instance   string
	RetryAfter time.Duration
}

func (limitError *RateLimitedError) Error() string {
	return fmt.Sprintf(rateLimitedErrorFormat, limitError.Instance, limitError.RetryAfter)
}

// Config customizes a Client instance.
type Config struct {
	// Instances lists the Mastodon instances to search, in rotation order.
	// Entries may be bare hosts, which default to https, or full base URLs.
	// The first entry is used until a rotation is requested.
	Instances []string
	// Client optionally overrides the HTTP client used for searches.
	Client *http.Client
	// Logger optionally records search failures and rotations.
	Logger *zap.Logger
	// RandomGenerator optionally seeds retry jitter. A generator seeded from
	// the current time is used when nil.
	RandomGenerator *rand.Rand
}

// Client performs unauthenticated account searches against a rotating set of
// Mastodon instances.
type Client struct {
	httpClient      *http.Client
	logger          *zap.Logger
	randomGenerator *rand.Rand

	mutex     sync.Mutex
	instances []url.URL
	cursor    int
}

// NewClient validates the configuration and prepares a search client.
func NewClient(configuration Config) (*Client, error) {
	instances := make([]url.URL, 0, len(configuration.Instances))
	for _, instance := range configuration.Instances {
		target, valid := parseInstanceTarget(instance)
		if !valid {
			continue
		}
		instances = append(instances, target)
	}
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	httpClient := configuration.Client
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	randomGenerator := configuration.RandomGenerator
	if randomGenerator == nil {
		randomGenerator = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Client{
		httpClient:      httpClient,
		logger:          logger,
		randomGenerator: randomGenerator,
		instances:       instances,
	}, nil
}

// CurrentInstance returns the host search requests are currently sent to.
func (client *Client) CurrentInstance() string {
	return client.currentTarget().Host
}

// RotateInstance advances to the next configured instance and returns its
// host. With a single instance configured the rotation is a no-op.
func (client *Client) RotateInstance() string {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.cursor = (client.cursor + 1) % len(client.instances)
	return client.instances[client.cursor].Host
}

func (client *Client) currentTarget() url.URL {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return client.instances[client.cursor]
}

// SearchAccounts looks the query up on the current instance and returns the
// matching accounts. Remote resolution is disabled, so only accounts the
// instance already knows about are found.
func (client *Client) SearchAccounts(ctx context.Context, query string) ([]Account, error) {
	trimmedQuery := strings.TrimSpace(query)
	if trimmedQuery == "" {
		return nil, errEmptyQuery
	}
	requestURL := client.currentTarget()

	queryValues := url.Values{}
	queryValues.Set(searchQueryParameter, trimmedQuery)
	queryValues.Set(searchLimitParameter, searchResultLimit)
	queryValues.Set(searchResolveParameter, searchResolveRemote)
	requestURL.Path = searchEndpointPath
	requestURL.RawQuery = queryValues.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set(acceptHeaderName, acceptHeaderValue)
	request.Header.Set(userAgentHeaderName, userAgentHeaderValue)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(response.Body, 1024))
		response.Body.Close()
	}()

	switch response.StatusCode {
	case http.StatusOK:
		var accounts []Account
		if decodeErr := json.NewDecoder(response.Body).Decode(&accounts); decodeErr != nil {
			return nil, decodeErr
		}
		return accounts, nil
	case http.StatusTooManyRequests:
		return nil, &RateLimitedError{
			Instance:   requestURL.Host,
			RetryAfter: client.retryWait(response.Header),
		}
	default:
		return nil, fmt.Errorf("%s: %s %d", errMessageUnexpectedStatus, requestURL.Host, response.StatusCode)
	}
}

// retryWait derives a wait duration from rate limit response headers. A
// Retry-After value in seconds wins, then the X-RateLimit-Reset timestamp,
// then a fixed default. Jitter keeps concurrent retries from aligning.
func (client *Client) retryWait(headers http.Header) time.Duration {
	if retryAfter := strings.TrimSpace(headers.Get(retryAfterHeaderName)); retryAfter != "" {
		if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil && seconds >= 0 {
			return time.Duration(seconds)*time.Second + client.jitter(retryJitterLimit)
		}
	}
	if reset := strings.TrimSpace(headers.Get(rateLimitResetHeaderName)); reset != "" {
		if resetTime, parseErr := time.Parse(time.RFC3339, reset); parseErr == nil {
			wait := time.Until(resetTime)
			if wait < minimumResetWait {
				wait = minimumResetWait
			}
			return wait + client.jitter(retryJitterLimit)
		}
	}
	return defaultRetryWait + client.jitter(defaultJitterLimit)
}

func (client *Client) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return time.Duration(client.randomGenerator.Int63n(int64(limit)))
}

func parseInstanceTarget(instance string) (url.URL, bool) {
	trimmed := strings.TrimSpace(instance)
	if trimmed == "" {
		return url.URL{}, false
	}
	if strings.Contains(trimmed, instanceSchemeSeparator) {
		parsed, parseErr := url.Parse(trimmed)
		if parseErr != nil || parsed.Host == "" {
			return url.URL{}, false
		}
		return url.URL{Scheme: parsed.Scheme, Host: parsed.Host}, true
	}
	return url.URL{Scheme: instanceSchemeHTTPS, Host: strings.Trim(trimmed, "/")}, true
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   defaultClientTimeout,
		Transport: defaultTransport(),
	}
}

func defaultTransport() http.RoundTripper {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxConnsPerHost:       100,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}
