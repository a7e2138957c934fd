package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultAppViewBaseURL = "https://public.api.bsky.app"

	getProfilePath   = "/xrpc/app.bsky.actor.getProfile"
	getFollowsPath   = "/xrpc/app.bsky.graph.getFollows"
	getFollowersPath = "/xrpc/app.bsky.graph.getFollowers"

	actorQueryParameter  = "actor"
	cursorQueryParameter = "cursor"
	limitQueryParameter  = "limit"

	acceptHeaderName       = "Accept"
	jsonContentType        = "application/json"
	defaultUserAgentHeader = "User-Agent"
	defaultUserAgentValue  = "fediverse-radar/1.0"
	retryAfterHeaderName   = "Retry-After"

	maxErrorBodyBytes     = 4 * 1024
	maxFollowPageLimit    = 100
	maxConcurrentResolves = 10

	defaultDialTimeout           = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultHTTPTimeout           = 15 * time.Second
	defaultRetryWait             = 20 * time.Second
	defaultProfileCacheSize      = 1024

	errMessageEmptyActor       = "actor cannot be empty"
	errMessageUnexpectedStatus = "appview request returned unexpected status code"
	errMessageEmptyHandle      = "profile response did not contain a handle"

	logMessagePartialListing = "follow listing aborted, continuing with partial list"
	logMessageResolveFailed  = "actor resolution failed, skipping"
	logFieldActor            = "actor"
	logFieldCollected        = "collected"
	logFieldSubject          = "subject"
)

var (
	errEmptyActor  = errors.New(errMessageEmptyActor)
	errEmptyHandle = errors.New(errMessageEmptyHandle)
)

// StatusError reports a non-200 AppView response. RetryAfter carries the wait
// suggested by the response headers when StatusCode is 429.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (statusErr *StatusError) Error() string {
	if statusErr.Message != "" {
		return fmt.Sprintf("%s: %d: %s", errMessageUnexpectedStatus, statusErr.StatusCode, statusErr.Message)
	}
	return fmt.Sprintf("%s: %d", errMessageUnexpectedStatus, statusErr.StatusCode)
}

// Profile describes the subset of an AppView profile response this tool reads.
type Profile struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type followsResponse struct {
	Cursor  string    `json:"cursor"`
	Follows []Profile `json:"follows"`
}

type followersResponse struct {
	Cursor    string    `json:"cursor"`
	Followers []Profile `json:"followers"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Config customizes a Client instance.
type Config struct {
	BaseURL   string
	Client    *http.Client
	Logger    *zap.Logger
	CacheSize int
}

// Client issues unauthenticated lookups against the public Bluesky AppView.
type Client struct {
	httpClient   *http.Client
	baseURL      *url.URL
	logger       *zap.Logger
	profileCache *lru.Cache[string, profileCacheEntry]
	flightGroup  singleflight.Group
}

type profileCacheEntry struct {
	profile Profile
	err     error
}

// NewClient constructs a Client with sensible defaults for HTTP timeouts and
// a bounded profile cache.
func NewClient(configuration Config) (*Client, error) {
	baseURLString := configuration.BaseURL
	if strings.TrimSpace(baseURLString) == "" {
		baseURLString = defaultAppViewBaseURL
	}
	parsedBaseURL, err := url.Parse(baseURLString)
	if err != nil {
		return nil, fmt.Errorf("parse appview base url: %w", err)
	}

	httpClient := configuration.Client
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	if httpClient.Timeout == 0 {
		clonedClient := *httpClient
		clonedClient.Timeout = defaultHTTPTimeout
		httpClient = &clonedClient
	}

	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cacheSize := configuration.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultProfileCacheSize
	}
	profileCache, err := lru.New[string, profileCacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create profile cache: %w", err)
	}

	client := &Client{
		httpClient:   httpClient,
		baseURL:      parsedBaseURL,
		logger:       logger,
		profileCache: profileCache,
	}
	return client, nil
}

// GetProfile fetches the profile for an actor, which may be a handle or a
// DID. Profiles and definitive not-found responses are cached so repeated
// lookups of the same actor cost one request; transient failures such as rate
// limits are not cached. Concurrent duplicate lookups share one request.
func (client *Client) GetProfile(ctx context.Context, actor string) (Profile, error) {
	trimmedActor := strings.TrimSpace(actor)
	if trimmedActor == "" {
		return Profile{}, errEmptyActor
	}
	cacheKey := strings.ToLower(trimmedActor)

	if entry, found := client.profileCache.Get(cacheKey); found {
		return entry.profile, entry.err
	}

	resultChannel := client.flightGroup.DoChan(cacheKey, func() (interface{}, error) {
		profile, fetchErr := client.fetchProfile(ctx, trimmedActor)
		if cacheableResult(fetchErr) {
			client.profileCache.Add(cacheKey, profileCacheEntry{profile: profile, err: fetchErr})
		}
		return profile, fetchErr
	})

	select {
	case <-ctx.Done():
		return Profile{}, ctx.Err()
	case result := <-resultChannel:
		if result.Err != nil {
			return Profile{}, result.Err
		}
		profile, _ := result.Val.(Profile)
		return profile, nil
	}
}

// ResolveHandle resolves an actor, usually a DID from an export record, to
// its current handle.
func (client *Client) ResolveHandle(ctx context.Context, actor string) (string, error) {
	profile, err := client.GetProfile(ctx, actor)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(profile.Handle) == "" {
		return "", errEmptyHandle
	}
	return profile.Handle, nil
}

// ResolveHandles resolves a batch of export subjects, usually DIDs, to their
// current handles using a bounded worker pool. Input order is preserved and
// subjects that fail to resolve are dropped with a warning.
func (client *Client) ResolveHandles(ctx context.Context, actors []string) []string {
	resolved := make([]string, len(actors))

	var group errgroup.Group
	group.SetLimit(maxConcurrentResolves)
	for index, actor := range actors {
		index, actor := index, actor
		group.Go(func() error {
			handle, resolveErr := client.ResolveHandle(ctx, actor)
			if resolveErr != nil {
				client.logger.Warn(logMessageResolveFailed,
					zap.String(logFieldSubject, actor),
					zap.Error(resolveErr))
				return nil
			}
			resolved[index] = handle
			return nil
		})
	}
	_ = group.Wait()

	handles := make([]string, 0, len(actors))
	for _, handle := range resolved {
		if handle == "" {
			continue
		}
		handles = append(handles, handle)
	}
	return handles
}

// ListFollowsPage fetches one page of the accounts an actor follows.
func (client *Client) ListFollowsPage(ctx context.Context, actor string, cursor string, limit int) ([]Profile, string, error) {
	requestURL := client.pageURL(getFollowsPath, actor, cursor, limit)
	var decoded followsResponse
	if err := client.getJSON(ctx, requestURL, &decoded); err != nil {
		return nil, "", err
	}
	return decoded.Follows, decoded.Cursor, nil
}

// ListFollowersPage fetches one page of the accounts following an actor.
func (client *Client) ListFollowersPage(ctx context.Context, actor string, cursor string, limit int) ([]Profile, string, error) {
	requestURL := client.pageURL(getFollowersPath, actor, cursor, limit)
	var decoded followersResponse
	if err := client.getJSON(ctx, requestURL, &decoded); err != nil {
		return nil, "", err
	}
	return decoded.Followers, decoded.Cursor, nil
}

// ListAllFollows walks the paginated follows listing and returns handles in
// listing order. A page error after the first page returns the partial list
// gathered so far.
func (client *Client) ListAllFollows(ctx context.Context, actor string, entryCap int) ([]string, error) {
	return client.listAll(ctx, actor, entryCap, client.ListFollowsPage)
}

// ListAllFollowers walks the paginated followers listing and returns handles
// in listing order with the same partial-result semantics as ListAllFollows.
func (client *Client) ListAllFollowers(ctx context.Context, actor string, entryCap int) ([]string, error) {
	return client.listAll(ctx, actor, entryCap, client.ListFollowersPage)
}

type pageFetcher func(ctx context.Context, actor string, cursor string, limit int) ([]Profile, string, error)

func (client *Client) listAll(ctx context.Context, actor string, entryCap int, fetchPage pageFetcher) ([]string, error) {
	handles := make([]string, 0)
	cursor := ""
	for {
		profiles, nextCursor, err := fetchPage(ctx, actor, cursor, maxFollowPageLimit)
		if err != nil {
			if len(handles) == 0 {
				return nil, err
			}
			client.logger.Warn(logMessagePartialListing,
				zap.String(logFieldActor, actor),
				zap.Int(logFieldCollected, len(handles)),
				zap.Error(err))
			return handles, nil
		}
		for _, profile := range profiles {
			if strings.TrimSpace(profile.Handle) == "" {
				continue
			}
			handles = append(handles, profile.Handle)
			if entryCap > 0 && len(handles) >= entryCap {
				return handles, nil
			}
		}
		if nextCursor == "" {
			return handles, nil
		}
		cursor = nextCursor
	}
}

// cacheableResult reports whether a lookup outcome is stable enough to cache.
// Missing profiles stay missing until the account appears; rate limits and
// transport failures resolve on their own.
func cacheableResult(fetchErr error) bool {
	if fetchErr == nil {
		return true
	}
	var statusErr *StatusError
	if !errors.As(fetchErr, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusBadRequest || statusErr.StatusCode == http.StatusNotFound
}

func (client *Client) fetchProfile(ctx context.Context, actor string) (Profile, error) {
	queryValues := url.Values{}
	queryValues.Set(actorQueryParameter, actor)
	requestURL := client.baseURL.ResolveReference(&url.URL{Path: getProfilePath, RawQuery: queryValues.Encode()}).String()

	var profile Profile
	if err := client.getJSON(ctx, requestURL, &profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (client *Client) pageURL(endpointPath string, actor string, cursor string, limit int) string {
	if limit <= 0 || limit > maxFollowPageLimit {
		limit = maxFollowPageLimit
	}
	queryValues := url.Values{}
	queryValues.Set(actorQueryParameter, actor)
	queryValues.Set(limitQueryParameter, fmt.Sprintf("%d", limit))
	if cursor != "" {
		queryValues.Set(cursorQueryParameter, cursor)
	}
	return client.baseURL.ResolveReference(&url.URL{Path: endpointPath, RawQuery: queryValues.Encode()}).String()
}

func (client *Client) getJSON(ctx context.Context, requestURL string, target interface{}) error {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return err
	}
	httpRequest.Header.Set(acceptHeaderName, jsonContentType)
	httpRequest.Header.Set(defaultUserAgentHeader, defaultUserAgentValue)

	httpResponse, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(httpResponse.Body, 1024))
		httpResponse.Body.Close()
	}()

	if httpResponse.StatusCode != http.StatusOK {
		return statusError(httpResponse)
	}
	if err := json.NewDecoder(httpResponse.Body).Decode(target); err != nil {
		return fmt.Errorf("decode appview response: %w", err)
	}
	return nil
}

func statusError(httpResponse *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(httpResponse.Body, maxErrorBodyBytes))
	var decoded errorResponse
	_ = json.Unmarshal(bodyBytes, &decoded)
	return &StatusError{
		StatusCode: httpResponse.StatusCode,
		Message:    decoded.Message,
		RetryAfter: retryWait(httpResponse.Header),
	}
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

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   defaultHTTPTimeout,
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
