package bluesky_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/StraySignal/fediverse-radar/internal/bluesky"
)

const (
	testProfileBodyAlice  = `{"did":"did:plc:alice","handle":"alice.bsky.social","displayName":"Alice"}`
	testErrorBodyNotFound = `{"error":"InvalidRequest","message":"Profile not found"}`
	testFollowsPageOne    = `{"cursor":"page-two","follows":[{"did":"did:plc:alice","handle":"alice.bsky.social"},{"did":"did:plc:bob","handle":"bob.example.com"}]}`
	testFollowsPageTwo    = `{"follows":[{"did":"did:plc:carol","handle":"carol.bsky.social"}]}`
	testFollowersPage     = `{"followers":[{"did":"did:plc:dave","handle":"dave.bsky.social"}]}`
)

func newTestClient(t *testing.T, handler http.Handler) *bluesky.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := bluesky.NewClient(bluesky.Config{BaseURL: server.URL, Client: server.Client()})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func TestGetProfileReturnsProfile(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/xrpc/app.bsky.actor.getProfile" {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		if actor := request.URL.Query().Get("actor"); actor != "alice.bsky.social" {
			t.Errorf("unexpected actor query: %s", actor)
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte(testProfileBodyAlice))
	}))

	profile, err := client.GetProfile(context.Background(), "alice.bsky.social")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.DID != "did:plc:alice" {
		t.Fatalf("unexpected did: %s", profile.DID)
	}
	if profile.Handle != "alice.bsky.social" {
		t.Fatalf("unexpected handle: %s", profile.Handle)
	}
	if profile.DisplayName != "Alice" {
		t.Fatalf("unexpected display name: %s", profile.DisplayName)
	}
}

func TestGetProfileRejectsEmptyActor(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		t.Errorf("unexpected request for empty actor: %s", request.URL.String())
		writer.WriteHeader(http.StatusBadRequest)
	}))

	if _, err := client.GetProfile(context.Background(), "   "); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestGetProfileCachesResults(t *testing.T) {
	var requestCount atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCount.Add(1)
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte(testProfileBodyAlice))
	}))

	if _, err := client.GetProfile(context.Background(), "alice.bsky.social"); err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}
	if _, err := client.GetProfile(context.Background(), "Alice.bsky.social"); err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if requestCount.Load() != 1 {
		t.Fatalf("expected one upstream request, got %d", requestCount.Load())
	}
}

func TestGetProfileCachesNegativeResults(t *testing.T) {
	var requestCount atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCount.Add(1)
		writer.WriteHeader(http.StatusBadRequest)
		_, _ = writer.Write([]byte(testErrorBodyNotFound))
	}))

	_, firstErr := client.GetProfile(context.Background(), "ghost.bsky.social")
	if firstErr == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(firstErr.Error(), "Profile not found") {
		t.Fatalf("expected decoded appview message in error, got %v", firstErr)
	}
	_, secondErr := client.GetProfile(context.Background(), "ghost.bsky.social")
	if secondErr == nil {
		t.Fatalf("expected cached error, got nil")
	}
	if requestCount.Load() != 1 {
		t.Fatalf("expected negative result to be cached, got %d requests", requestCount.Load())
	}
}

func TestResolveHandleReturnsHandleForDID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte(testProfileBodyAlice))
	}))

	handle, err := client.ResolveHandle(context.Background(), "did:plc:alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != "alice.bsky.social" {
		t.Fatalf("unexpected handle: %s", handle)
	}
}

func TestResolveHandleRejectsBlankHandle(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte(`{"did":"did:plc:alice","handle":""}`))
	}))

	if _, err := client.ResolveHandle(context.Background(), "did:plc:alice"); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestListAllFollowsWalksPages(t *testing.T) {
	var pageRequests atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/xrpc/app.bsky.graph.getFollows" {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		pageRequests.Add(1)
		writer.WriteHeader(http.StatusOK)
		cursor := request.URL.Query().Get("cursor")
		if cursor == "" {
			_, _ = writer.Write([]byte(testFollowsPageOne))
			return
		}
		if cursor != "page-two" {
			t.Errorf("unexpected cursor on follow page request: %s", cursor)
		}
		_, _ = writer.Write([]byte(testFollowsPageTwo))
	}))

	handles, err := client.ListAllFollows(context.Background(), "alice.bsky.social", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectedHandles := []string{"alice.bsky.social", "bob.example.com", "carol.bsky.social"}
	if len(handles) != len(expectedHandles) {
		t.Fatalf("expected %d handles, got %d", len(expectedHandles), len(handles))
	}
	for index, expectedHandle := range expectedHandles {
		if handles[index] != expectedHandle {
			t.Fatalf("expected handle %s at index %d, got %s", expectedHandle, index, handles[index])
		}
	}
	if pageRequests.Load() != 2 {
		t.Fatalf("expected two page requests, got %d", pageRequests.Load())
	}
}

func TestListAllFollowsReturnsPartialListOnLaterError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Query().Get("cursor") != "" {
			writer.WriteHeader(http.StatusInternalServerError)
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte(testFollowsPageOne))
	}))

	handles, err := client.ListAllFollows(context.Background(), "alice.bsky.social", 0)
	if err != nil {
		t.Fatalf("expected partial result without error, got %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("expected 2 handles from the first page, got %d", len(handles))
	}
}

func TestListAllFollowsPropagatesFirstPageError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
	}))

	if _, err := client.ListAllFollows(context.Background(), "alice.bsky.social", 0); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestListAllFollowsHonorsEntryCap(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte(testFollowsPageOne))
	}))

	handles, err := client.ListAllFollows(context.Background(), "alice.bsky.social", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(handles) != 1 {
		t.Fatalf("expected entry cap to stop at 1 handle, got %d", len(handles))
	}
	if handles[0] != "alice.bsky.social" {
		t.Fatalf("unexpected first handle: %s", handles[0])
	}
}

func TestListAllFollowersListsHandles(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/xrpc/app.bsky.graph.getFollowers" {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte(testFollowersPage))
	}))

	handles, err := client.ListAllFollowers(context.Background(), "alice.bsky.social", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(handles) != 1 {
		t.Fatalf("expected 1 follower, got %d", len(handles))
	}
	if handles[0] != "dave.bsky.social" {
		t.Fatalf("unexpected follower handle: %s", handles[0])
	}
}

func TestResolveHandlesPreservesOrderAndSkipsFailures(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Query().Get("actor") {
		case "did:plc:alice":
			writer.WriteHeader(http.StatusOK)
			_, _ = writer.Write([]byte(testProfileBodyAlice))
		case "did:plc:bob":
			writer.WriteHeader(http.StatusOK)
			_, _ = writer.Write([]byte(`{"did":"did:plc:bob","handle":"bob.example.com"}`))
		default:
			writer.WriteHeader(http.StatusBadRequest)
			_, _ = writer.Write([]byte(testErrorBodyNotFound))
		}
	}))

	handles := client.ResolveHandles(context.Background(), []string{"did:plc:alice", "did:plc:ghost", "did:plc:bob"})
	if len(handles) != 2 {
		t.Fatalf("expected 2 resolved handles, got %d", len(handles))
	}
	if handles[0] != "alice.bsky.social" || handles[1] != "bob.example.com" {
		t.Fatalf("expected input order to be preserved, got %v", handles)
	}
}
