package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/florianilch/jira-bridge/internal/credstore"
)

func newTestResolver(t *testing.T, store credstore.Store, baseURL string) *Resolver {
	t.Helper()
	r, err := NewResolver(store, WithBaseURL(baseURL))
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return r
}

func TestResolveFirstEntryPolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token/accessible-resources" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer a1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": "tenant-1", "name": "First Site", "url": "https://one.atlassian.net"},
			{"id": "tenant-2", "name": "Second Site", "url": "https://two.atlassian.net"}
		]`))
	}))
	defer server.Close()

	resolver := newTestResolver(t, credstore.NewMemoryStore(), server.URL)

	tenantID, err := resolver.Resolve(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if tenantID != "tenant-1" {
		t.Errorf("tenant = %q, want first entry tenant-1", tenantID)
	}
}

func TestResolveNoAccessibleTenant(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty list", body: `[]`},
		{name: "malformed", body: `{"not": "a list"}`},
		{name: "missing id", body: `[{"name": "no id"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			resolver := newTestResolver(t, credstore.NewMemoryStore(), server.URL)
			_, err := resolver.Resolve(context.Background(), "a1")
			if !errors.Is(err, ErrNoAccessibleTenant) {
				t.Errorf("error = %v, want ErrNoAccessibleTenant", err)
			}
		})
	}
}

func TestFieldKeyMatchCachedAcrossCalls(t *testing.T) {
	var catalogFetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ex/jira/tenant-1/rest/api/3/field" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		catalogFetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": "summary", "name": "Summary", "schema": {"type": "string"}},
			{"id": "customfield_10042", "name": "Story Points", "schema": {"type": "number"}},
			{"id": "customfield_10099", "name": "Story Point Estimate", "schema": {"type": "number"}}
		]`))
	}))
	defer server.Close()

	store := credstore.NewMemoryStore()
	resolver := newTestResolver(t, store, server.URL)
	ctx := context.Background()

	key, err := resolver.FieldKey(ctx, "a1", "tenant-1")
	if err != nil {
		t.Fatalf("FieldKey failed: %v", err)
	}
	if key != "customfield_10042" {
		t.Errorf("key = %q, want first matching customfield_10042", key)
	}

	// Second call served from cache, no second fetch
	key, err = resolver.FieldKey(ctx, "a1", "tenant-1")
	if err != nil {
		t.Fatalf("FieldKey second call failed: %v", err)
	}
	if key != "customfield_10042" {
		t.Errorf("cached key = %q", key)
	}
	if got := catalogFetches.Load(); got != 1 {
		t.Errorf("catalog fetches = %d, want 1", got)
	}
}

func TestFieldKeyUnmatchedCatalogPinsDefault(t *testing.T) {
	var catalogFetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		catalogFetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		// Name matches but type is wrong; no usable field
		_, _ = w.Write([]byte(`[
			{"id": "customfield_1", "name": "Story Points", "schema": {"type": "string"}},
			{"id": "customfield_2", "name": "Epic Link", "schema": {"type": "any"}}
		]`))
	}))
	defer server.Close()

	resolver := newTestResolver(t, credstore.NewMemoryStore(), server.URL)
	ctx := context.Background()

	key, err := resolver.FieldKey(ctx, "a1", "tenant-1")
	if err != nil {
		t.Fatalf("FieldKey failed: %v", err)
	}
	if key != DefaultEstimationFieldKey {
		t.Errorf("key = %q, want default %q", key, DefaultEstimationFieldKey)
	}

	// The fallback is cached too: no refetch within the same run
	if _, err := resolver.FieldKey(ctx, "a1", "tenant-1"); err != nil {
		t.Fatalf("FieldKey second call failed: %v", err)
	}
	if got := catalogFetches.Load(); got != 1 {
		t.Errorf("catalog fetches = %d, want 1", got)
	}
}

func TestFieldKeyFetchFailureFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := credstore.NewMemoryStore()
	resolver := newTestResolver(t, store, server.URL)

	key, err := resolver.FieldKey(context.Background(), "a1", "tenant-1")
	if err != nil {
		t.Fatalf("FieldKey failed: %v", err)
	}
	if key != DefaultEstimationFieldKey {
		t.Errorf("key = %q, want default", key)
	}

	// Cached with fallback provenance
	value, ok, err := store.Get(context.Background(), credstore.FieldKeyPrefix+"tenant-1")
	if err != nil || !ok {
		t.Fatalf("cache entry missing: ok:%v err:%v", ok, err)
	}
	if value != `{"key":"customfield_10016","matched":false}` {
		t.Errorf("cache entry = %s", value)
	}
}

func TestFieldKeyRevalidatesPinnedFallback(t *testing.T) {
	var catalogFetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		catalogFetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": "customfield_10042", "name": "Story Points", "schema": {"type": "number"}}]`))
	}))
	defer server.Close()

	store := credstore.NewMemoryStore()
	// Entry pinned by a failed lookup in an earlier run
	if err := store.Set(context.Background(), credstore.FieldKeyPrefix+"tenant-1",
		`{"key":"customfield_10016","matched":false}`); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	resolver := newTestResolver(t, store, server.URL)

	key, err := resolver.FieldKey(context.Background(), "a1", "tenant-1")
	if err != nil {
		t.Fatalf("FieldKey failed: %v", err)
	}
	if key != "customfield_10042" {
		t.Errorf("key = %q, want revalidated customfield_10042", key)
	}
	if got := catalogFetches.Load(); got != 1 {
		t.Errorf("catalog fetches = %d, want 1", got)
	}

	// A matched entry is never re-fetched within a session
	if _, err := resolver.FieldKey(context.Background(), "a1", "tenant-1"); err != nil {
		t.Fatalf("FieldKey after revalidation failed: %v", err)
	}
	if got := catalogFetches.Load(); got != 1 {
		t.Errorf("catalog fetches after revalidation = %d, want 1", got)
	}
}
