package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/florianilch/jira-bridge/internal/credstore"
	"github.com/florianilch/jira-bridge/internal/session"
	"github.com/florianilch/jira-bridge/internal/tenant"
)

// newTestClient wires a client against one httptest server playing both the
// API gateway and (unused) authorization server, with a valid stored token.
func newTestClient(t *testing.T, handler http.Handler) (*Client, credstore.Store) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := credstore.NewMemoryStore()
	record, err := json.Marshal(session.TokenRecord{
		AccessToken:  "a1",
		RefreshToken: "r1",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if err := store.Set(context.Background(), credstore.KeyToken, string(record)); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	sess, err := session.NewManager(store, session.Config{
		ClientID:    "client-1",
		RedirectURL: "http://127.0.0.1:45870/callback",
		AuthBaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tenants, err := tenant.NewResolver(store, tenant.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	client, err := NewClient(sess, tenants, WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, store
}

// gatewayMux serves tenant discovery plus the given tenant-scoped routes.
func gatewayMux(t *testing.T, routes map[string]http.HandlerFunc) *http.ServeMux {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/token/accessible-resources", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer a1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": "tenant-1", "name": "Site", "url": "https://site.atlassian.net"}]`))
	})
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	return mux
}

func TestIssuesNormalizesEstimationField(t *testing.T) {
	mux := gatewayMux(t, map[string]http.HandlerFunc{
		"GET /ex/jira/tenant-1/rest/api/3/field": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id": "customfield_10042", "name": "Story Points", "schema": {"type": "number"}}]`))
		},
		"GET /ex/jira/tenant-1/rest/api/3/search": func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			if got := query.Get("jql"); got != "project = ABC ORDER BY updated DESC" {
				t.Errorf("jql = %q", got)
			}
			if got := query.Get("maxResults"); got != "3" {
				t.Errorf("maxResults = %q, want 3", got)
			}
			if got := query.Get("fields"); got != "summary,issuetype,status,priority,comment,customfield_10042" {
				t.Errorf("fields = %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"issues": [
				{"key": "ABC-1", "fields": {"summary": "First", "customfield_10042": 5}},
				{"key": "ABC-2", "fields": {"summary": "Second"}}
			]}`))
		},
	})

	client, _ := newTestClient(t, mux)

	issues, err := client.Issues(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("Issues failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("issues = %d, want 2", len(issues))
	}

	fields := issues[0]["fields"].(map[string]any)
	if got := fields["storyPoints"]; got != float64(5) {
		t.Errorf("normalized estimation = %v, want 5", got)
	}
	// Raw field stays exposed alongside the normalized key
	if got := fields["customfield_10042"]; got != float64(5) {
		t.Errorf("raw field = %v, want 5", got)
	}

	// Issue without a value normalizes to null, not a missing key
	fields = issues[1]["fields"].(map[string]any)
	if value, ok := fields["storyPoints"]; !ok || value != nil {
		t.Errorf("missing estimation = %v (present %v), want nil", value, ok)
	}
}

func TestIssuesUsesCachedFieldKey(t *testing.T) {
	var catalogFetches int
	mux := gatewayMux(t, map[string]http.HandlerFunc{
		"GET /ex/jira/tenant-1/rest/api/3/field": func(w http.ResponseWriter, r *http.Request) {
			catalogFetches++
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id": "customfield_10042", "name": "Story Points", "schema": {"type": "number"}}]`))
		},
		"GET /ex/jira/tenant-1/rest/api/3/search": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"issues": []}`))
		},
	})

	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	for range 3 {
		if _, err := client.Issues(ctx, "ABC"); err != nil {
			t.Fatalf("Issues failed: %v", err)
		}
	}
	if catalogFetches != 1 {
		t.Errorf("catalog fetches = %d, want 1 (cached for subsequent calls)", catalogFetches)
	}
}

func TestMeSkipsTenantResolution(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"account_id": "acc-1", "email": "dev@example.com"}`))
	})
	// No accessible-resources route: provider identity must not resolve a tenant

	client, _ := newTestClient(t, mux)

	profile, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(profile, &decoded); err != nil {
		t.Fatalf("profile not JSON: %v", err)
	}
	if decoded["account_id"] != "acc-1" {
		t.Errorf("profile = %v", decoded)
	}
}

func TestTransitions(t *testing.T) {
	mux := gatewayMux(t, map[string]http.HandlerFunc{
		"GET /ex/jira/tenant-1/rest/api/3/issue/ABC-1/transitions": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"transitions": [{"id": "31", "name": "Done"}]}`))
		},
	})

	client, _ := newTestClient(t, mux)

	transitions, err := client.Transitions(context.Background(), "ABC-1")
	if err != nil {
		t.Fatalf("Transitions failed: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(transitions, &decoded); err != nil {
		t.Fatalf("transitions not a JSON array: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["id"] != "31" {
		t.Errorf("transitions = %v", decoded)
	}
}

func TestApplyTransition(t *testing.T) {
	var gotBody map[string]any
	mux := gatewayMux(t, map[string]http.HandlerFunc{
		"POST /ex/jira/tenant-1/rest/api/3/issue/ABC-1/transitions": func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
				t.Errorf("decoding body: %v", err)
			}
			w.WriteHeader(http.StatusNoContent)
		},
	})

	client, _ := newTestClient(t, mux)

	if err := client.ApplyTransition(context.Background(), "ABC-1", "31"); err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}

	transition := gotBody["transition"].(map[string]any)
	if transition["id"] != "31" {
		t.Errorf("transition body = %v", gotBody)
	}
}

func TestApplyTransitionInvalidID(t *testing.T) {
	mux := gatewayMux(t, map[string]http.HandlerFunc{
		"POST /ex/jira/tenant-1/rest/api/3/issue/ABC-1/transitions": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"errorMessages":["Invalid transition"]}`, http.StatusBadRequest)
		},
	})

	client, _ := newTestClient(t, mux)

	err := client.ApplyTransition(context.Background(), "ABC-1", "9999")
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if upstreamErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", upstreamErr.StatusCode)
	}
}

func TestComments(t *testing.T) {
	mux := gatewayMux(t, map[string]http.HandlerFunc{
		"GET /ex/jira/tenant-1/rest/api/3/issue/ABC-1/comment": func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			if got := query.Get("orderBy"); got != "-created" {
				t.Errorf("orderBy = %q, want -created", got)
			}
			if got := query.Get("maxResults"); got != "5" {
				t.Errorf("maxResults = %q, want 5", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"comments": [{"id": "c1"}]}`))
		},
	})

	client, _ := newTestClient(t, mux)

	comments, err := client.Comments(context.Background(), "ABC-1", 5)
	if err != nil {
		t.Fatalf("Comments failed: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(comments, &decoded); err != nil {
		t.Fatalf("comments not a JSON array: %v", err)
	}
	if len(decoded) != 1 {
		t.Errorf("comments = %v", decoded)
	}
}

func TestCommentsDefaultPageSize(t *testing.T) {
	mux := gatewayMux(t, map[string]http.HandlerFunc{
		"GET /ex/jira/tenant-1/rest/api/3/issue/ABC-1/comment": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("maxResults"); got != "3" {
				t.Errorf("maxResults = %q, want default 3", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"comments": []}`))
		},
	})

	client, _ := newTestClient(t, mux)
	if _, err := client.Comments(context.Background(), "ABC-1", 0); err != nil {
		t.Fatalf("Comments failed: %v", err)
	}
}

func TestAddComment(t *testing.T) {
	var gotBody map[string]string
	mux := gatewayMux(t, map[string]http.HandlerFunc{
		"POST /ex/jira/tenant-1/rest/api/3/issue/ABC-1/comment": func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
				t.Errorf("decoding body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		},
	})

	client, _ := newTestClient(t, mux)

	if err := client.AddComment(context.Background(), "ABC-1", "looks good"); err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if gotBody["body"] != "looks good" {
		t.Errorf("comment body = %v", gotBody)
	}
}

func TestOperationsFailFastWhenNotAuthenticated(t *testing.T) {
	mux := gatewayMux(t, nil)
	client, store := newTestClient(t, mux)

	// Drop the token: every operation must fail before any tenant call
	if err := store.Remove(context.Background(), credstore.KeyToken); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	ctx := context.Background()
	operations := map[string]func() error{
		"Me":              func() error { _, err := client.Me(ctx); return err },
		"Myself":          func() error { _, err := client.Myself(ctx); return err },
		"Projects":        func() error { _, err := client.Projects(ctx); return err },
		"Issues":          func() error { _, err := client.Issues(ctx, "ABC"); return err },
		"Transitions":     func() error { _, err := client.Transitions(ctx, "ABC-1"); return err },
		"ApplyTransition": func() error { return client.ApplyTransition(ctx, "ABC-1", "31") },
		"Comments":        func() error { _, err := client.Comments(ctx, "ABC-1", 3); return err },
		"AddComment":      func() error { return client.AddComment(ctx, "ABC-1", "text") },
	}

	for name, op := range operations {
		if err := op(); !errors.Is(err, session.ErrNotAuthenticated) {
			t.Errorf("%s error = %v, want ErrNotAuthenticated", name, err)
		}
	}
}
