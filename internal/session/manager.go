package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/jira-bridge/internal/credstore"
)

// Config describes the OAuth2 client registration used by a Manager.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthBaseURL overrides the authorization server (defaults to Atlassian).
	AuthBaseURL string

	// Audience overrides the authorization request audience.
	Audience string
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets a custom HTTP client for token endpoint requests.
// If not provided, a client with a 30 second timeout is used.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithClock sets a custom time source, used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the authorization-code exchange, refresh, and expiry-check
// logic. It is the sole writer of the credential store's token entry; all
// other components receive tokens by read-only value.
//
// Safe for concurrent use: a singleflight group de-duplicates in-flight
// refreshes so that concurrent expired-token reads share one refresh call.
type Manager struct {
	store      credstore.Store
	oauth      *oauth2.Config
	audience   string
	httpClient *http.Client
	now        func() time.Time

	refreshGroup singleflight.Group
	writeMu      sync.Mutex
}

// NewManager creates a Manager over the given credential store.
func NewManager(store credstore.Store, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("missing client id")
	}
	if _, err := url.Parse(cfg.RedirectURL); err != nil || cfg.RedirectURL == "" {
		return nil, fmt.Errorf("invalid redirect URL %q", cfg.RedirectURL)
	}

	authBaseURL := cfg.AuthBaseURL
	if authBaseURL == "" {
		authBaseURL = DefaultAuthBaseURL
	}
	audience := cfg.Audience
	if audience == "" {
		audience = DefaultAudience
	}

	m := &Manager{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     Endpoint(authBaseURL),
		},
		audience: audience,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.httpClient == nil {
		// Bounds token endpoint calls even when the caller context has no deadline
		m.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return m, nil
}

// AuthURL builds the authorization request URL and a fresh anti-replay state
// value. prompt=consent forces re-consent on every login; there is no silent
// re-auth path.
func (m *Manager) AuthURL() (authURL, state string) {
	state = uuid.NewString()
	authURL = m.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", m.audience),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return authURL, state
}

// CompleteAuthorization extracts the authorization code from the redirect URL
// and exchanges it for a token record, which is persisted and returned.
// Returns AuthorizationError if the upstream flow reported an error or the
// redirect carries no code, and TokenExchangeError if the exchange fails.
func (m *Manager) CompleteAuthorization(ctx context.Context, redirectURL string) (*TokenRecord, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return nil, &AuthorizationError{Reason: fmt.Sprintf("malformed redirect URL: %v", err)}
	}

	query := parsed.Query()
	if upstreamErr := query.Get("error"); upstreamErr != "" {
		return nil, &AuthorizationError{Reason: upstreamErr}
	}
	code := query.Get("code")
	if code == "" {
		return nil, &AuthorizationError{Reason: "no code in redirect"}
	}

	// Atlassian's token endpoint expects JSON-encoded requests; route the
	// oauth2 exchange through the form-to-JSON transport.
	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Timeout:   m.httpClient.Timeout,
		Transport: &tokenRequestTransport{base: transportOf(m.httpClient)},
	})

	token, err := m.oauth.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, &TokenExchangeError{Err: err}
	}

	record := &TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		record.Scope = scope
	}

	if err := m.writeRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting token record: %w", err)
	}
	return record, nil
}

// ValidAccessToken returns a usable access token for the current session.
//
// The common path is a store read with zero network calls: an unexpired token
// is returned unchanged. An expired token with a refresh token triggers a
// refresh exchange. Returns ErrNotAuthenticated when no record exists or the
// record is expired with no refresh token.
func (m *Manager) ValidAccessToken(ctx context.Context) (string, error) {
	record, ok, err := m.readRecord(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotAuthenticated
	}

	if record.valid(m.now()) {
		return record.AccessToken, nil
	}

	if record.RefreshToken == "" {
		// Expired with no refresh token: unrecoverable without re-authorization
		return "", ErrNotAuthenticated
	}

	refreshed, err := m.Refresh(ctx, record.RefreshToken)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges the refresh token for a new token record, which is
// persisted and returned. A response that omits a refresh token preserves the
// previously stored one. On failure the stale record is left in place.
//
// Concurrent callers share a single in-flight refresh: the first caller to
// detect expiry issues the exchange and the rest await its result.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenRecord, error) {
	result, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx, refreshToken)
	})
	if err != nil {
		return nil, err
	}
	return result.(*TokenRecord), nil
}

// doRefresh performs one refresh-token exchange against the token endpoint.
func (m *Manager) doRefresh(ctx context.Context, refreshToken string) (*TokenRecord, error) {
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     m.oauth.ClientID,
		"client_secret": m.oauth.ClientSecret,
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.oauth.Endpoint.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RefreshError{StatusCode: resp.StatusCode}
	}

	record := &TokenRecord{}
	if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	// A refresh response may omit the refresh token; retain the prior value
	if record.RefreshToken == "" {
		if prior, ok, err := m.readRecord(ctx); err == nil && ok {
			record.RefreshToken = prior.RefreshToken
		}
	}

	if err := m.writeRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting refreshed record: %w", err)
	}
	return record, nil
}

// RedirectURL returns the configured OAuth2 redirect target.
func (m *Manager) RedirectURL() string {
	return m.oauth.RedirectURL
}

// Logout removes the token record from the credential store. Local-only
// invalidation; no provider-side revocation endpoint is called.
func (m *Manager) Logout(ctx context.Context) error {
	return m.store.Remove(ctx, credstore.KeyToken)
}

// readRecord loads the stored token record, if any.
func (m *Manager) readRecord(ctx context.Context) (*TokenRecord, bool, error) {
	value, ok, err := m.store.Get(ctx, credstore.KeyToken)
	if err != nil {
		return nil, false, fmt.Errorf("reading token record: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	record := &TokenRecord{}
	if err := json.Unmarshal([]byte(value), record); err != nil {
		return nil, false, fmt.Errorf("decoding token record: %w", err)
	}
	return record, true, nil
}

// writeRecord stamps and persists the record. Stamping here enforces the
// invariant that ExpiresAt is recomputed on every write.
func (m *Manager) writeRecord(ctx context.Context, record *TokenRecord) error {
	record.stamp(m.now())

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, credstore.KeyToken, string(data))
}

// transportOf returns the client's transport, falling back to the default.
func transportOf(client *http.Client) http.RoundTripper {
	if client.Transport != nil {
		return client.Transport
	}
	return http.DefaultTransport
}
