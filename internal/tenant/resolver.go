package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/florianilch/jira-bridge/internal/credstore"
)

// ErrNoAccessibleTenant is returned when the authenticated account has no
// accessible sites or the discovery response is malformed.
var ErrNoAccessibleTenant = errors.New("no accessible tenant")

// DefaultAPIBaseURL is the Atlassian API gateway serving tenant discovery
// and tenant-scoped resources.
const DefaultAPIBaseURL = "https://api.atlassian.com"

// DefaultEstimationFieldKey is the conventional Jira custom-field key for
// story points, used when the tenant's field catalog yields no match.
const DefaultEstimationFieldKey = "customfield_10016"

// estimationFieldPattern matches display names of estimation fields,
// tolerant of singular/plural.
var estimationFieldPattern = regexp.MustCompile(`(?i)story points?`)

// FieldKeyEntry is the cached per-tenant estimation field key. Provenance is
// recorded so a pinned fallback can be distinguished from a catalog match
// and revalidated later.
type FieldKeyEntry struct {
	Key string `json:"key"`

	// Matched reports whether Key came from a field-catalog match. A false
	// value means the fixed default was pinned after a failed or empty lookup.
	Matched bool `json:"matched"`
}

// Resolver discovers the addressable tenant identifier for the authenticated
// account and the tenant-specific estimation field key. The resolver caches
// nothing itself; field keys are cached in the credential store, and the
// tenant identifier is derived fresh on every call.
type Resolver struct {
	store      credstore.Store
	httpClient *http.Client
	baseURL    string

	// revalidated tracks fallback entries already re-attempted this process
	// run, so a pinned fallback is retried at most once per session.
	revalidatedMu sync.Mutex
	revalidated   map[string]bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets a custom HTTP client for discovery requests.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithBaseURL overrides the API gateway base URL.
func WithBaseURL(baseURL string) Option {
	return func(r *Resolver) {
		r.baseURL = baseURL
	}
}

// NewResolver creates a Resolver backed by the given credential store.
func NewResolver(store credstore.Store, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}

	r := &Resolver{
		store:       store,
		baseURL:     DefaultAPIBaseURL,
		revalidated: map[string]bool{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return r, nil
}

// accessibleResource is one entry of the accessible-resources response.
type accessibleResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Resolve returns the tenant identifier for the authenticated account.
//
// Policy: always the first entry of the accessible-resources list. The bridge
// supports exactly one active tenant per account session; multi-tenant
// accounts are not disambiguated.
func (r *Resolver) Resolve(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/oauth/token/accessible-resources", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tenant discovery: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tenant discovery: status %d", resp.StatusCode)
	}

	var resources []accessibleResource
	if err := json.NewDecoder(resp.Body).Decode(&resources); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoAccessibleTenant, err)
	}
	if len(resources) == 0 || resources[0].ID == "" {
		return "", ErrNoAccessibleTenant
	}

	return resources[0].ID, nil
}

// catalogField is one entry of the tenant's field catalog.
type catalogField struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Schema struct {
		Type string `json:"type"`
	} `json:"schema"`
}

// FieldKey returns the tenant-specific custom-field key for the estimation
// attribute, consulting the per-tenant cache in the credential store first.
//
// On a cache miss the tenant's field catalog is searched for a number-typed
// field whose display name matches the estimation pattern. No match, or a
// failed fetch, degrades to the fixed default key; the fallback is cached too,
// so repeated failed lookups don't hammer the catalog endpoint. Fallback
// entries are re-attempted once per process run.
func (r *Resolver) FieldKey(ctx context.Context, accessToken, tenantID string) (string, error) {
	cacheKey := credstore.FieldKeyPrefix + tenantID

	if value, ok, err := r.store.Get(ctx, cacheKey); err == nil && ok {
		var entry FieldKeyEntry
		if err := json.Unmarshal([]byte(value), &entry); err == nil && entry.Key != "" {
			if entry.Matched || r.alreadyRevalidated(tenantID) {
				return entry.Key, nil
			}
			// Pinned fallback: fall through to one revalidation attempt
		}
	}

	entry := FieldKeyEntry{Key: DefaultEstimationFieldKey}
	if key, err := r.lookupFieldKey(ctx, accessToken, tenantID); err != nil {
		slog.DebugContext(ctx, "field catalog lookup failed, using default key", "tenant", tenantID, "error", err)
	} else if key != "" {
		entry = FieldKeyEntry{Key: key, Matched: true}
	}
	if !entry.Matched {
		r.markRevalidated(tenantID)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	if err := r.store.Set(ctx, cacheKey, string(data)); err != nil {
		return "", fmt.Errorf("caching field key: %w", err)
	}

	return entry.Key, nil
}

// alreadyRevalidated reports whether a fallback for tenantID was already
// pinned or re-attempted during this process run.
func (r *Resolver) alreadyRevalidated(tenantID string) bool {
	r.revalidatedMu.Lock()
	defer r.revalidatedMu.Unlock()
	return r.revalidated[tenantID]
}

// markRevalidated records that a fallback for tenantID was pinned this run,
// suppressing further catalog fetches until the next process start.
func (r *Resolver) markRevalidated(tenantID string) {
	r.revalidatedMu.Lock()
	defer r.revalidatedMu.Unlock()
	r.revalidated[tenantID] = true
}

// lookupFieldKey fetches the tenant's field catalog and returns the key of
// the first matching estimation field, or empty when nothing matches.
func (r *Resolver) lookupFieldKey(ctx context.Context, accessToken, tenantID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/ex/jira/%s/rest/api/3/field", r.baseURL, tenantID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("field catalog: status %d", resp.StatusCode)
	}

	var fields []catalogField
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return "", fmt.Errorf("decoding field catalog: %w", err)
	}

	for _, field := range fields {
		if field.Schema.Type == "number" && estimationFieldPattern.MatchString(field.Name) {
			return field.ID, nil
		}
	}
	return "", nil
}
