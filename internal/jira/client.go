package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/florianilch/jira-bridge/internal/session"
	"github.com/florianilch/jira-bridge/internal/tenant"
)

// issuePageSize bounds issue search results to a small fixed page.
const issuePageSize = 3

// DefaultCommentPageSize caps comment listings when the caller passes no limit.
const DefaultCommentPageSize = 3

// EstimationFieldName is the consistent output key under which every issue's
// estimation value is exposed, regardless of the tenant's actual custom-field
// identifier.
const EstimationFieldName = "storyPoints"

// UpstreamError indicates a downstream REST call returned a non-success status.
type UpstreamError struct {
	Op         string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Op, e.StatusCode)
}

// Client proxies read/write operations against the tenant-scoped Jira REST
// API. Every operation follows the same template: obtain a valid access token,
// resolve the tenant, issue exactly one HTTP call. Failures propagate to the
// caller; write operations are single non-idempotent calls with no retry.
type Client struct {
	session    *session.Manager
	tenants    *tenant.Resolver
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for REST calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBaseURL overrides the API gateway base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// NewClient creates a Client over the given session manager and tenant resolver.
func NewClient(sess *session.Manager, tenants *tenant.Resolver, opts ...Option) (*Client, error) {
	if sess == nil {
		return nil, fmt.Errorf("missing session manager")
	}
	if tenants == nil {
		return nil, fmt.Errorf("missing tenant resolver")
	}

	c := &Client{
		session: sess,
		tenants: tenants,
		baseURL: tenant.DefaultAPIBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c, nil
}

// Me fetches the provider-level account profile. Provider identity needs no
// tenant resolution.
func (c *Client) Me(ctx context.Context) (json.RawMessage, error) {
	access, err := c.session.ValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, access, c.baseURL+"/me", "profile")
}

// Myself fetches the tenant-scoped identity of the authenticated user.
func (c *Client) Myself(ctx context.Context) (json.RawMessage, error) {
	access, tenantID, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, access, c.tenantURL(tenantID, "/myself"), "tenant profile")
}

// Projects lists the projects visible to the authenticated user.
func (c *Client) Projects(ctx context.Context) (json.RawMessage, error) {
	access, tenantID, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, access, c.tenantURL(tenantID, "/project"), "projects")
}

// Issues searches a project's issues ordered by last update, newest first,
// limited to a small fixed page. Each issue's fields gain the estimation
// value under EstimationFieldName, read from the tenant's resolved
// custom-field key.
func (c *Client) Issues(ctx context.Context, projectKey string) ([]map[string]any, error) {
	access, tenantID, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	fieldKey, err := c.tenants.FieldKey(ctx, access, tenantID)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"jql":        {fmt.Sprintf("project = %s ORDER BY updated DESC", projectKey)},
		"maxResults": {strconv.Itoa(issuePageSize)},
		"fields":     {"summary,issuetype,status,priority,comment," + fieldKey},
	}

	raw, err := c.get(ctx, access, c.tenantURL(tenantID, "/search")+"?"+params.Encode(), "issues")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Issues []map[string]any `json:"issues"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding issue search: %w", err)
	}

	// Normalize the estimation value to a consistent key for callers
	for _, issue := range payload.Issues {
		if fields, ok := issue["fields"].(map[string]any); ok {
			fields[EstimationFieldName] = fields[fieldKey]
		}
	}
	return payload.Issues, nil
}

// Transitions lists the transitions currently available on an issue.
func (c *Client) Transitions(ctx context.Context, issueKey string) (json.RawMessage, error) {
	access, tenantID, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := c.get(ctx, access, c.tenantURL(tenantID, "/issue/"+issueKey+"/transitions"), "transitions")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Transitions json.RawMessage `json:"transitions"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding transitions: %w", err)
	}
	if payload.Transitions == nil {
		return json.RawMessage("[]"), nil
	}
	return payload.Transitions, nil
}

// ApplyTransition moves an issue through the transition with the given id.
// A single non-idempotent call; a failure surfaces verbatim and the caller
// decides whether to retry.
func (c *Client) ApplyTransition(ctx context.Context, issueKey, transitionID string) error {
	access, tenantID, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{"transition": map[string]string{"id": transitionID}}
	return c.post(ctx, access, c.tenantURL(tenantID, "/issue/"+issueKey+"/transitions"), body, "transition")
}

// Comments lists an issue's comments, newest first, capped at maxResults
// (DefaultCommentPageSize when zero or negative).
func (c *Client) Comments(ctx context.Context, issueKey string, maxResults int) (json.RawMessage, error) {
	access, tenantID, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	if maxResults <= 0 {
		maxResults = DefaultCommentPageSize
	}
	params := url.Values{
		"maxResults": {strconv.Itoa(maxResults)},
		"orderBy":    {"-created"},
	}

	raw, err := c.get(ctx, access, c.tenantURL(tenantID, "/issue/"+issueKey+"/comment")+"?"+params.Encode(), "comments")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Comments json.RawMessage `json:"comments"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding comments: %w", err)
	}
	if payload.Comments == nil {
		return json.RawMessage("[]"), nil
	}
	return payload.Comments, nil
}

// AddComment appends a comment to an issue. Single non-idempotent call,
// no retry.
func (c *Client) AddComment(ctx context.Context, issueKey, text string) error {
	access, tenantID, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	return c.post(ctx, access, c.tenantURL(tenantID, "/issue/"+issueKey+"/comment"), map[string]string{"body": text}, "add comment")
}

// authenticate runs the shared prefix of every tenant-scoped operation:
// valid token first, then tenant resolution, strictly sequential.
func (c *Client) authenticate(ctx context.Context) (access, tenantID string, err error) {
	access, err = c.session.ValidAccessToken(ctx)
	if err != nil {
		return "", "", err
	}
	tenantID, err = c.tenants.Resolve(ctx, access)
	if err != nil {
		return "", "", err
	}
	return access, tenantID, nil
}

// tenantURL builds a tenant-scoped REST v3 URL.
func (c *Client) tenantURL(tenantID, path string) string {
	return fmt.Sprintf("%s/ex/jira/%s/rest/api/3%s", c.baseURL, tenantID, path)
}

// get issues one bearer-authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, access, requestURL, op string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", op, err)
	}
	return body, nil
}

// post issues one bearer-authenticated JSON POST, discarding the response body.
func (c *Client) post(ctx context.Context, access, requestURL string, body any, op string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode}
	}
	return nil
}
