// Package jira is a thin dispatch layer over the tenant-scoped Jira REST API.
//
// Every logical operation obtains a valid access token from the session
// manager, resolves the tenant identifier, and issues a single HTTP call,
// normalizing the response shape for callers. Payloads pass through as raw
// JSON; the one normalization is the per-tenant estimation field, exposed
// under a consistent key on every issue.
package jira
