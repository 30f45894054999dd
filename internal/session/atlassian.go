package session

import (
	"golang.org/x/oauth2"
)

// Default Atlassian OAuth2 endpoints and request constants.
const (
	// DefaultAuthBaseURL is the Atlassian account authorization server.
	DefaultAuthBaseURL = "https://auth.atlassian.com"

	// DefaultAudience is the API audience required on every authorization request.
	DefaultAudience = "api.atlassian.com"
)

// Endpoint returns the OAuth2 endpoints for the given authorization server base URL.
// Atlassian's token endpoint expects client credentials in the request body.
func Endpoint(authBaseURL string) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   authBaseURL + "/authorize",
		TokenURL:  authBaseURL + "/oauth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// scopes defines the granted capability set. offline_access is mandatory:
// it is the sole way the provider issues a refresh token. write:jira-work
// is required for transitions and comments.
var scopes = []string{
	"read:jira-user",
	"read:jira-work",
	"write:jira-work",
	"read:me",
	"offline_access",
}
