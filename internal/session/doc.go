// Package session owns the OAuth2 token lifecycle for an Atlassian account:
// the authorization-code exchange, silent refresh, expiry checks, and logout.
//
// Atlassian's token endpoint deviates from standard OAuth2 in one critical way
// that requires custom handling:
//   - Token exchange and refresh use JSON-encoded requests (standard OAuth2 uses form-encoding)
//
// # Lifecycle
//
// The Manager is the sole writer of the credential store's token entry.
// The session moves through three states:
//
//	Unauthenticated -> Authenticated(valid) -> Authenticated(expired)
//
// Completing authorization enters Authenticated(valid); expiry is a pure
// function of time; a successful refresh re-enters Authenticated(valid);
// an expired session with no refresh token, or an explicit Logout, drops
// back to Unauthenticated. A failed refresh does not transition state: the
// stale record stays in place and the error surfaces to the caller.
//
// # Interactive flow
//
// Flow drives the full interactive login: it serves the loopback redirect
// endpoint, opens the browser, verifies the anti-replay state value, and
// hands the redirect to Manager.CompleteAuthorization.
package session
