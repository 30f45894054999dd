package session

import "time"

// expiryMargin is subtracted from the provider-declared lifetime to avoid
// racing provider-side expiry.
const expiryMargin = 30 * time.Second

// TokenRecord is the unit of authentication state, persisted as JSON in the
// credential store. Created by the authorization-code exchange, mutated in
// place by refresh, removed on logout.
type TokenRecord struct {
	// AccessToken is the opaque bearer credential.
	AccessToken string `json:"access_token"`

	// RefreshToken is present only if the provider granted offline access.
	// A refresh response may omit it, in which case the previous value is
	// retained, never overwritten with empty.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope and TokenType are provider metadata, passed through unchanged.
	Scope     string `json:"scope"`
	TokenType string `json:"token_type"`

	// ExpiresIn is the provider-declared seconds-to-live, used only to
	// compute ExpiresAt.
	ExpiresIn int64 `json:"expires_in"`

	// ExpiresAt is the derived expiry instant in Unix milliseconds,
	// recomputed on every write, never copied from a prior record.
	ExpiresAt int64 `json:"expires_at"`
}

// stamp recomputes ExpiresAt from ExpiresIn relative to now.
func (r *TokenRecord) stamp(now time.Time) {
	r.ExpiresAt = now.Add(time.Duration(r.ExpiresIn)*time.Second - expiryMargin).UnixMilli()
}

// valid reports whether the access token is still usable at now.
func (r *TokenRecord) valid(now time.Time) bool {
	return now.UnixMilli() < r.ExpiresAt
}
