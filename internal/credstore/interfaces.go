package credstore

import "context"

// Store reads and writes opaque key/value entries to persistent storage.
//
// Values are opaque strings (typically JSON-encoded records). Operations are
// atomic per key; no multi-key transactional guarantee is made. Callers must
// re-check state after any mutating call rather than trust a previously read
// value, since a concurrent Remove is authoritative.
type Store interface {
	// Get returns the stored value for key. The boolean reports whether the
	// key was present; absence is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set persists value under key, overwriting any existing entry.
	Set(ctx context.Context, key, value string) error

	// Remove deletes the given keys. Removing an absent key is not an error.
	Remove(ctx context.Context, keys ...string) error
}

// Well-known store keys. Ownership: only the session manager writes KeyToken;
// only the tenant resolver writes field-key entries.
const (
	// KeyToken holds the JSON-encoded token record for the active session.
	KeyToken = "token"

	// KeyLastContext holds the last selected project key, restored by UI callers.
	KeyLastContext = "last_context"

	// FieldKeyPrefix prefixes per-tenant estimation field-key cache entries.
	// The full key is FieldKeyPrefix + tenantID.
	FieldKeyPrefix = "field_key."
)
