// Package credstore provides durable key/value persistence for session
// credentials and small derived caches.
//
// Supports three storage backends with different security and deployment tradeoffs:
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Memory: Process-local storage for tests and ephemeral sessions
//
// Entries are atomic per key. The store holds the active token record, the
// per-tenant estimation field-key cache, and the last selected project context.
package credstore
