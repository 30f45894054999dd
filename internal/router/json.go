package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the single response shape of the command contract. A success
// carries "ok": true plus the payload keys; a failure carries "ok": false and
// an error string. The boundary never responds with anything else.
type envelope map[string]any

// ok builds a success envelope with the given payload keys.
func ok(payload envelope) envelope {
	result := envelope{"ok": true}
	for key, value := range payload {
		result[key] = value
	}
	return result
}

// fail builds a failure envelope from an error.
func fail(err error) envelope {
	return envelope{"ok": false, "error": err.Error()}
}

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}
