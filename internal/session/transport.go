package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// tokenRequestTransport converts oauth2's form-encoded token endpoint requests
// to the JSON format the Atlassian token endpoint expects.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type tokenRequestTransport struct {
	base http.RoundTripper
}

// Compile-time check that tokenRequestTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenRequestTransport)(nil)

// RoundTrip intercepts token endpoint requests and converts them from form-encoded to JSON.
func (t *tokenRequestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Defer close since we consume the body entirely and create a new body for the cloned request.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	// Convert all form data to JSON format
	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		jsonData[key] = values[0] // OAuth2 spec defines single-value parameters
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")

	return t.base.RoundTrip(newReq)
}
