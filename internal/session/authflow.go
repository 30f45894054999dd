package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/skratchdot/open-golang/open"
)

const authorizedPage = `<!DOCTYPE html><html><body>
<p>Authorization received. You can close this window.</p>
</body></html>`

// Flow runs the interactive authorization-code flow: it serves the loopback
// redirect endpoint, opens the user's browser on the authorization URL, and
// completes authorization with the redirect it receives.
type Flow struct {
	Manager *Manager

	// OpenBrowser opens the authorization URL. Defaults to the system browser.
	OpenBrowser func(url string) error
}

// Run blocks until the redirect arrives or ctx is cancelled. The state
// parameter of the redirect must match the freshly generated anti-replay
// value or the flow fails with AuthorizationError.
func (f *Flow) Run(ctx context.Context) (*TokenRecord, error) {
	authURL, state := f.Manager.AuthURL()

	redirect, err := url.Parse(f.Manager.RedirectURL())
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	// Listen synchronously so a port-in-use error surfaces before the
	// browser opens
	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}

	redirectCh := make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html;charset=utf-8")
		_, _ = w.Write([]byte(authorizedPage))

		select {
		case redirectCh <- f.Manager.RedirectURL() + "?" + r.URL.RawQuery:
		default:
			// A redirect already arrived; ignore duplicates
		}
	})

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Surfaced through the ctx/redirect select below as a stalled flow;
			// nothing useful to do here
			_ = err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	openBrowser := f.OpenBrowser
	if openBrowser == nil {
		openBrowser = open.Start
	}
	if err := openBrowser(authURL); err != nil {
		return nil, fmt.Errorf("opening browser: %w", err)
	}

	var redirectURL string
	select {
	case redirectURL = <-redirectCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return nil, &AuthorizationError{Reason: fmt.Sprintf("malformed redirect URL: %v", err)}
	}
	if parsed.Query().Get("state") != state {
		return nil, &AuthorizationError{Reason: "state mismatch"}
	}

	return f.Manager.CompleteAuthorization(ctx, redirectURL)
}
