package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/florianilch/jira-bridge/internal/credstore"
	"github.com/florianilch/jira-bridge/internal/jira"
	"github.com/florianilch/jira-bridge/internal/session"
)

// Command message types of the inbound contract.
const (
	CommandLogin          = "LOGIN"
	CommandGetProfile     = "GET_PROFILE"
	CommandGetTenant      = "GET_TENANT_PROFILE"
	CommandGetProjects    = "GET_PROJECTS"
	CommandGetIssues      = "GET_ISSUES"
	CommandGetTransitions = "GET_TRANSITIONS"
	CommandApply          = "APPLY_TRANSITION"
	CommandGetComments    = "GET_COMMENTS"
	CommandAddComment     = "ADD_COMMENT"
	CommandGetLastContext = "GET_LAST_CONTEXT"
	CommandLogout         = "LOGOUT"
)

// Command is one inbound request message.
type Command struct {
	Type         string `json:"type"`
	ProjectKey   string `json:"projectKey,omitempty"`
	IssueKey     string `json:"issueKey,omitempty"`
	TransitionID string `json:"transitionId,omitempty"`
	MaxResults   int    `json:"maxResults,omitempty"`
	Text         string `json:"text,omitempty"`
}

// LoginFunc runs the interactive authorization flow and returns the new
// token record.
type LoginFunc func(ctx context.Context) (*session.TokenRecord, error)

// Router receives external command messages, dispatches them to the API
// client, and returns success/error envelopes. Failures never cross the
// boundary as anything but an envelope.
type Router struct {
	client *jira.Client
	sess   *session.Manager
	store  credstore.Store
	login  LoginFunc

	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Router implements http.Handler
var _ http.Handler = (*Router)(nil)

// New creates a Router over the given API client, session manager, and
// credential store. login drives the LOGIN command's interactive flow.
func New(client *jira.Client, sess *session.Manager, store credstore.Store, login LoginFunc) (*Router, error) {
	if client == nil {
		return nil, fmt.Errorf("missing API client")
	}
	if sess == nil {
		return nil, fmt.Errorf("missing session manager")
	}
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}
	if login == nil {
		return nil, fmt.Errorf("missing login function")
	}

	rt := &Router{
		client: client,
		sess:   sess,
		store:  store,
		login:  login,
	}

	logger := slog.Default()

	mux := http.NewServeMux()
	mux.Handle("POST /command", applyMiddlewares(http.HandlerFunc(rt.handleCommand),
		Logging(logger),
		Recovery,
	))
	rt.mux = mux

	return rt, nil
}

// ServeHTTP implements http.Handler interface
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

// handleCommand decodes one command message, dispatches it, and writes the
// response envelope. Every failure is caught and translated; the boundary
// never re-throws.
func (rt *Router) handleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(ctx, w, fail(fmt.Errorf("invalid command message: %w", err)), http.StatusBadRequest)
		return
	}

	writeJSON(ctx, w, rt.dispatch(ctx, cmd), http.StatusOK)
}

// dispatch routes one command to the API client or session manager.
func (rt *Router) dispatch(ctx context.Context, cmd Command) envelope {
	switch cmd.Type {
	case CommandLogin:
		token, err := rt.login(ctx)
		if err != nil {
			return fail(err)
		}
		return ok(envelope{"token": token})

	case CommandGetProfile:
		profile, err := rt.client.Me(ctx)
		if err != nil {
			return fail(err)
		}
		return ok(envelope{"profile": profile})

	case CommandGetTenant:
		profile, err := rt.client.Myself(ctx)
		if err != nil {
			return fail(err)
		}
		return ok(envelope{"profile": profile})

	case CommandGetProjects:
		projects, err := rt.client.Projects(ctx)
		if err != nil {
			return fail(err)
		}
		return ok(envelope{"projects": projects})

	case CommandGetIssues:
		if cmd.ProjectKey == "" {
			return fail(errors.New("projectKey is required"))
		}
		issues, err := rt.client.Issues(ctx, cmd.ProjectKey)
		if err != nil {
			return fail(err)
		}
		// Remember the selection so UI callers can restore it
		if err := rt.store.Set(ctx, credstore.KeyLastContext, cmd.ProjectKey); err != nil {
			slog.WarnContext(ctx, "failed to persist last context", "error", err)
		}
		return ok(envelope{"issues": issues})

	case CommandGetTransitions:
		if cmd.IssueKey == "" {
			return fail(errors.New("issueKey is required"))
		}
		transitions, err := rt.client.Transitions(ctx, cmd.IssueKey)
		if err != nil {
			return fail(err)
		}
		return ok(envelope{"transitions": transitions})

	case CommandApply:
		if cmd.IssueKey == "" || cmd.TransitionID == "" {
			return fail(errors.New("issueKey and transitionId are required"))
		}
		if err := rt.client.ApplyTransition(ctx, cmd.IssueKey, cmd.TransitionID); err != nil {
			return fail(err)
		}
		return ok(nil)

	case CommandGetComments:
		if cmd.IssueKey == "" {
			return fail(errors.New("issueKey is required"))
		}
		comments, err := rt.client.Comments(ctx, cmd.IssueKey, cmd.MaxResults)
		if err != nil {
			return fail(err)
		}
		return ok(envelope{"comments": comments})

	case CommandAddComment:
		if cmd.IssueKey == "" || cmd.Text == "" {
			return fail(errors.New("issueKey and text are required"))
		}
		if err := rt.client.AddComment(ctx, cmd.IssueKey, cmd.Text); err != nil {
			return fail(err)
		}
		return ok(nil)

	case CommandGetLastContext:
		projectKey, _, err := rt.store.Get(ctx, credstore.KeyLastContext)
		if err != nil {
			return fail(err)
		}
		return ok(envelope{"projectKey": projectKey})

	case CommandLogout:
		if err := rt.sess.Logout(ctx); err != nil {
			return fail(err)
		}
		return ok(nil)

	default:
		return fail(fmt.Errorf("unknown command %q", cmd.Type))
	}
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (rt *Router) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	rt.server = &http.Server{
		Handler:      rt,
		ReadTimeout:  30 * time.Second, // Read entire client request (DoS protection against slow clients)
		WriteTimeout: 5 * time.Minute,  // Bounded, but long enough for an interactive LOGIN round trip
		IdleTimeout:  90 * time.Second, // Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := rt.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (rt *Router) Shutdown(ctx context.Context) error {
	if rt.server == nil {
		return nil
	}

	if err := rt.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = rt.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
