package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/jira-bridge/internal/jira"
	"github.com/florianilch/jira-bridge/internal/router"
	"github.com/florianilch/jira-bridge/internal/session"
	"github.com/florianilch/jira-bridge/internal/tenant"
)

// App orchestrates the lifecycle of the command server and related services.
type App struct {
	cfg    *Config
	router *router.Router
}

// New creates a new App instance, wiring the credential store, session
// manager, tenant resolver, API client, and command router.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Auth.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	sess, err := session.NewManager(store, session.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		RedirectURL:  cfg.Auth.RedirectURL,
		AuthBaseURL:  cfg.Upstream.AuthBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	tenants, err := tenant.NewResolver(store, tenant.WithBaseURL(cfg.Upstream.APIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant resolver: %w", err)
	}

	client, err := jira.NewClient(sess, tenants, jira.WithBaseURL(cfg.Upstream.APIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	flow := &session.Flow{Manager: sess}
	commandRouter, err := router.New(client, sess, store, flow.Run)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	return &App{
		cfg:    cfg,
		router: commandRouter,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting command server", "address", address)
	routerErrCh, err := a.router.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("command server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.router.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-routerErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "command server runtime error", "error", err)
				return fmt.Errorf("command server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
