package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/jira-bridge/internal/app"
	"github.com/florianilch/jira-bridge/internal/observability"
	"github.com/florianilch/jira-bridge/internal/session"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "jirabridge",
		Usage: "Atlassian OAuth bridge for Jira issue tracking",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			loginCommand(),
			logoutCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the command server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|auto)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.StringFlag{
				Name:  "upstream--api-base-url",
				Usage: "Atlassian API gateway base URL",
				Value: app.DefaultConfigAPIBaseURL,
			},
			&cli.StringFlag{
				Name:  "upstream--auth-base-url",
				Usage: "Atlassian authorization server base URL",
				Value: app.DefaultConfigAuthBaseURL,
			},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	err = observability.Instrument(cfg.LogLevel, string(cfg.LogFormat), cfg.LogExporter)
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() { _ = observability.Shutdown(context.Background()) }()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:   "login",
		Usage:  "run the interactive authorization flow and store the session",
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	sess, err := newSessionManager(cmd)
	if err != nil {
		return err
	}

	flow := &session.Flow{Manager: sess}
	if _, err := flow.Run(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	slog.InfoContext(ctx, "logged in")
	return nil
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "remove the stored session",
		Action: logoutAction,
	}
}

func logoutAction(ctx context.Context, cmd *cli.Command) error {
	sess, err := newSessionManager(cmd)
	if err != nil {
		return err
	}

	if err := sess.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	slog.InfoContext(ctx, "logged out")
	return nil
}

// newSessionManager builds a session manager from config for the
// standalone login/logout commands.
func newSessionManager(cmd *cli.Command) (*session.Manager, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat), cfg.LogExporter); err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	store, err := cfg.Auth.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	return session.NewManager(store, session.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		RedirectURL:  cfg.Auth.RedirectURL,
		AuthBaseURL:  cfg.Upstream.AuthBaseURL,
	})
}
