package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/jira-bridge/internal/credstore"
	"github.com/florianilch/jira-bridge/internal/observability"
	"github.com/florianilch/jira-bridge/internal/session"
	"github.com/florianilch/jira-bridge/internal/tenant"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = observability.FormatText
	LogFormatJSON LogFormat = observability.FormatJSON
	LogFormatAuto LogFormat = observability.FormatAuto
)

// CredentialStorageType represents the storage backends supported for the
// credential store.
type CredentialStorageType string

const (
	CredentialStorageTypeFile    CredentialStorageType = "file"
	CredentialStorageTypeKeyring CredentialStorageType = "keyring"
	CredentialStorageTypeMemory  CredentialStorageType = "memory"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatAuto
	DefaultConfigLogExporter     = observability.ExporterNone
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4114
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigAuthStorage     = CredentialStorageTypeFile
	DefaultConfigRedirectURL     = "http://127.0.0.1:8974/callback"
	DefaultConfigAuthBaseURL     = session.DefaultAuthBaseURL
	DefaultConfigAPIBaseURL      = tenant.DefaultAPIBaseURL
	defaultKeyringService        = "jira-bridge"
)

// ServerConfig holds the command server configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// UpstreamConfig holds the Atlassian endpoint configuration. Overridable for
// tests and mirror deployments.
type UpstreamConfig struct {
	AuthBaseURL string `json:"auth_base_url" validate:"required,url"`
	APIBaseURL  string `json:"api_base_url" validate:"required,url"`
}

// AuthConfig represents the OAuth client registration and where session
// credentials persist.
type AuthConfig struct {
	// Storage configuration - where the credential store persists
	Storage CredentialStorageType `json:"storage" validate:"required,oneof=file keyring memory"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File           string `json:"file,omitempty"`            // For file storage: path to the credential file
	KeyringService string `json:"keyring_service,omitempty"` // For keyring storage: service identifier

	// OAuth client registration
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url" validate:"required,url"`
}

// NewStore creates a credential store from the authentication configuration.
func (a *AuthConfig) NewStore() (credstore.Store, error) {
	switch a.Storage {
	case CredentialStorageTypeFile:
		return credstore.NewFileStore(a.File)
	case CredentialStorageTypeKeyring:
		return credstore.NewKeyringStore(a.KeyringService)
	case CredentialStorageTypeMemory:
		return credstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level     `json:"log_level"`
	LogFormat   LogFormat      `json:"log_format" validate:"oneof=text json auto"`
	LogExporter string         `json:"log_exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
	Server      ServerConfig   `json:"server"`
	Shutdown    ShutdownConfig `json:"shutdown"`
	Upstream    UpstreamConfig `json:"upstream"`
	Auth        AuthConfig     `json:"auth"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.LogExporter == "" {
		c.LogExporter = DefaultConfigLogExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Upstream.AuthBaseURL == "" {
		c.Upstream.AuthBaseURL = DefaultConfigAuthBaseURL
	}
	if c.Upstream.APIBaseURL == "" {
		c.Upstream.APIBaseURL = DefaultConfigAPIBaseURL
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Auth.RedirectURL == "" {
		c.Auth.RedirectURL = DefaultConfigRedirectURL
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case CredentialStorageTypeFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "jira-bridge", "credentials.json")
		}
	case CredentialStorageTypeKeyring:
		if c.Auth.KeyringService == "" {
			c.Auth.KeyringService = defaultKeyringService
		}
	case CredentialStorageTypeMemory:
		// No settings; session state is lost on restart
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.Storage {
	case CredentialStorageTypeFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case CredentialStorageTypeKeyring:
		if c.Auth.KeyringService == "" {
			return errors.New("keyring_service required for keyring storage")
		}
	}

	return nil
}
