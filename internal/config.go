package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration. The same file serves the
// sync client (storage, remote, crypt) and the reference note service
// (app.http, sqlite, auth).
type Config struct {
	App     ApplicationConfig `yaml:"app" toml:"app" ini:"app"`
	Storage StorageConfig     `yaml:"storage" toml:"storage" ini:"storage"`
	Remote  RemoteConfig      `yaml:"remote" toml:"remote" ini:"remote"`
	Crypt   CryptConfig       `yaml:"crypt" toml:"crypt" ini:"crypt"`
	SQLite  SQLiteConfig      `yaml:"sqlite" toml:"sqlite" ini:"sqlite"`
	Auth    AuthConfig        `yaml:"auth" toml:"auth" ini:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.Crypt.Validate(); err != nil {
		return fmt.Errorf("crypt: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel string `yaml:"log_level" toml:"log_level" ini:"log_level"`
	// LogFile, when set, sends logs to a size-rotated file instead of stderr.
	LogFile string     `yaml:"log_file" toml:"log_file" ini:"log_file"`
	HTTP    HTTPConfig `yaml:"http" toml:"http" ini:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("", "debug", "info", "warn", "error")),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// Level maps LogLevel onto slog. Unset means info.
func (c *ApplicationConfig) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port" ini:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig locates the local replica: the persisted index file and the
// note cache both live under Dir.
type StorageConfig struct {
	Dir string `yaml:"dir" toml:"dir" ini:"dir"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// RemoteConfig describes the remote note service and the client retry policy.
type RemoteConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint" ini:"endpoint"`
	Token    string `yaml:"token" toml:"token" ini:"token"`
	// Timeout bounds a single HTTP attempt.
	Timeout        time.Duration `yaml:"timeout" toml:"timeout" ini:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts" toml:"max_attempts" ini:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" toml:"initial_backoff" ini:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" toml:"max_backoff" ini:"max_backoff"`
	// Workers caps parallel note body downloads.
	Workers int `yaml:"workers" toml:"workers" ini:"workers"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(20)),
		validation.Field(&c.InitialBackoff, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxBackoff, validation.Min(c.InitialBackoff)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
	)
}

// CryptConfig enables client-side encryption of note bodies.
type CryptConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" ini:"enabled"`
	Key     string `yaml:"key" toml:"key" ini:"key"`
}

// Validate validates the crypt configuration.
func (c *CryptConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Key, validation.When(c.Enabled, validation.Required, validation.Length(16, 0))),
	)
}

// SQLiteConfig holds SQLite database configuration for the note service.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path" ini:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the note service.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode" ini:"mode"`
	Token string `yaml:"token" toml:"token" ini:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// DefaultStorageDir is <user config dir>/notesync, falling back to the
// working directory when the platform reports none.
func DefaultStorageDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "notesync"
	}
	return filepath.Join(dir, "notesync")
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: "info",
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Dir: DefaultStorageDir(),
		},
		Remote: RemoteConfig{
			Endpoint:       "http://localhost:8080",
			Timeout:        10 * time.Second,
			MaxAttempts:    4,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Workers:        4,
		},
		SQLite: SQLiteConfig{
			Path: "./notesync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
