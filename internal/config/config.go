// Package config provides configuration management for Nimbus.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with NB_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./configs/config.yaml, ~/.nimbus/config.yaml, /etc/nimbus/config.yaml)
//  3. .env files
//  4. Environment variables (NB_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
//
// # Environment Variables
//
// Environment variables override all other configuration sources.
// Use NB_ prefix and underscores for nested keys:
//   - NB_SERVER_PORT=8095
//   - NB_COUCHDB_URL=http://localhost:5984
//   - NB_EVENTS_NATS_URL=nats://localhost:4222
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for Nimbus.
type Config struct {
	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// CouchDB contains database connection settings
	CouchDB CouchDBConfig `mapstructure:"couchdb" yaml:"couchdb"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Security contains authentication and rate limiting settings
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// Events contains the external event bus settings
	Events EventsConfig `mapstructure:"events" yaml:"events"`

	// Console contains settings for the console side (nimbus watch, nimbus instances)
	Console ConsoleConfig `mapstructure:"console" yaml:"console"`

	// Integrity contains settings for background document checks
	Integrity IntegrityConfig `mapstructure:"integrity" yaml:"integrity"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port" yaml:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Debug enables debug logging
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// WatchChanges forwards CouchDB changes made by other writers to event subscribers
	WatchChanges bool `mapstructure:"watch_changes" yaml:"watch_changes"`

	// TLSEnabled enables HTTPS
	TLSEnabled bool `mapstructure:"tls_enabled" yaml:"tls_enabled"`

	// TLSCert is the path to the TLS certificate file
	TLSCert string `mapstructure:"tls_cert" yaml:"tls_cert"`

	// TLSKey is the path to the TLS private key file
	TLSKey string `mapstructure:"tls_key" yaml:"tls_key"`
}

// CouchDBConfig contains CouchDB connection settings.
type CouchDBConfig struct {
	// URL is the CouchDB server URL (e.g., http://localhost:5984)
	URL string `mapstructure:"url" yaml:"url"`

	// Database is the database name to use
	Database string `mapstructure:"database" yaml:"database"`

	// Username for CouchDB authentication
	Username string `mapstructure:"username" yaml:"username"`

	// Password for CouchDB authentication
	Password string `mapstructure:"password" yaml:"password"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format" yaml:"format"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// APIKeys are bcrypt hashes of accepted static API keys (optional)
	APIKeys []string `mapstructure:"api_keys" yaml:"api_keys"`

	// AuthEnabled enables JWT authentication (default: false)
	AuthEnabled bool `mapstructure:"auth_enabled" yaml:"auth_enabled"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration" yaml:"jwt_expiration"`
}

// EventsConfig contains settings for publishing dispatch messages to NATS.
type EventsConfig struct {
	// NATSURL is the NATS server URL; empty disables NATS publishing
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url"`

	// SubjectPrefix is prepended to the action type to build the subject
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// ConsoleConfig contains settings used by console side commands.
type ConsoleConfig struct {
	// APIURL is the base URL of the Nimbus API server
	APIURL string `mapstructure:"api_url" yaml:"api_url"`

	// Token is the bearer token sent to the API server
	Token string `mapstructure:"token" yaml:"token"`

	// APIKey is sent as X-API-Key when no token is configured
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// ResyncInterval is the period between full resyncs (0 disables)
	ResyncInterval time.Duration `mapstructure:"resync_interval" yaml:"resync_interval"`

	// PageSize is the number of instances requested per page
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// CachePath is the badger directory for the snapshot cache; empty disables it
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`
}

// IntegrityConfig controls the periodic integrity scans of the server.
type IntegrityConfig struct {
	// ScanInterval is the period between scans (0 disables them)
	ScanInterval time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`

	// AutoRepair executes the repair plan after every scan
	AutoRepair bool `mapstructure:"auto_repair" yaml:"auto_repair"`

	// Strategy resolves duplicates (latest_wins, oldest_wins)
	Strategy string `mapstructure:"strategy" yaml:"strategy"`

	// AuditDir receives the JSON lines audit log; empty disables it
	AuditDir string `mapstructure:"audit_dir" yaml:"audit_dir"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NB_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.nimbus")
		v.AddConfigPath("/etc/nimbus")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			// an explicit but missing file falls back to defaults
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("NB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.watch_changes", false)
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("couchdb.url", "http://localhost:5984")
	v.SetDefault("couchdb.database", "nimbus")
	v.SetDefault("couchdb.username", "admin")
	v.SetDefault("couchdb.password", "password")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "nimbus")

	v.SetDefault("console.api_url", "http://localhost:8080")
	v.SetDefault("console.token", "")
	v.SetDefault("console.api_key", "")
	v.SetDefault("console.resync_interval", "30s")
	v.SetDefault("console.page_size", 50)
	v.SetDefault("console.cache_path", "")

	v.SetDefault("integrity.scan_interval", "0s")
	v.SetDefault("integrity.auto_repair", false)
	v.SetDefault("integrity.strategy", "latest_wins")
	v.SetDefault("integrity.audit_dir", "")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.CouchDB.URL == "" {
		return fmt.Errorf("couchdb url is required")
	}

	if cfg.CouchDB.Database == "" {
		return fmt.Errorf("couchdb database is required")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	if cfg.Console.PageSize < 0 {
		return fmt.Errorf("invalid console page size: %d", cfg.Console.PageSize)
	}

	if cfg.Console.ResyncInterval < 0 {
		return fmt.Errorf("invalid console resync interval: %s", cfg.Console.ResyncInterval)
	}

	switch cfg.Integrity.Strategy {
	case "", "latest_wins", "oldest_wins":
	default:
		return fmt.Errorf("invalid integrity strategy: %s", cfg.Integrity.Strategy)
	}

	return nil
}

func Get() *Config {
	return cfg
}

// Address returns the host:port the API server listens on.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *CouchDBConfig) BuildURL() string {
	if c.Username != "" && c.Password != "" {
		url := strings.Replace(c.URL, "://", "://"+c.Username+":"+c.Password+"@", 1)
		return url
	}
	return c.URL
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
