// Package config handles rebacd configuration via environment variables,
// with an optional YAML file for operators who prefer a single artifact
// over a pile of exported variables.
//
// Configuration is loaded from environment variables using LoadFromEnv(),
// optionally overlaid with a YAML file via LoadFromFile(), and validated
// with Validate() before use.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
//	fmt.Printf("listening on %s\n", cfg.Server.ListenAddress)
//
// Environment Variables:
//
//   - REBACD_LISTEN_ADDR=0.0.0.0:8080
//   - REBACD_SNAPSHOT_PATH=./data/rebacd.snapshot
//   - REBACD_SNAPSHOT_INTERVAL=5m
//   - REBACD_SNAPSHOT_MIN_INTERVAL=2s
//   - REBACD_CHECK_DEPTH_LIMIT=0
//   - REBACD_AUTH=admin/password or "none"
//   - REBACD_JWT_SECRET=...
//   - REBACD_TOKEN_EXPIRY=24h
//   - REBACD_AUDIT_ENABLED=true
//   - REBACD_AUDIT_DIR=./data/audit
//
// For a complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all rebacd configuration.
//
// Configuration is organized into logical sections:
//   - Server: the wire front-end listen address and read/write timeouts
//   - Snapshot: periodic-snapshot scheduling
//   - Auth: bearer-token authentication and the bootstrap admin account
//   - Audit: the compliance audit ledger
//
// Use LoadFromEnv() to create a Config from environment variables, and
// optionally LoadFromFile() to overlay a YAML file on top of it.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Auth     AuthConfig     `yaml:"auth"`
	Audit    AuditConfig    `yaml:"audit"`
}

// ServerConfig holds the HTTP wire front-end's settings.
type ServerConfig struct {
	// ListenAddress is the host:port the HTTP server binds to.
	ListenAddress string `yaml:"listen_address"`
	// ReadTimeout bounds how long reading a request may take.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds how long writing a response may take.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// CheckDepthLimit is the default `check` BFS depth limit applied when
	// a request does not supply one explicitly. 0 means unlimited.
	CheckDepthLimit int `yaml:"check_depth_limit"`
}

// SnapshotConfig holds periodic-snapshot scheduler settings.
type SnapshotConfig struct {
	// Path is where the textual snapshot is written and, at startup,
	// read from if present.
	Path string `yaml:"path"`
	// Interval is how often the scheduler writes a snapshot regardless
	// of mutation activity. 0 disables the periodic tick.
	Interval time.Duration `yaml:"interval"`
	// MinInterval is the debounce floor between two mutation-triggered
	// snapshot writes.
	MinInterval time.Duration `yaml:"min_interval"`
}

// AuthConfig holds bearer-token authentication settings.
type AuthConfig struct {
	// Enabled controls whether requests must carry a valid bearer token.
	Enabled bool `yaml:"enabled"`
	// InitialUsername/InitialPassword bootstrap the first admin account.
	InitialUsername string `yaml:"initial_username"`
	InitialPassword string `yaml:"initial_password"`
	// MinPasswordLength enforces a password policy on the bootstrap account.
	MinPasswordLength int `yaml:"min_password_length"`
	// TokenExpiry controls how long issued tokens remain valid.
	TokenExpiry time.Duration `yaml:"token_expiry"`
	// JWTSecret signs and verifies bearer tokens (HMAC-SHA256).
	JWTSecret string `yaml:"jwt_secret"`
}

// AuditConfig holds the compliance audit ledger's settings.
type AuditConfig struct {
	// Enabled controls whether grant/revoke/expand calls are recorded.
	Enabled bool `yaml:"enabled"`
	// Dir is the Badger data directory backing the audit ledger.
	Dir string `yaml:"dir"`
	// RetentionDays bounds how long audit records are kept; 0 means
	// indefinite retention.
	RetentionDays int `yaml:"retention_days"`
}

// LoadFromEnv loads configuration from environment variables, applying
// sensible defaults for anything unset. It never fails; call Validate()
// on the result before using it.
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.Server.ListenAddress = getEnv("REBACD_LISTEN_ADDR", "0.0.0.0:8080")
	cfg.Server.ReadTimeout = getEnvDuration("REBACD_READ_TIMEOUT", 10*time.Second)
	cfg.Server.WriteTimeout = getEnvDuration("REBACD_WRITE_TIMEOUT", 10*time.Second)
	cfg.Server.CheckDepthLimit = getEnvInt("REBACD_CHECK_DEPTH_LIMIT", 0)

	cfg.Snapshot.Path = getEnv("REBACD_SNAPSHOT_PATH", "./data/rebacd.snapshot")
	cfg.Snapshot.Interval = getEnvDuration("REBACD_SNAPSHOT_INTERVAL", 5*time.Minute)
	cfg.Snapshot.MinInterval = getEnvDuration("REBACD_SNAPSHOT_MIN_INTERVAL", 2*time.Second)

	authStr := getEnv("REBACD_AUTH", "none")
	if authStr == "none" {
		cfg.Auth.Enabled = false
		cfg.Auth.InitialUsername = "admin"
		cfg.Auth.InitialPassword = "admin"
	} else {
		cfg.Auth.Enabled = true
		parts := strings.SplitN(authStr, "/", 2)
		if len(parts) == 2 {
			cfg.Auth.InitialUsername = parts[0]
			cfg.Auth.InitialPassword = parts[1]
		} else {
			cfg.Auth.InitialUsername = "admin"
			cfg.Auth.InitialPassword = authStr
		}
	}
	cfg.Auth.MinPasswordLength = getEnvInt("REBACD_MIN_PASSWORD_LENGTH", 8)
	cfg.Auth.TokenExpiry = getEnvDuration("REBACD_TOKEN_EXPIRY", 24*time.Hour)
	cfg.Auth.JWTSecret = getEnv("REBACD_JWT_SECRET", generateDefaultSecret())

	cfg.Audit.Enabled = getEnvBool("REBACD_AUDIT_ENABLED", true)
	cfg.Audit.Dir = getEnv("REBACD_AUDIT_DIR", "./data/audit")
	cfg.Audit.RetentionDays = getEnvInt("REBACD_AUDIT_RETENTION_DAYS", 365)

	return cfg
}

// LoadFromFile overlays YAML-file settings onto cfg. Only fields present
// in the file are changed; everything else keeps its current value
// (typically whatever LoadFromEnv already populated). This lets an
// operator check a single rebacd.yaml into deployment tooling instead of
// a page of exported variables.
func LoadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for logical errors and invalid
// values. Call it after LoadFromEnv()/LoadFromFile() and before using
// the Config.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server listen address must not be empty")
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot path must not be empty")
	}
	if c.Auth.Enabled {
		if c.Auth.InitialUsername == "" {
			return fmt.Errorf("authentication enabled but no initial username provided")
		}
		if len(c.Auth.InitialPassword) < c.Auth.MinPasswordLength {
			return fmt.Errorf("initial password must be at least %d characters", c.Auth.MinPasswordLength)
		}
		if len(c.Auth.JWTSecret) < 16 {
			return fmt.Errorf("jwt secret must be at least 16 characters")
		}
	}
	if c.Snapshot.MinInterval < 0 {
		return fmt.Errorf("snapshot min interval must not be negative")
	}
	if c.Server.CheckDepthLimit < 0 {
		return fmt.Errorf("check depth limit must not be negative")
	}
	return nil
}

// String returns a safe, loggable representation of the Config.
// Sensitive values (passwords, JWT secret) are never included.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Listen: %s, Auth: %v, Snapshot: %s, Audit: %v}",
		c.Server.ListenAddress, c.Auth.Enabled, c.Snapshot.Path, c.Audit.Enabled,
	)
}

// Helper functions for environment variable parsing, mirroring the
// pattern used throughout this codebase's configuration loaders.

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func generateDefaultSecret() string {
	return "CHANGE_ME_IN_PRODUCTION_" + strconv.FormatInt(time.Now().UnixNano(), 36)
}
