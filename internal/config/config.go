package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/alexjbarnes/oauthd/internal/identity"
	"github.com/alexjbarnes/oauthd/internal/lifetime"
	"github.com/alexjbarnes/oauthd/internal/logging"
)

// Config holds all environment-based configuration for oauthd.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogLevel overrides the environment's default level when set.
	LogLevel string `env:"LOG_LEVEL"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// DBPath is the bbolt file. Defaults to ~/.oauthd/oauthd.db.
	DBPath string `env:"DB_PATH"`

	// APIVersion selects the route prefix: "1.2.0" serves under /v1.
	// Defaults to the build version, or 1.0.0 for development builds.
	APIVersion string `env:"API_VERSION"`

	// Process-wide token lifetimes in seconds. Zero means not configured,
	// leaving the built-in fallback in effect.
	AccessTokenLifetime       int64 `env:"ACCESS_TOKEN_LIFETIME"`
	RefreshTokenLifetime      int64 `env:"REFRESH_TOKEN_LIFETIME"`
	AuthorizationCodeLifetime int64 `env:"AUTHORIZATION_CODE_LIFETIME"`

	// StoreTimeout bounds every store operation made while serving a
	// request.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// SeedFile is an optional YAML file of clients and users created at
	// startup when missing.
	SeedFile string `env:"SEED_FILE"`

	// AuthUsers lists end-user logins as username:bcrypt_hash:phone.
	AuthUsers string `env:"AUTH_USERS"`

	// RequireAuth protects the admin API with bearer tokens carrying
	// AdminScope.
	RequireAuth bool   `env:"REQUIRE_AUTH" envDefault:"false"`
	AdminScope  string `env:"ADMIN_SCOPE" envDefault:"admin"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// fallbackAPIVersion is used when neither API_VERSION nor the build
// version names a major version.
const fallbackAPIVersion = "1.0.0"

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
// version is the build version and supplies the API_VERSION default.
func Load(version string) (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = fallbackAPIVersion
		if _, err := (&Config{APIVersion: version}).APIMajor(); err == nil {
			cfg.APIVersion = version
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.DBPath != "" {
		absPath, err := filepath.Abs(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("resolving db path to absolute path: %w", err)
		}

		cfg.DBPath = absPath
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.APIMajor(); err != nil {
		return err
	}

	for name, v := range map[string]int64{
		"ACCESS_TOKEN_LIFETIME":       c.AccessTokenLifetime,
		"REFRESH_TOKEN_LIFETIME":      c.RefreshTokenLifetime,
		"AUTHORIZATION_CODE_LIFETIME": c.AuthorizationCodeLifetime,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be a positive number of seconds", name)
		}
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}

	if c.LogLevel != "" && !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}

	if c.RequireAuth && strings.TrimSpace(c.AdminScope) == "" {
		return fmt.Errorf("ADMIN_SCOPE is required when REQUIRE_AUTH is enabled")
	}

	if _, err := c.ParseAuthUsers(); err != nil {
		return err
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// APIMajor returns the leading numeric component of API_VERSION. A
// leading "v" is accepted.
func (c *Config) APIMajor() (int, error) {
	v := strings.TrimPrefix(strings.TrimSpace(c.APIVersion), "v")
	major, _, _ := strings.Cut(v, ".")

	n, err := strconv.Atoi(major)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("API_VERSION %q must start with a major version number", c.APIVersion)
	}

	return n, nil
}

// BasePath returns the versioned route prefix, e.g. "/v1".
func (c *Config) BasePath() string {
	major, err := c.APIMajor()
	if err != nil {
		major = 1
	}

	return "/v" + strconv.Itoa(major)
}

// Lifetimes returns the configured token lifetimes for the lifetime
// policy. Unset values stay nil.
func (c *Config) Lifetimes() lifetime.Defaults {
	return lifetime.Defaults{
		AccessToken:       positive(c.AccessTokenLifetime),
		RefreshToken:      positive(c.RefreshTokenLifetime),
		AuthorizationCode: positive(c.AuthorizationCodeLifetime),
	}
}

func positive(v int64) *int64 {
	if v <= 0 {
		return nil
	}

	return &v
}

// ParseAuthUsers parses the AUTH_USERS string.
// Format: "user1:bcrypt_hash1:phone1,user2:bcrypt_hash2:phone2"
// bcrypt hashes contain no colons, so the username is everything before
// the first colon and the phone everything after the last.
func (c *Config) ParseAuthUsers() ([]identity.Account, error) {
	if c.AuthUsers == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var accounts []identity.Account

	for _, entry := range strings.Split(c.AuthUsers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		first := strings.Index(entry, ":")
		last := strings.LastIndex(entry, ":")
		if first < 0 || first == last {
			return nil, fmt.Errorf("invalid user entry %d (want username:hash:phone)", len(accounts)+1)
		}

		username := entry[:first]
		hash := entry[first+1 : last]
		phone := entry[last+1:]

		if username == "" || hash == "" || phone == "" {
			return nil, fmt.Errorf("empty username, hash or phone in entry %d", len(accounts)+1)
		}

		if _, dup := seen[username]; dup {
			return nil, fmt.Errorf("duplicate username %q in AUTH_USERS", username)
		}

		seen[username] = struct{}{}
		accounts = append(accounts, identity.Account{Username: username, PasswordHash: hash, Phone: phone})
	}

	return accounts, nil
}
