// Package config loads the server configuration.
//
// Sources are applied in order, each overriding the previous one:
//
//  1. DefaultConfig()
//  2. an INI file (sections [server] [database] [auth] [review] [highlight] [log])
//  3. a .env file, loaded into the process environment without overriding
//     variables that are already set
//  4. environment variables (PORT, DB_DRIVER, JWT_SECRET, GEMINI_API_KEY, ...)
//  5. command-line flags that were explicitly given
//
// The result is checked by Validate before it is returned.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/ini.v1"

	"github.com/sakif/snipshare/internal/highlight"
	"github.com/sakif/snipshare/internal/model"
	"github.com/sakif/snipshare/internal/repository/sqldb"
)

// Config holds all application configuration organized by section.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Review    ReviewConfig
	Highlight HighlightConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// CookieSecure marks the auth cookie Secure. Turn it off only for
	// plain-HTTP local development.
	CookieSecure bool
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string // sqlite, postgres or mysql
	DSN    string // file path for sqlite, connection URL/DSN otherwise
}

type AuthConfig struct {
	// JWTSecret signs access tokens. When empty, EnsureJWTSecret fills in
	// a random one and every token is invalidated on restart.
	JWTSecret string
	TokenTTL  time.Duration

	// GitHub OAuth is enabled only when both id and secret are set.
	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string
}

// ReviewConfig configures the Gemini-backed code review. An empty APIKey
// leaves the feature in its "not configured" state.
type ReviewConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// HighlightConfig holds the render settings used when a snippet is
// created without them.
type HighlightConfig struct {
	DefaultLanguage string
	DefaultStyle    string
}

type LogConfig struct {
	Level string // debug, info, warn, error
}

// DefaultConfig returns a Config that runs locally with no setup: SQLite
// in ./data and no external services.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second, // covers a full AI review
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CookieSecure:    true,
		},
		Database: DatabaseConfig{
			Driver: sqldb.DriverSQLite,
			DSN:    "data/snipshare.db",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Review: ReviewConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.2,
			Timeout:     60 * time.Second,
		},
		Highlight: HighlightConfig{
			DefaultLanguage: model.DefaultLanguage,
			DefaultStyle:    model.DefaultStyle,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from every source. path may name a
// missing file, in which case the INI step is skipped. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.loadFromFile(path); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	envFile := ".env"
	if fs != nil {
		if v, err := fs.GetString("env-file"); err == nil && v != "" {
			envFile = v
		}
	}
	// A missing .env is normal outside local development.
	_ = godotenv.Load(envFile)

	cfg.loadFromEnv()

	if fs != nil {
		cfg.applyFlags(fs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// NewFlagSet declares the command-line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "snipshare.ini", "path to the INI config file")
	fs.String("env-file", ".env", "path to a .env file")
	fs.String("host", "", "address to listen on")
	fs.IntP("port", "p", 0, "port to listen on")
	fs.String("db-driver", "", "database driver: sqlite, postgres or mysql")
	fs.String("db-dsn", "", "database DSN (file path for sqlite)")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.BoolP("help", "h", false, "show help")
	return fs
}

// loadFromFile parses an INI configuration file.
func (c *Config) loadFromFile(path string) error {
	iniFile, err := ini.Load(path)
	if err != nil {
		return err
	}

	if sec, err := iniFile.GetSection("server"); err == nil {
		c.Server.Host = sec.Key("host").MustString(c.Server.Host)
		c.Server.Port = sec.Key("port").MustInt(c.Server.Port)
		c.Server.ReadTimeout = sec.Key("read_timeout").MustDuration(c.Server.ReadTimeout)
		c.Server.WriteTimeout = sec.Key("write_timeout").MustDuration(c.Server.WriteTimeout)
		c.Server.IdleTimeout = sec.Key("idle_timeout").MustDuration(c.Server.IdleTimeout)
		c.Server.ShutdownTimeout = sec.Key("shutdown_timeout").MustDuration(c.Server.ShutdownTimeout)
		c.Server.CookieSecure = sec.Key("cookie_secure").MustBool(c.Server.CookieSecure)
	}

	if sec, err := iniFile.GetSection("database"); err == nil {
		c.Database.Driver = sec.Key("driver").MustString(c.Database.Driver)
		c.Database.DSN = sec.Key("dsn").MustString(c.Database.DSN)
	}

	if sec, err := iniFile.GetSection("auth"); err == nil {
		c.Auth.JWTSecret = sec.Key("jwt_secret").MustString(c.Auth.JWTSecret)
		c.Auth.TokenTTL = sec.Key("token_ttl").MustDuration(c.Auth.TokenTTL)
		c.Auth.GitHubClientID = sec.Key("github_client_id").MustString(c.Auth.GitHubClientID)
		c.Auth.GitHubClientSecret = sec.Key("github_client_secret").MustString(c.Auth.GitHubClientSecret)
		c.Auth.GitHubCallbackURL = sec.Key("github_callback_url").MustString(c.Auth.GitHubCallbackURL)
	}

	if sec, err := iniFile.GetSection("review"); err == nil {
		c.Review.APIKey = sec.Key("api_key").MustString(c.Review.APIKey)
		c.Review.Model = sec.Key("model").MustString(c.Review.Model)
		c.Review.Temperature = sec.Key("temperature").MustFloat64(c.Review.Temperature)
		c.Review.Timeout = sec.Key("timeout").MustDuration(c.Review.Timeout)
	}

	if sec, err := iniFile.GetSection("highlight"); err == nil {
		c.Highlight.DefaultLanguage = sec.Key("default_language").MustString(c.Highlight.DefaultLanguage)
		c.Highlight.DefaultStyle = sec.Key("default_style").MustString(c.Highlight.DefaultStyle)
	}

	if sec, err := iniFile.GetSection("log"); err == nil {
		c.Log.Level = sec.Key("level").MustString(c.Log.Level)
	}

	return nil
}

// loadFromEnv overrides configuration with environment variables.
// Unparseable numeric values are ignored and the previous value is kept.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.CookieSecure = b
		}
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	// DB_PATH is the SQLite shorthand; DB_DSN wins when both are set.
	if v := os.Getenv("DB_PATH"); v != "" && c.Database.Driver == sqldb.DriverSQLite {
		c.Database.DSN = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Auth.TokenTTL = d
		}
	}
	if v := os.Getenv("GITHUB_CLIENT_ID"); v != "" {
		c.Auth.GitHubClientID = v
	}
	if v := os.Getenv("GITHUB_CLIENT_SECRET"); v != "" {
		c.Auth.GitHubClientSecret = v
	}
	if v := os.Getenv("GITHUB_CALLBACK_URL"); v != "" {
		c.Auth.GitHubCallbackURL = v
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Review.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.Review.Model = v
	}
	if v := os.Getenv("GEMINI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Review.Temperature = f
		}
	}
	if v := os.Getenv("REVIEW_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Review.Timeout = d
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// applyFlags copies flags the user actually passed; defaults never
// override values from the file or the environment.
func (c *Config) applyFlags(fs *pflag.FlagSet) {
	if fs.Changed("host") {
		c.Server.Host, _ = fs.GetString("host")
	}
	if fs.Changed("port") {
		c.Server.Port, _ = fs.GetInt("port")
	}
	if fs.Changed("db-driver") {
		c.Database.Driver, _ = fs.GetString("db-driver")
	}
	if fs.Changed("db-dsn") {
		c.Database.DSN, _ = fs.GetString("db-dsn")
	}
	if fs.Changed("log-level") {
		c.Log.Level, _ = fs.GetString("log-level")
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case sqldb.DriverSQLite, sqldb.DriverPostgres, sqldb.DriverMySQL:
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or mysql, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}

	if c.Review.Temperature < 0 || c.Review.Temperature > 2 {
		return fmt.Errorf("review.temperature must be between 0 and 2, got %g", c.Review.Temperature)
	}
	if c.Review.Timeout <= 0 {
		return errors.New("review.timeout must be positive")
	}

	langOK, styleOK := highlight.New().Supports(c.Highlight.DefaultLanguage, c.Highlight.DefaultStyle)
	if !langOK {
		return fmt.Errorf("highlight.default_language %q is not a known language", c.Highlight.DefaultLanguage)
	}
	if !styleOK {
		return fmt.Errorf("highlight.default_style %q is not a known style", c.Highlight.DefaultStyle)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// EnsureJWTSecret generates a random secret when none is configured and
// reports whether it did so.
func (c *Config) EnsureJWTSecret() (bool, error) {
	if c.Auth.JWTSecret != "" {
		return false, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return false, fmt.Errorf("generating JWT secret: %w", err)
	}
	c.Auth.JWTSecret = hex.EncodeToString(buf)
	return true, nil
}

// GitHubEnabled reports whether the GitHub OAuth routes should be mounted.
func (c *Config) GitHubEnabled() bool {
	return c.Auth.GitHubClientID != "" && c.Auth.GitHubClientSecret != ""
}

// GitHubCallbackURL returns the configured callback or a localhost default.
func (c *Config) GitHubCallbackURL() string {
	if c.Auth.GitHubCallbackURL != "" {
		return c.Auth.GitHubCallbackURL
	}
	return fmt.Sprintf("http://localhost:%d/auth/github/callback", c.Server.Port)
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q is not a valid level", c.Log.Level)
	}
	return level, nil
}

// Addr returns the listen address for net/http.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
