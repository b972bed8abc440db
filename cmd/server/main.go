// Package main is the entry point for the snipshare server.
//
// The main package stays minimal. Its job is to:
//  1. Read configuration (flags, config file, .env, environment)
//  2. Create the logger
//  3. Hand both to internal/server and start it
//
// All actual logic lives in imported packages (internal/server,
// internal/service, ...).
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/sakif/snipshare/internal/config"
	"github.com/sakif/snipshare/internal/repository/sqldb"
	"github.com/sakif/snipshare/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "snipshare:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// === 1. READ CONFIGURATION ===
	fs := config.NewFlagSet("snipshare")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if help, _ := fs.GetBool("help"); help {
		fmt.Fprintln(os.Stderr, "Usage: snipshare [flags]")
		fs.PrintDefaults()
		return pflag.ErrHelp
	}

	configPath, _ := fs.GetString("config")
	cfg, err := config.Load(configPath, fs)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// === 2. SET UP LOGGING ===
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// === 3. SECRETS ===
	generated, err := cfg.EnsureJWTSecret()
	if err != nil {
		return err
	}
	if generated {
		logger.Warn("JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	}
	if !cfg.Server.CookieSecure {
		logger.Warn("auth cookie is not marked Secure; use only for local development over HTTP")
	}

	// === 4. DATABASE DIRECTORY ===
	// SQLite creates the file but not its parent directory.
	if cfg.Database.Driver == sqldb.DriverSQLite && cfg.Database.DSN != ":memory:" {
		dir := filepath.Dir(cfg.Database.DSN)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	// === 5. CREATE AND START THE SERVER ===
	// A nil reviewer lets the server build the Gemini client from cfg.Review.
	srv, err := server.New(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM).
	return srv.Start()
}
