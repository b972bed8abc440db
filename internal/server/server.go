// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it connects the database, services,
// handlers and middleware, and decides which URL maps to which handler and
// which routes require authentication.
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go loads config.Config and builds the review client
//	Server.New() creates: sqldb.DB → services → handlers → routes
//
// This is the "composition root" pattern: all dependencies are wired in
// one place (New/setupRoutes) rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/snipshare/internal/auth"
	"github.com/sakif/snipshare/internal/config"
	"github.com/sakif/snipshare/internal/handler"
	"github.com/sakif/snipshare/internal/highlight"
	"github.com/sakif/snipshare/internal/middleware"
	"github.com/sakif/snipshare/internal/repository/sqldb"
	"github.com/sakif/snipshare/internal/review"
	"github.com/sakif/snipshare/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and closes it when Start
// returns or when Close is called.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqldb.DB
	tokens *auth.TokenService
}

// New opens the database and wires every layer.
//
// reviewer may be nil, in which case a Gemini client is built from
// cfg.Review (or an unconfigured one when no API key is set).
// cfg.Auth.JWTSecret must already be set; see config.EnsureJWTSecret.
func New(cfg *config.Config, logger *slog.Logger, reviewer service.Reviewer) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	if reviewer == nil {
		client, err := review.NewClient(context.Background(), review.Config{
			APIKey:      cfg.Review.APIKey,
			Model:       cfg.Review.Model,
			Temperature: float32(cfg.Review.Temperature),
			Timeout:     cfg.Review.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating review client: %w", err)
		}
		if !client.Configured() {
			logger.Warn("GEMINI_API_KEY not set; AI review is disabled")
		}
		reviewer = client
	}

	// === CREATE DATABASE ===
	db, err := sqldb.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		tokens: tokens,
	}
	s.setupRoutes(reviewer)

	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database connection.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                      → liveness + DB ping
// POST   /register, /login, /logout    → accounts and tokens
// GET    /auth/github/login|callback   → GitHub OAuth (only when configured)
// GET    /current_user                 → caller's profile           [auth]
// GET    /snippets                     → caller's snippets (paged)  [auth]
// POST   /snippets                     → create                     [auth]
// GET    /snippets/choices             → languages and styles       [auth]
// *      /snippets/{id}                → get/put/patch/delete       [auth]
// GET    /snippets/{id}/highlight      → HTML document              [auth]
// GET|POST /snippets/{id}/review       → AI review                  [auth]
// POST   /snippets/shared/{uuid}       → open via shared link       [optional auth]
// *      /users, /users/{id}           → self-service               [auth]
//
// MIDDLEWARE ORDER MATTERS:
// RequestID must run before Logger so the id shows up in the log line,
// and Recoverer sits inside Logger so a panic is logged as a 500.
func (s *Server) setupRoutes(reviewer service.Reviewer) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.SecurityHeaders)
	s.router.Use(chimiddleware.StripSlashes)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "not_found", "Not found.")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method_not_allowed",
			fmt.Sprintf("Method %q not allowed.", r.Method))
	})

	// === SERVICES ===
	passwords := auth.NewPasswordService()
	snippetService := service.NewSnippetService(s.db, highlight.New(), reviewer, service.RenderDefaults{
		Language: s.config.Highlight.DefaultLanguage,
		Style:    s.config.Highlight.DefaultStyle,
	}, s.logger)
	userService := service.NewUserService(s.db, s.db, s.tokens, passwords, s.logger)
	authService := service.NewAuthService(s.db, s.tokens, passwords, s.logger)

	var github *auth.GitHubProvider
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(
			s.config.Auth.GitHubClientID,
			s.config.Auth.GitHubClientSecret,
			s.config.GitHubCallbackURL(),
		)
	}

	// === HANDLERS ===
	snippetHandler := handler.NewSnippetHandler(snippetService, s.logger)
	userHandler := handler.NewUserHandler(userService, s.logger)
	authHandler := handler.NewAuthHandler(authService, userService, github, s.config.Server.CookieSecure, s.logger)

	// Tokens are checked against the user table, so deleting an account
	// revokes every token issued for it.
	requireAuth := auth.RequireAuth(authService)

	s.router.Get("/healthz", s.handleHealth)

	// === Public auth routes ===
	s.router.Post("/register", authHandler.HandleRegister)
	s.router.Post("/login", authHandler.HandleLogin)
	s.router.Post("/logout", authHandler.HandleLogout)
	if github != nil {
		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
		s.logger.Info("GitHub OAuth enabled")
	}

	s.router.With(requireAuth).Get("/current_user", userHandler.HandleCurrentUser)

	// === Snippets ===
	s.router.Route("/snippets", func(r chi.Router) {
		// Shared links work without an account; a logged-in owner skips the password.
		r.With(auth.OptionalAuth(authService)).Post("/shared/{uuid}", snippetHandler.HandleShared)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/", snippetHandler.HandleList)
			r.Post("/", snippetHandler.HandleCreate)
			r.Get("/choices", snippetHandler.HandleChoices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", snippetHandler.HandleGet)
				r.Put("/", snippetHandler.HandleUpdate)
				r.Patch("/", snippetHandler.HandleUpdate)
				r.Delete("/", snippetHandler.HandleDelete)
				r.Get("/highlight", snippetHandler.HandleHighlight)
				r.Get("/review", snippetHandler.HandleReviewInfo)
				r.Post("/review", snippetHandler.HandleReview)
			})
		})
	})

	// === Users ===
	s.router.Route("/users", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/", userHandler.HandleList)
		r.Post("/", userHandler.HandleCreate)
		r.Get("/{id}", userHandler.HandleGet)
		r.Put("/{id}", userHandler.HandleUpdate)
		r.Patch("/{id}", userHandler.HandleUpdate)
		r.Delete("/{id}", userHandler.HandleDelete)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		writeStatus(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// writeStatus writes the same error shape the handlers use.
func writeStatus(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\":%q,\"message\":%q}\n", errorType, message)
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (ShutdownTimeout)
//  3. Close the database connection
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("database", s.db.Driver()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
