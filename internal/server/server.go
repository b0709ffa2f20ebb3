// Package server is the composition root: it opens the store, builds every
// service and handler, mounts the routes and runs the HTTP server with
// graceful shutdown.
//
// DEPENDENCY FLOW:
//
//	config → store (sqlite | postgres), blob store, event publisher
//	       → session provider → services → screens (per request) → handlers
//
// Handlers never touch the store directly and services never see HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/ronin/internal/auth"
	"github.com/sakif/ronin/internal/config"
	"github.com/sakif/ronin/internal/events"
	"github.com/sakif/ronin/internal/handler"
	"github.com/sakif/ronin/internal/metrics"
	"github.com/sakif/ronin/internal/middleware"
	"github.com/sakif/ronin/internal/repository"
	"github.com/sakif/ronin/internal/repository/postgres"
	"github.com/sakif/ronin/internal/repository/sqlite"
	"github.com/sakif/ronin/internal/service"
	"github.com/sakif/ronin/internal/session"
	"github.com/sakif/ronin/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// Server owns every long-lived resource and releases them on shutdown.
type Server struct {
	router    *chi.Mux
	config    *config.Config
	logger    *slog.Logger
	store     repository.Store
	images    storage.Store
	publisher events.Publisher
	sweeper   *storage.Sweeper
}

// New opens the store and wires everything. Resources opened before a
// failure are closed before New returns.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	s, err := build(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (repository.Store, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("server: opening postgres: %w", err)
		}
		return db, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("server: creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("server: opening sqlite: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("server: unknown store driver %q", cfg.Driver)
}

// build assembles the server around an open store.
func build(cfg *config.Config, store repository.Store, logger *slog.Logger) (*Server, error) {
	images, err := storage.NewDiskStore(cfg.Storage.Dir, cfg.Storage.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("server: opening blob store: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			Logger:       logger,
		})
		logger.Info("publishing change events to kafka",
			slog.Any("brokers", cfg.Kafka.Brokers),
			slog.String("topic", cfg.Kafka.Topic),
		)
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		store:     store,
		images:    images,
		publisher: publisher,
	}
	if cfg.Storage.SweepInterval > 0 {
		s.sweeper = storage.NewSweeper(images, store, storage.SweeperConfig{
			Bucket:   cfg.Storage.Bucket,
			Interval: cfg.Storage.SweepInterval,
			Grace:    cfg.Storage.SweepGrace,
		}, logger)
	}

	s.setupRoutes(tokens)
	return s, nil
}

// setupRoutes mounts the API.
//
// ROUTES:
//
//	POST   /auth/signup | /auth/login | /auth/logout | /auth/refresh
//	GET    /auth/github/login | /auth/github/callback
//	GET    /api/me
//	GET    /api/feed
//	POST   /api/posts                      (rate limited per client)
//	DELETE /api/posts/{id}
//	POST   /api/posts/{id}/like
//	GET    /api/profiles/{handle}
//	POST   /api/profiles/{handle}/follow
//	GET    /api/stats
//	GET    /storage/v1/object/public/{bucket}/*
//
// MIDDLEWARE ORDER:
// RequestID and RealIP first so the logger and the rate limiter see them,
// Recoverer inside the logger so a panic is still logged as a 500, and the
// session last so every handler can read it.
func (s *Server) setupRoutes(tokens *auth.TokenService) {
	logger := s.logger
	cfg := s.config

	sessions := session.NewProvider(tokens, cfg.Auth.RevocationCacheSize, logger)
	github := auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	if github == nil {
		logger.Info("GitHub sign-in disabled: github.client_id not set")
	}

	authService := service.NewAuthService(s.store, s.store, sessions, auth.NewPasswordService(), logger)
	postService := service.NewPostService(s.store, s.images, cfg.Storage.Bucket, s.publisher, logger)
	followService := service.NewFollowService(s.store, s.publisher, logger)

	recorder := metrics.NewRecorder()
	uploads := middleware.NewRateLimiter(cfg.UploadsPerMinute)

	authHandler := handler.NewAuthHandler(authService, github, logger)
	feedHandler := handler.NewFeedHandler(sessions, postService, logger)
	profileHandler := handler.NewProfileHandler(sessions, s.store, followService, logger)
	storageHandler := handler.NewStorageHandler(s.images, cfg.Storage.Bucket, logger)
	statsHandler := handler.NewStatsHandler(recorder)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(metrics.Middleware(recorder))
	s.router.Use(session.Middleware(sessions))

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignUp)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		r.Post("/refresh", authHandler.HandleRefresh)
		r.Get("/github/login", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/me", authHandler.HandleMe)
		r.Get("/feed", feedHandler.HandleFeed)
		r.With(uploads.Middleware).Post("/posts", feedHandler.HandleCreatePost)
		r.Delete("/posts/{id}", feedHandler.HandleDeletePost)
		r.Post("/posts/{id}/like", feedHandler.HandleToggleLike)
		r.Get("/profiles/{handle}", profileHandler.HandleProfile)
		r.Post("/profiles/{handle}/follow", profileHandler.HandleToggleFollow)
		r.Get("/stats", statsHandler.HandleStats)
	})

	s.router.Get(storage.PublicPrefix+"{bucket}/*", storageHandler.HandleObject)
}

// Handler exposes the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests and
// releases the sweeper, the publisher and the store, in that order.
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.sweeper != nil {
		s.sweeper.Start()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("store", s.config.Store.Driver),
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

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

func (s *Server) close() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if err := s.publisher.Close(); err != nil {
		s.logger.Error("failed to close event publisher", slog.String("error", err.Error()))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close store", slog.String("error", err.Error()))
	}
}
