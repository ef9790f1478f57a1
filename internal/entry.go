// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/councilhub/internal/api"
	"github.com/starford/councilhub/internal/auth"
	"github.com/starford/councilhub/internal/blob"
	"github.com/starford/councilhub/internal/content"
	"github.com/starford/councilhub/internal/listing"
	"github.com/starford/councilhub/internal/metrics"
	"github.com/starford/councilhub/internal/session"
	"github.com/starford/councilhub/internal/sse"
	"github.com/starford/councilhub/internal/store"
	"github.com/starford/councilhub/internal/treeview"
	"github.com/starford/councilhub/internal/visibility"
	pkgconfig "github.com/starford/councilhub/pkg/config"
)

// NewLogger returns the JSON logger used by every command, writing to w at
// the level held by level.
func NewLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenStore opens the configured database.
func OpenStore(cfg DatabaseConfig, logger *slog.Logger, m *metrics.Metrics) (*store.DB, error) {
	db, err := store.Open(store.Options{
		Driver:        cfg.Driver,
		DSN:           cfg.DSN,
		SlowThreshold: cfg.SlowQuery,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return db, nil
}

// OpenBlobs opens the configured blob backend. The handler is non-nil for
// the filesystem backend, which the application itself serves under /blobs.
func OpenBlobs(ctx context.Context, cfg BlobConfig) (blob.Store, http.HandlerFunc, error) {
	switch cfg.Backend {
	case BlobBackendS3:
		s3, err := blob.NewS3(ctx, blob.S3Options{
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Region:       cfg.S3.Region,
			Bucket:       cfg.S3.Bucket,
			UseSSL:       cfg.S3.UseSSL,
			PublicHost:   cfg.S3.PublicHost,
			PublicRead:   cfg.S3.PublicRead,
			CreateBucket: cfg.S3.CreateBucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 blobs: %w", err)
		}
		return s3, nil, nil
	default:
		fs, err := blob.NewFS(cfg.FS.Path, cfg.FS.PublicBaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("init fs blobs: %w", err)
		}
		return fs, fs.ServeFile, nil
	}
}

func openSessions(cfg AuthConfig) (session.Store, error) {
	if cfg.SessionStore == SessionStoreRedis {
		s, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("init redis sessions: %w", err)
		}
		return s, nil
	}
	return session.NewMemoryStore(cfg.SessionTTL), nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	level := new(slog.LevelVar)
	level.Set(cfg.App.LogLevel)
	logger := NewLogger(os.Stdout, level)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("blob_backend", cfg.Blob.Backend),
		slog.String("session_store", cfg.Auth.SessionStore),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		var err error
		if m, err = metrics.New(); err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	db, err := OpenStore(cfg.Database, logger, m)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, serveBlobs, err := OpenBlobs(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	sessions, err := openSessions(cfg.Auth)
	if err != nil {
		return err
	}
	defer sessions.Close()

	// SSE broker.
	broker := sse.NewBroker(cfg.Events.Throttle, logger)
	defer broker.Close()

	lst := listing.New(db.Gorm())
	view := treeview.New(db.Gorm(), blobs)
	svc := content.New(content.Options{
		DB:                db,
		Blobs:             blobs,
		Listing:           lst,
		Events:            broker,
		Metrics:           m,
		Logger:            logger,
		StrictUploads:     cfg.Blob.StrictUploads,
		UploadConcurrency: cfg.Blob.UploadConcurrency,
	})
	authSvc := auth.NewService(db, sessions, logger)
	policy := visibility.SessionPolicy{}

	apiRouter := api.NewRouter(api.RouterOptions{
		Handler: api.NewHandler(svc, lst, view, policy, cfg.App.HTTP.MaxUploadBytes()),
		Auth: api.NewAuthHandler(authSvc, api.CookieOptions{
			Name:   cfg.Auth.CookieName,
			Secure: cfg.Auth.CookieSecure,
			TTL:    cfg.Auth.SessionTTL,
		}),
		Sessions: authSvc,
		Policy:   policy,
		Events:   broker,
		Blobs:    serveBlobs,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(req.Context()); err != nil {
			logger.Warn("readiness check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Mount("/", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	// Apply log level changes without a restart.
	if app.configPath != "" {
		g.Go(func() error {
			err := pkgconfig.Watch(gCtx, app.configPath, NewDefaultConfig,
				func(next *Config) {
					if next.App.LogLevel != level.Level() {
						logger.Info("Log level changed",
							slog.String("from", level.Level().String()),
							slog.String("to", next.App.LogLevel.String()))
						level.Set(next.App.LogLevel)
					}
				},
				func(err error) {
					logger.Warn("config reload failed", slog.String("error", err.Error()))
				})
			if err != nil {
				logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		stop()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
