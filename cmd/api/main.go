// Package main is the entry point for the campaign task API.
//
// It loads configuration once, builds the task queue, backing store and
// identity verifier clients, and serves POST /campaigns and POST /tasks. Under
// AWS Lambda the router is adapted with algnhsa; otherwise it runs a standard
// HTTP server with graceful shutdown on SIGINT or SIGTERM.
package main

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

	"github.com/akrylysov/algnhsa"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"campaigntasks/internal/api/handlers"
	"campaigntasks/internal/auth"
	"campaigntasks/internal/campaign"
	"campaigntasks/internal/config"
	"campaigntasks/internal/core"
	"campaigntasks/internal/db"
	"campaigntasks/internal/store"
	"campaigntasks/internal/taskqueue"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	bootLogger := newLogger("prod", "info", os.Stderr)

	provider, err := config.NewSecretProviderFromEnv(ctx, bootLogger)
	if err != nil {
		return fmt.Errorf("creating secret provider: %w", err)
	}
	if c, ok := provider.(io.Closer); ok {
		defer c.Close()
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.Environment, cfg.LogLevel, os.Stdout)
	logger.Info("campaign task API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"task_backend", cfg.Tasks.Backend,
		"store_backend", cfg.Store.Backend,
	)

	deps, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := newServer(cfg, logger, deps)
	if err != nil {
		deps.close()
		return err
	}

	if isLambdaEnvironment() {
		logger.Info("running under AWS Lambda")
		lambda.Start(algnhsa.New(srv.Handler(), nil))
		return nil
	}
	return runHTTPServer(srv, cfg, logger)
}

// dependencies are the outbound clients built once per process.
type dependencies struct {
	backend  taskqueue.Backend
	store    store.Client
	verifier auth.IdentityVerifier
	probes   []core.HealthProbe
	closers  []io.Closer
}

func (d *dependencies) close() {
	for _, c := range d.closers {
		_ = c.Close()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// connect builds the clients selected by configuration.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, error) {
	deps := &dependencies{}

	if err := connectTaskBackend(ctx, cfg, deps); err != nil {
		deps.close()
		return nil, err
	}
	if err := connectStore(ctx, cfg, logger, deps); err != nil {
		deps.close()
		return nil, err
	}
	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		deps.close()
		return nil, err
	}
	deps.verifier = verifier
	return deps, nil
}

func connectTaskBackend(ctx context.Context, cfg *config.Config, deps *dependencies) error {
	switch cfg.Tasks.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Unmask(),
			DB:       cfg.Redis.DB,
		})
		backend := taskqueue.NewRedisBackend(rdb, cfg.Redis.KeyPrefix)
		deps.backend = backend
		deps.probes = append(deps.probes, core.ProbeFunc{ProbeName: "task_queue", Fn: backend.Ping})
		deps.closers = append(deps.closers, rdb)
	default:
		backend, err := taskqueue.NewCloudTasksBackend(ctx)
		if err != nil {
			return fmt.Errorf("creating cloud tasks client: %w", err)
		}
		deps.backend = backend
		deps.closers = append(deps.closers, backend)
	}
	return nil
}

func connectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *dependencies) error {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:             cfg.Store.DatabaseURL.Unmask(),
			MaxConns:        cfg.Store.MaxConns,
			MaxConnIdleTime: time.Minute,
			ConnectTimeout:  cfg.Store.Timeout,
		})
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		deps.store = store.NewPostgresClient(pool)
		deps.probes = append(deps.probes, core.ProbeFunc{ProbeName: "store", Fn: pool.Ping})
		deps.closers = append(deps.closers, closerFunc(func() error {
			pool.Close()
			return nil
		}))
	default:
		client := store.NewPostgRESTClient(
			&http.Client{Timeout: cfg.Store.Timeout},
			cfg.Store.BaseURL,
			cfg.Store.APIKey,
			logger,
		)
		deps.store = client
		deps.probes = append(deps.probes, core.ProbeFunc{ProbeName: "store", Fn: client.Ping})
	}
	return nil
}

// newVerifier returns the identity verifier named by AUTH_VERIFIER. The
// remote verifier asks the identity provider at AUTH_URL, falling back to the
// store's base URL.
func newVerifier(cfg *config.Config, logger *slog.Logger) (auth.IdentityVerifier, error) {
	if cfg.Auth.Verifier == "remote" {
		baseURL := cfg.Auth.ProviderURL
		if baseURL == "" {
			baseURL = cfg.Store.BaseURL
		}
		if baseURL == "" {
			return nil, &config.ConfigError{
				Type:    config.ErrMissingEnv,
				Message: "AUTH_URL or SUPABASE_URL is required for the remote verifier",
			}
		}
		return auth.NewRemoteVerifier(&http.Client{Timeout: cfg.Store.Timeout}, baseURL, cfg.Store.APIKey, logger), nil
	}

	opts := []auth.JWTVerifierOption{auth.WithLeeway(30 * time.Second)}
	if cfg.Auth.Audience != "" {
		opts = append(opts, auth.WithAudience(cfg.Auth.Audience))
	}
	if cfg.Auth.Issuer != "" {
		opts = append(opts, auth.WithIssuer(cfg.Auth.Issuer))
	}
	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}
	return verifier, nil
}

// newServer wires the orchestrator and handlers onto the HTTP chassis and
// mounts the routes.
func newServer(cfg *config.Config, logger *slog.Logger, deps *dependencies) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	metrics := core.NewPrometheusMetrics()
	srv.Metrics = metrics
	srv.MetricsHandler = metrics.Handler()

	tasks, err := taskqueue.NewClient(deps.backend, cfg.Tasks, logger, taskqueue.WithRecorder(metrics))
	if err != nil {
		return nil, err
	}
	svc, err := campaign.NewService(cfg.Tasks, tasks, deps.store, srv.Validator, logger)
	if err != nil {
		return nil, err
	}

	campaignHandler := handlers.NewCampaignHandler(svc, deps.verifier, logger)
	taskHandler := handlers.NewTaskHandler(campaign.NewTaskActions(tasks, logger), deps.verifier, logger)

	srv.RouteRegistrars = append(srv.RouteRegistrars, campaignHandler.RegisterRoutes, taskHandler.RegisterRoutes)
	srv.HealthProbes = append(srv.HealthProbes, deps.probes...)
	srv.Closers = append(srv.Closers, deps.closers...)

	srv.MountRoutes()
	return srv, nil
}

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasFunctionName := os.LookupEnv("AWS_LAMBDA_FUNCTION_NAME")
	return hasRuntimeAPI || hasFunctionName
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger returns a JSON logger, or a colored text logger for local
// development.
func newLogger(env, level string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)
	if env == "local" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func parseLevel(level string) slog.Level {
	switch level {
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
