package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/config"
	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/handler"
	"github.com/lightdash/lightdash-bff-go/internal/infra/apiclient"
	"github.com/lightdash/lightdash-bff-go/internal/infra/history"
	"github.com/lightdash/lightdash-bff-go/internal/infra/observability"
	"github.com/lightdash/lightdash-bff-go/internal/infra/query"
	"github.com/lightdash/lightdash-bff-go/internal/infra/resilience"
	"github.com/lightdash/lightdash-bff-go/internal/infra/session"
	"github.com/lightdash/lightdash-bff-go/internal/service"
)

const serviceName = "lightdash-bff"

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("api_origin", cfg.APIOrigin),
		zap.String("api_version", cfg.APIVersion),
		zap.String("client_version", cfg.ClientVersion),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("history_capacity", cfg.HistoryCapacity),
		zap.Bool("tracing_enabled", cfg.TracingEnabled),
	)

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Tracing ---
	clientOpts := []apiclient.Option{}
	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, serviceName)
		if err != nil {
			logger.Fatal("failed to init tracer", zap.Error(err))
		}
		defer shutdown(context.Background())
		clientOpts = append(clientOpts, apiclient.WithTracer(observability.NewOTelTracer("apiclient")))
	}

	// --- Session state ---
	sessionStore := session.NewStore(0)
	defer sessionStore.Close()
	embedStore := session.NewEmbedStore()

	// --- Diagnostics ---
	recorder := history.NewRecorder(cfg.HistoryCapacity, history.WithEvictionHook(metrics.IncrHistoryEviction))

	// --- API client ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := apiclient.New(httpClient, cfg.APIOrigin, append(clientOpts,
		apiclient.WithStreamHTTPClient(apiclient.NewStreamHTTPClient(cfg.HTTPTimeout)),
		apiclient.WithSessionStore(sessionStore),
		apiclient.WithEmbedStore(embedStore),
		apiclient.WithNavigator(handler.ContextNavigator{}),
		apiclient.WithHistory(recorder),
		apiclient.WithSnapshotLimit(cfg.HistorySnapshotLimit),
		apiclient.WithAPIVersion(domain.APIVersion(cfg.APIVersion)),
		apiclient.WithClientVersion(cfg.ClientVersion),
		apiclient.WithMetrics(metrics),
		apiclient.WithLogger(logger),
	)...)

	// --- Query layer ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	runner := query.NewRunner(client, cfg.CacheTTL, resilienceCfg, metrics, logger)
	defer runner.Close()

	// --- Services ---
	services := handler.Services{
		CustomMetrics: service.NewCustomMetricsService(runner, logger),
		Users:         service.NewUserService(runner, logger),
		SQLRunner:     service.NewSQLRunnerService(client, cfg.MaxConcurrency, metrics, logger),
		Diagnostics:   service.NewDiagnosticsService(recorder, metrics, runner),
		Health:        service.NewHealthService(client, cfg.ClientVersion, logger),
		Session:       sessionStore,
		Embed:         embedStore,
	}

	// --- Router ---
	router := handler.NewRouter(services, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// no WriteTimeout: SQL runner streams have no fixed length
		IdleTimeout: 60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
