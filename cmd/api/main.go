package main

import (
	"context"
	"net/http"
	"os"

	"github.com/dmlopezc/bizgate-backend/internal/accounts"
	"github.com/dmlopezc/bizgate-backend/pkg/config"
	"github.com/dmlopezc/bizgate-backend/pkg/db"
	"github.com/dmlopezc/bizgate-backend/pkg/logger"
	"github.com/dmlopezc/bizgate-backend/pkg/metrics"
	"github.com/dmlopezc/bizgate-backend/pkg/redis"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	accountMetrics := metrics.NewAccountMetrics(registry)

	// The account services are wired at boot so a misconfigured stack fails
	// fast; their transport surface lives outside this binary.
	if _, err := accounts.NewRegisterService(accounts.RegisterServiceParams{
		Tx:           dbClient,
		Password:     cfg.Password,
		Token:        cfg.Token,
		Verification: cfg.Verification,
		Logger:       logg,
		Metrics:      accountMetrics,
	}); err != nil {
		logg.Error(context.Background(), "failed to create register service", err)
		os.Exit(1)
	}
	if _, err := accounts.NewLoginService(accounts.LoginServiceParams{
		Users:   accounts.NewRepository(dbClient.DB()),
		Logger:  logg,
		Metrics: accountMetrics,
	}); err != nil {
		logg.Error(context.Background(), "failed to create login service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: newRouter(logg, registry, dbClient, redisClient),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func newRouter(logg *logger.Logger, registry *prometheus.Registry, dbClient db.Pinger, redisClient redis.Pinger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbClient.Ping(r.Context()); err != nil {
			logg.Error(r.Context(), "database health check failed", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(r.Context()); err != nil {
			logg.Error(r.Context(), "redis health check failed", err)
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return router
}
