package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/jobsettle/internal/auth"
	"github.com/mmynk/jobsettle/internal/config"
	"github.com/mmynk/jobsettle/internal/lock"
	"github.com/mmynk/jobsettle/internal/middleware"
	"github.com/mmynk/jobsettle/internal/service"
	"github.com/mmynk/jobsettle/internal/settlement"
	"github.com/mmynk/jobsettle/internal/storage"
	"github.com/mmynk/jobsettle/internal/storage/postgres"
	"github.com/mmynk/jobsettle/internal/storage/sqlite"
	"github.com/mmynk/jobsettle/internal/telemetry"
	"github.com/mmynk/jobsettle/pkg/api/apiconnect"
	"github.com/mmynk/jobsettle/pkg/logging"
)

const serviceName = "jobsettle"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := settlement.New(store,
		settlement.WithLocker(locker),
		settlement.WithLockTimeout(cfg.LockTimeout),
		settlement.WithLogger(logger),
		settlement.WithMetrics(settlement.NewMetrics(registry)),
	)

	authInterceptor, err := newAuthInterceptor(cfg, store)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()

	// Logging runs outside auth so rejected calls are logged too
	settlePath, settleHandler := apiconnect.NewSettlementServiceHandler(
		service.NewSettlementService(engine),
		connect.WithInterceptors(middleware.LoggingInterceptor(logger), authInterceptor),
	)
	mux.Handle(settlePath, settleHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.ProfileHeader,
			"Connect-Protocol-Version", "Connect-Timeout-Ms", "traceparent", "tracestate"},
		ExposedHeaders: []string{"Connect-Protocol-Version", "Connect-Timeout-Ms"},
	}).Handler(telemetry.HTTPHandler(requestLogger(logger, mux), "jobsettle"))

	// h2c for HTTP/2 without TLS
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h2c.NewHandler(corsHandler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Connect server starting", "address", server.Addr, "store", cfg.StoreDriver,
			"locks", cfg.LockBackend, "auth", cfg.AuthMode)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL, postgres.WithLockTimeout(cfg.LockTimeout))
		if err != nil {
			return nil, fmt.Errorf("initialize postgres storage: %w", err)
		}
		slog.Info("Storage initialized", "driver", cfg.StoreDriver)
		return store, nil
	default:
		store, err := sqlite.New(cfg.DBPath, sqlite.WithBusyTimeout(cfg.SQLiteBusyTimeout))
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite storage: %w", err)
		}
		slog.Info("Storage initialized", "driver", cfg.StoreDriver, "database", cfg.DBPath)
		return store, nil
	}
}

func newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.LockBackend != config.LockRedis {
		return lock.NewMemoryLocker(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("Redis locks enabled", "address", cfg.RedisAddr)

	locker := lock.NewRedisLocker(client, lock.WithExpiry(cfg.LockExpiry))
	return locker, func() { client.Close() }, nil
}

func newAuthInterceptor(cfg *config.Config, store storage.Store) (connect.Interceptor, error) {
	switch cfg.AuthMode {
	case config.AuthJWT:
		return middleware.RequireAuth(auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)), nil
	case config.AuthHeader:
		return middleware.RequireProfile(store), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}

// requestLogger logs all incoming requests
func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
