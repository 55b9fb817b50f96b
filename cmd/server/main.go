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

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, "ride-dispatch")
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var locator geo.Locator
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		if err := rg.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, nearby queries use the store", "addr", cfg.RedisAddr, "error", err)
			_ = rg.Close()
		} else {
			locator = rg
			defer rg.Close()
			logger.Info("redis geo index enabled", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
		}
	}

	var producer ingest.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		producer = kp
		logger.Info("driver locations published to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	sink := locationSink(cfg, store, locator, producer)

	var gateway payments.Gateway
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeGateway(cfg.StripeAPIKey)
	}

	hub := realtime.NewHub(logger, cfg.WSSendBuffer)
	manager := rides.NewManager(store, hub, logger)
	arbiter := rides.NewArbiter(store, hub, logger)

	srv := httpapi.NewServer(httpapi.Deps{
		Rides:   manager,
		Arbiter: arbiter,
		Matcher: &matcher.Coordinator{
			Drivers:         store,
			Locator:         locator,
			Limit:           cfg.MatcherTopN,
			DefaultRadiusKm: cfg.MatcherDefaultRadiusKm,
			Logger:          logger,
		},
		Drivers:   store,
		Payments:  payments.NewService(store, gateway, cfg.PaymentCurrency, logger),
		Locations: sink,
		Locator:   locator,
		Realtime: &realtime.Handler{
			Hub:       hub,
			Rides:     manager,
			Arbiter:   arbiter,
			Locations: sink,
			Logger:    logger,

			AllowedOrigin: cfg.CORSOrigin,
		},
		CORSOrigin: cfg.CORSOrigin,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// locationSink picks where driver fixes go. With a producer the consumer
// applies them to Redis and Postgres; an in-memory store is out of its reach,
// so fixes are also written to it directly.
func locationSink(cfg config.ServerConfig, store storage.Drivers, locator geo.Locator, producer ingest.Sink) ingest.Sink {
	if producer == nil {
		return &ingest.Direct{Drivers: store, Locator: locator}
	}
	if cfg.PGDSN == "" {
		return ingest.Fanout{&ingest.Direct{Drivers: store}, producer}
	}
	return producer
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ps, err := storage.NewPostgresStore(connectCtx, cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if cfg.RunMigrations {
		if err := ps.Migrate(connectCtx); err != nil {
			_ = ps.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}
	return ps, func() { _ = ps.Close() }, nil
}
