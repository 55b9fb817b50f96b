package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var cli = struct {
	MetricsAddr string   `name:"metrics-addr" env:"METRICS_ADDR" default:":2112" help:"Address to serve metrics and health on."`
	Brokers     []string `name:"brokers" env:"KAFKA_BROKERS" default:"localhost:9092" help:"Kafka brokers."`
	Topic       string   `name:"topic" env:"KAFKA_TOPIC" default:"driver-locations"`
	Group       string   `name:"group" env:"KAFKA_GROUP" default:"ride-dispatch-consumer"`
	RedisAddr   string   `name:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379"`
	RedisGeoKey string   `name:"redis-geo-key" env:"REDIS_GEO_KEY" default:"drivers_geo"`
	PGDSN       string   `name:"pg-dsn" env:"PG_DSN" help:"When set, fixes are also written to the driver store."`
	Attempts    int      `name:"attempts" default:"3" help:"Write attempts per message."`
	LogLevel    string   `name:"log-level" env:"LOG_LEVEL" default:"info"`
}{}

const namespace = "ride_dispatch"

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_messages_consumed_total",
		Help:      "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_messages_invalid_total",
		Help:      "Total invalid messages received",
	})
	locationUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_location_updates_total",
		Help:      "Total driver locations applied",
	})
	locationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_location_errors_total",
		Help:      "Total driver locations that could not be applied",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, locationUpdates, locationErrors)
}

func main() {
	kong.Parse(&cli, kong.Name("ride-dispatch-consumer"), kong.Description("Applies driver location fixes from Kafka to the geo index and driver store."))
	logger := logging.NewLogger(cli.LogLevel, "ride-dispatch-consumer")
	if err := run(logger); err != nil {
		logger.Error("consumer exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rg := geo.NewRedisGeo(cli.RedisAddr, "", cli.RedisGeoKey)
	defer rg.Close()
	sink := &ingest.Direct{Locator: rg}
	if cli.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cli.PGDSN)
		if err != nil {
			return err
		}
		defer ps.Close()
		sink.Drivers = ps
	}

	go serveMetrics(logger, rg)

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cli.Brokers, Topic: cli.Topic, GroupID: cli.Group, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cli.Topic, "brokers", cli.Brokers, "group", cli.Group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return nil
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		loc, err := ingest.Decode(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		if err := updateWithRetry(ctx, sink, loc, cli.Attempts, 200*time.Millisecond); err != nil {
			locationErrors.Inc()
			logger.Warn("location update failed", "driver_id", loc.DriverID, "error", err)
			continue
		}
		locationUpdates.Inc()
	}
}

func serveMetrics(logger *slog.Logger, rg *geo.RedisGeo) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rg.Ping(r.Context()); err != nil {
			http.Error(w, "redis not ready", 503)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", cli.MetricsAddr)
	if err := http.ListenAndServe(cli.MetricsAddr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// updateWithRetry applies loc with exponential backoff. A driver unknown to
// the store is not retried.
func updateWithRetry(ctx context.Context, sink ingest.Sink, loc models.DriverLocation, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = sink.PublishLocation(ctx, loc); err == nil || errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
