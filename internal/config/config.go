package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are loaded from environment variables with defaults so the binary
// runs locally (in-memory store, no Redis/Kafka/Stripe) without setup.
type ServerConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSOrigin      string        `env:"CORS_ORIGIN" envDefault:"*"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisGeoKey   string `env:"REDIS_GEO_KEY" envDefault:"drivers_geo"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"driver-locations"`

	PGDSN         string `env:"PG_DSN"`
	RunMigrations bool   `env:"MIGRATE"`

	MatcherTopN            int     `env:"MATCHER_TOP_N" envDefault:"8"`
	MatcherDefaultRadiusKm float64 `env:"MATCHER_DEFAULT_RADIUS_KM" envDefault:"10"`

	StripeAPIKey    string `env:"STRIPE_API_KEY"`
	PaymentCurrency string `env:"PAYMENT_CURRENCY" envDefault:"inr"`

	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampleRatio float64 `env:"OTEL_TRACE_SAMPLE_RATIO" envDefault:"1"`

	WSSendBuffer int    `env:"WS_SEND_BUFFER" envDefault:"256"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *ServerConfig) normalize() {
	c.KafkaBrokers = splitAndTrim(strings.Join(c.KafkaBrokers, ","))
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.PaymentCurrency = strings.ToLower(strings.TrimSpace(c.PaymentCurrency))
}

// Validate reports every invalid setting at once.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.MatcherTopN <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be > 0"))
	}
	if c.MatcherDefaultRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_DEFAULT_RADIUS_KM must be > 0"))
	}
	if c.WSSendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be > 0"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACE_SAMPLE_RATIO must be within [0,1]"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_SHUTDOWN_TIMEOUT must be > 0"))
	}
	if c.PaymentCurrency == "" {
		errs = append(errs, fmt.Errorf("PAYMENT_CURRENCY must not be empty"))
	}
	return errors.Join(errs...)
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
