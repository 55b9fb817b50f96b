package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.MatcherTopN != 8 || cfg.MatcherDefaultRadiusKm != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReadTimeout != 5*time.Second || cfg.KafkaTopic != "driver-locations" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("expected no brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("HTTP_READ_TIMEOUT", "2s")
	t.Setenv("MIGRATE", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %q", cfg.KafkaBrokers)
	}
	if cfg.ReadTimeout != 2*time.Second || !cfg.RunMigrations || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadServerConfigReportsAllErrors(t *testing.T) {
	t.Setenv("MATCHER_TOP_N", "0")
	t.Setenv("WS_SEND_BUFFER", "-1")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "MATCHER_TOP_N") || !strings.Contains(msg, "WS_SEND_BUFFER") {
		t.Fatalf("expected both errors, got %q", msg)
	}
}

func TestLoadServerConfigBadDuration(t *testing.T) {
	t.Setenv("HTTP_IDLE_TIMEOUT", "soon")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatalf("expected parse error")
	}
}
