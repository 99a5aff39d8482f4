package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected http addr %q", cfg.HTTPAddr)
	}
	if cfg.LedgerMode != LedgerModeMemory || cfg.AnchorQueue != QueueMemory {
		t.Fatalf("unexpected ledger/queue defaults: %q %q", cfg.LedgerMode, cfg.AnchorQueue)
	}
	if cfg.LedgerTimeout != 10*time.Second {
		t.Fatalf("unexpected ledger timeout %s", cfg.LedgerTimeout)
	}
	if cfg.SignatureMode != SignatureModeOff {
		t.Fatalf("unexpected signature mode %q", cfg.SignatureMode)
	}
	if cfg.RateLimitWindow() != time.Minute {
		t.Fatalf("unexpected rate limit window %s", cfg.RateLimitWindow())
	}
	if cfg.NATSStream != "" || cfg.NATSAckWait != time.Minute || cfg.NATSMaxDeliver != 10 {
		t.Fatalf("unexpected nats stream defaults: %q %s %d", cfg.NATSStream, cfg.NATSAckWait, cfg.NATSMaxDeliver)
	}
}

func TestFromEnvParsesLists(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("GATEWAY_API_KEYS", "alpha, beta,,gamma ")
	t.Setenv("ANCHOR_WORKERS", "0")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if len(cfg.GatewayAPIKeys) != 3 || cfg.GatewayAPIKeys[1] != "beta" || cfg.GatewayAPIKeys[2] != "gamma" {
		t.Fatalf("unexpected api keys %#v", cfg.GatewayAPIKeys)
	}
	if cfg.AnchorWorkers != 1 {
		t.Fatalf("expected worker floor of 1, got %d", cfg.AnchorWorkers)
	}
}

func TestFromEnvValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn": {"DB_DRIVER": "postgres"},
		"iota without url":     {"DB_DRIVER": "sqlite", "LEDGER_MODE": "iota"},
		"redis without addr":   {"DB_DRIVER": "sqlite", "ANCHOR_QUEUE": "redis"},
		"bad signature mode":   {"DB_DRIVER": "sqlite", "SIGNATURE_MODE": "maybe"},
		"bad duration":         {"DB_DRIVER": "sqlite", "LEDGER_TIMEOUT": "soon"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("POSTGRES_DSN", "")
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
