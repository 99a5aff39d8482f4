package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	SQLiteDSN   string `env:"SQLITE_DSN" envDefault:"file:pathledger.db?_pragma=busy_timeout(5000)"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	GatewayAPIKeys []string `env:"GATEWAY_API_KEYS" envSeparator:","`
	AdminAPIKey    string   `env:"ADMIN_API_KEY"`

	LedgerMode       string        `env:"LEDGER_MODE" envDefault:"memory"`
	LedgerNodeURL    string        `env:"LEDGER_NODE_URL"`
	LedgerTimeout    time.Duration `env:"LEDGER_TIMEOUT" envDefault:"10s"`
	LedgerPublishRPS float64       `env:"LEDGER_PUBLISH_RPS" envDefault:"5"`
	LedgerCacheTTL   time.Duration `env:"LEDGER_CACHE_TTL" envDefault:"10m"`

	AnchorQueue         string        `env:"ANCHOR_QUEUE" envDefault:"memory"`
	AnchorWorkers       int           `env:"ANCHOR_WORKERS" envDefault:"2"`
	AnchorRetryInterval time.Duration `env:"ANCHOR_RETRY_INTERVAL" envDefault:"1m"`
	AnchorRetryBatch    int           `env:"ANCHOR_RETRY_BATCH" envDefault:"100"`

	VerifyConcurrency int           `env:"VERIFY_CONCURRENCY" envDefault:"8"`
	VerifyItemTimeout time.Duration `env:"VERIFY_ITEM_TIMEOUT" envDefault:"15s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RateLimitRequests      int  `env:"RATE_LIMIT_REQUESTS" envDefault:"0"`
	RateLimitWindowSeconds int  `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	RateLimitFailClosed    bool `env:"RATE_LIMIT_FAIL_CLOSED" envDefault:"false"`
	RateLimitMaxKeys       int  `env:"RATE_LIMIT_MAX_KEYS" envDefault:"10000"`

	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT" envDefault:"pathledger.gateway"`
	NATSQueue   string `env:"NATS_QUEUE" envDefault:"pathledger-ingest"`

	// NATSStream switches ingestion to a durable JetStream consumer.
	NATSStream     string        `env:"NATS_STREAM"`
	NATSAckWait    time.Duration `env:"NATS_ACK_WAIT" envDefault:"1m"`
	NATSMaxDeliver int           `env:"NATS_MAX_DELIVER" envDefault:"10"`

	AdmissionPolicyPath string `env:"ADMISSION_POLICY_PATH"`
	RegistrySeedPath    string `env:"REGISTRY_SEED_PATH"`
	SupportedSchema     string `env:"SUPPORTED_SCHEMA" envDefault:">= 1.0.0, < 2.0.0"`
	SignatureMode       string `env:"SIGNATURE_MODE" envDefault:"off"`

	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"pathledgerd"`
}

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	LedgerModeIOTA   = "iota"
	LedgerModeMemory = "memory"

	QueueMemory = "memory"
	QueueRedis  = "redis"

	SignatureModeOff    = "off"
	SignatureModeVerify = "verify"
)

func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.LedgerMode = strings.ToLower(strings.TrimSpace(c.LedgerMode))
	c.AnchorQueue = strings.ToLower(strings.TrimSpace(c.AnchorQueue))
	c.SignatureMode = strings.ToLower(strings.TrimSpace(c.SignatureMode))
	keys := c.GatewayAPIKeys[:0]
	for _, k := range c.GatewayAPIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	c.GatewayAPIKeys = keys
	if c.AnchorWorkers <= 0 {
		c.AnchorWorkers = 1
	}
	if c.VerifyConcurrency <= 0 {
		c.VerifyConcurrency = 1
	}
	if c.RateLimitWindowSeconds <= 0 {
		c.RateLimitWindowSeconds = 60
	}
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DBDriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DB_DRIVER=%s", DBDriverPostgres)
		}
	case DBDriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.LedgerMode {
	case LedgerModeIOTA:
		if c.LedgerNodeURL == "" {
			return fmt.Errorf("LEDGER_NODE_URL is required when LEDGER_MODE=%s", LedgerModeIOTA)
		}
	case LedgerModeMemory:
	default:
		return fmt.Errorf("unsupported LEDGER_MODE %q", c.LedgerMode)
	}
	switch c.AnchorQueue {
	case QueueMemory:
	case QueueRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when ANCHOR_QUEUE=%s", QueueRedis)
		}
	default:
		return fmt.Errorf("unsupported ANCHOR_QUEUE %q", c.AnchorQueue)
	}
	switch c.SignatureMode {
	case SignatureModeOff, SignatureModeVerify:
	default:
		return fmt.Errorf("unsupported SIGNATURE_MODE %q", c.SignatureMode)
	}
	return nil
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
