package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"pathledger/internal/config"
	"pathledger/internal/domain"
	"pathledger/internal/infra/anchor"
	"pathledger/internal/infra/anchor/iota"
	"pathledger/internal/infra/anchor/ledgermem"
	"pathledger/internal/infra/cachemem"
	"pathledger/internal/infra/crypto"
	"pathledger/internal/infra/db"
	httpinfra "pathledger/internal/infra/http"
	"pathledger/internal/infra/metrics"
	"pathledger/internal/infra/natsingest"
	"pathledger/internal/infra/policyopa"
	"pathledger/internal/infra/queue"
	"pathledger/internal/infra/ratelimit"
	"pathledger/internal/infra/registryseed"
	"pathledger/internal/infra/tracing"
	"pathledger/internal/usecase"
)

const (
	memoryQueueCapacity = 4096
	ledgerCacheEntries  = 50000
)

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Warn("tracing shutdown failed", "err", err)
		}
	}()

	store, err := db.NewStore(cfg, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if cfg.RegistrySeedPath != "" {
		sum, err := registryseed.LoadAndApply(ctx, store.Registry, cfg.RegistrySeedPath)
		if err != nil {
			return fmt.Errorf("registry seed: %w", err)
		}
		log.Info("registry seeded",
			"gateways", sum.Gateways, "trackers", sum.Trackers, "products", sum.Products, "orders", sum.Orders)
	}

	ledger, err := newLedger(cfg)
	if err != nil {
		return err
	}
	collectors := metrics.New()
	client, err := anchor.NewClient(ledger, store.AnchorReceipts)
	if err != nil {
		return err
	}
	client = client.WithCache(cachemem.New(ledgerCacheEntries), cfg.LedgerCacheTTL)
	anchors, err := anchor.NewService(client, ledger.Name(), store.AnchorAttempts, store.AnchorReceipts, anchor.ServiceOptions{
		Timeout:    cfg.LedgerTimeout,
		PublishRPS: cfg.LedgerPublishRPS,
		Observer:   collectors,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	jobs, err := newQueue(cfg)
	if err != nil {
		return err
	}
	policy, err := newPolicy(ctx, cfg)
	if err != nil {
		return err
	}
	schema, err := semver.NewConstraint(cfg.SupportedSchema)
	if err != nil {
		return fmt.Errorf("SUPPORTED_SCHEMA: %w", err)
	}

	hasher := crypto.NewService()
	fanOut := &usecase.FanOut{
		Registry:      store.Registry,
		Events:        store.Events,
		Notifications: store.Notifications,
		Hasher:        hasher,
		Queue:         jobs,
		Metrics:       collectors,
		Logger:        log,
	}
	ingest := &usecase.IngestGateway{
		Registry:         store.Registry,
		Events:           store.Events,
		Archive:          store.GatewayMessages,
		Notifications:    store.Notifications,
		Hasher:           hasher,
		Signatures:       hasher,
		Policy:           policy,
		Queue:            jobs,
		FanOut:           fanOut,
		Metrics:          collectors,
		Logger:           log,
		SupportedSchema:  schema,
		VerifySignatures: cfg.SignatureMode == config.SignatureModeVerify,
	}
	anchorEvent := &usecase.AnchorEvent{
		Events:   store.Events,
		Receipts: store.AnchorReceipts,
		Hasher:   hasher,
		Anchorer: anchors,
		Logger:   log,
	}
	verify := &usecase.VerifyEvents{
		Events:      store.Events,
		Ledger:      client,
		Hasher:      hasher,
		Concurrency: cfg.VerifyConcurrency,
		ItemTimeout: cfg.VerifyItemTimeout,
		Metrics:     collectors,
		Logger:      log,
	}
	sweeper := &usecase.RetryUnanchored{
		Events:    store.Events,
		Queue:     jobs,
		MinAge:    cfg.AnchorRetryInterval,
		BatchSize: cfg.AnchorRetryBatch,
		Logger:    log,
	}
	worker := &anchor.Worker{
		Queue:       jobs,
		Concurrency: cfg.AnchorWorkers,
		Logger:      log,
		Handle: func(ctx context.Context, job domain.AnchorJob) error {
			_, err := anchorEvent.Execute(ctx, job)
			return err
		},
	}

	server := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Ingest:        ingest,
		Verify:        verify,
		Events:        store.Events,
		Notifications: store.Notifications,
		Registry:      store.Registry,
		Health:        store.Ping,
		Metrics:       collectors.Handler(),
		RateLimiter:   newRateLimiter(cfg, log),
		Logger:        log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		sweeper.Run(gctx, cfg.AnchorRetryInterval)
		return nil
	})
	if cfg.NATSURL != "" {
		nc, err := natsingest.Connect(cfg.NATSURL, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		consumer := &natsingest.Consumer{Ingest: ingest, Logger: log.With("component", "nats_ingest")}
		if cfg.NATSStream != "" {
			_, err = consumer.SubscribeStream(nc, cfg.NATSSubject, natsingest.StreamOptions{
				Stream:     cfg.NATSStream,
				Durable:    cfg.NATSQueue,
				AckWait:    cfg.NATSAckWait,
				MaxDeliver: cfg.NATSMaxDeliver,
			})
		} else {
			_, err = consumer.Subscribe(nc, cfg.NATSSubject, cfg.NATSQueue)
		}
		if err != nil {
			nc.Close()
			return fmt.Errorf("nats subscribe: %w", err)
		}
		log.Info("nats ingestion subscribed", "subject", cfg.NATSSubject, "queue", cfg.NATSQueue, "stream", cfg.NATSStream)
		g.Go(func() error {
			<-gctx.Done()
			return nc.Drain()
		})
	}

	log.Info("pathledgerd started", "ledger", ledger.Name(), "queue", cfg.AnchorQueue, "db", cfg.DBDriver)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLedger(cfg config.Config) (domain.Ledger, error) {
	switch cfg.LedgerMode {
	case config.LedgerModeIOTA:
		return iota.NewClient(cfg.LedgerNodeURL, &http.Client{Timeout: cfg.LedgerTimeout})
	default:
		return ledgermem.New(), nil
	}
}

func newQueue(cfg config.Config) (domain.AnchorQueue, error) {
	switch cfg.AnchorQueue {
	case config.QueueRedis:
		q, err := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "")
		if err != nil {
			return nil, fmt.Errorf("anchor queue: %w", err)
		}
		return q, nil
	default:
		return queue.NewMemoryQueue(memoryQueueCapacity), nil
	}
}

func newPolicy(ctx context.Context, cfg config.Config) (*policyopa.Engine, error) {
	if cfg.AdmissionPolicyPath != "" {
		engine, err := policyopa.NewEngineFromPath(ctx, cfg.AdmissionPolicyPath)
		if err != nil {
			return nil, fmt.Errorf("admission policy: %w", err)
		}
		return engine, nil
	}
	engine, err := policyopa.NewDefaultEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("admission policy: %w", err)
	}
	return engine, nil
}

// newRateLimiter prefers Redis so replicas share one budget, and falls back to
// a process-local limiter.
func newRateLimiter(cfg config.Config, log *slog.Logger) domain.RateLimiter {
	if cfg.RateLimitRequests <= 0 {
		return nil
	}
	if cfg.RedisAddr != "" {
		limiter, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, nil)
		if err == nil {
			return limiter
		}
		log.Warn("redis rate limiter unavailable, using memory", "err", err)
	}
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
}
