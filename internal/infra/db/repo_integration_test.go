//go:build integration
// +build integration

package db

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"pathledger/internal/config"
	"pathledger/internal/domain"
)

func setupPostgresStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	gdb, err := Open(config.DBDriverPostgres, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store := NewStoreFromDB(gdb)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := gdb.Exec(`
		TRUNCATE events,
			gateway_messages,
			notifications,
			anchor_attempts,
			anchor_receipts,
			product_order_statuses,
			product_order_trackers,
			product_order_items,
			product_orders,
			products,
			trackers,
			gateways
		RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgres_EventLifecycle(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	if _, created, err := store.Events.InsertIfAbsent(ctx, testEvent("m1")); err != nil || !created {
		t.Fatalf("insert: created=%v err=%v", created, err)
	}
	if _, created, err := store.Events.InsertIfAbsent(ctx, testEvent("m1")); err != nil || created {
		t.Fatalf("duplicate insert: created=%v err=%v", created, err)
	}
	ok, err := store.Events.ClaimForAnchoring(ctx, "m1", time.Now(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if err := store.Events.SetLedgerRef(ctx, "m1", "0xabc"); err != nil {
		t.Fatalf("set ledger ref: %v", err)
	}
	got, err := store.Events.Get(ctx, domain.EventKindTracker, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LedgerRef != "0xabc" || got.Payload["humidity"] == nil {
		t.Fatalf("unexpected event %+v", got)
	}
}
