package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pathledger/internal/domain"
)

func newMockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func TestEventRepository_PostgresClaimIsConditionalUpdate(t *testing.T) {
	gdb, mock := newMockPostgres(t)
	repo := NewEventRepository(gdb)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "events" SET "anchor_claimed_at"=$1 WHERE message_id = $2 AND ledger_ref IS NULL AND hash_status = $3 AND (anchor_claimed_at IS NULL OR anchor_claimed_at < $4)`)).
		WithArgs(sqlmock.AnyArg(), "m1", "verified", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ClaimForAnchoring(context.Background(), "m1", time.Now(), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_PostgresInsertUsesOnConflictDoNothing(t *testing.T) {
	gdb, mock := newMockPostgres(t)
	repo := NewEventRepository(gdb)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "events"`) + `.*` + regexp.QuoteMeta(`ON CONFLICT DO NOTHING`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, created, err := repo.InsertIfAbsent(context.Background(), testEvent("m1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_PostgresSetLedgerRefGuardsNull(t *testing.T) {
	gdb, mock := newMockPostgres(t)
	repo := NewEventRepository(gdb)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "events" SET`) + `.*` + regexp.QuoteMeta(`WHERE message_id = $3 AND ledger_ref IS NULL`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetLedgerRef(context.Background(), "m1", "0xabc"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_PostgresGetMapsNotFound(t *testing.T) {
	gdb, mock := newMockPostgres(t)
	repo := NewEventRepository(gdb)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "events" WHERE message_id = $1 AND kind = $2`)).
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}))

	_, err := repo.Get(context.Background(), domain.EventKindTracker, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
