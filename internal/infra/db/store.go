package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pathledger/internal/config"
)

type Store struct {
	DB *gorm.DB

	Events          *EventRepository
	Registry        *RegistryRepository
	Notifications   *NotificationRepository
	GatewayMessages *GatewayMessageRepository
	AnchorAttempts  *AnchorAttemptRepository
	AnchorReceipts  *AnchorReceiptRepository
}

func NewStore(cfg config.Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	gdb, err := Open(cfg.DBDriver, dsnFor(cfg))
	if err != nil {
		return nil, err
	}
	log.Info("database opened", slog.String("driver", cfg.DBDriver))
	return NewStoreFromDB(gdb), nil
}

// NewStoreFromDB wires the repositories around an open connection.
func NewStoreFromDB(gdb *gorm.DB) *Store {
	return &Store{
		DB:              gdb,
		Events:          NewEventRepository(gdb),
		Registry:        NewRegistryRepository(gdb),
		Notifications:   NewNotificationRepository(gdb),
		GatewayMessages: NewGatewayMessageRepository(gdb),
		AnchorAttempts:  NewAnchorAttemptRepository(gdb),
		AnchorReceipts:  NewAnchorReceiptRepository(gdb),
	}
}

func Open(driver, dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case config.DBDriverPostgres:
		gdb, err := gorm.Open(postgres.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return gdb, nil
	case config.DBDriverSQLite:
		gdb, err := gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if s.DB == nil {
		return errDBUnavailable
	}
	if err := s.DB.WithContext(ctx).AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.DB == nil {
		return errDBUnavailable
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dsnFor(cfg config.Config) string {
	if cfg.DBDriver == config.DBDriverSQLite {
		return cfg.SQLiteDSN
	}
	return cfg.PostgresDSN
}
