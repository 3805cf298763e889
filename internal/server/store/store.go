package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Error is a matchable store error.
type Error string

func (err Error) Error() string {
	return string(err)
}

const (
	// ErrDeviceNotFound is returned when no device has the requested hardware id.
	ErrDeviceNotFound Error = "device not found"
	// ErrNonceExists is returned when a signature hash was already recorded.
	ErrNonceExists Error = "nonce already recorded"
	// ErrNoLocation is returned when a device has no stored points.
	ErrNoLocation Error = "no location recorded"
)

// PoolConfig tunes the database connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store wraps gorm.DB with the backend's repositories.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open connects to PostgreSQL and migrates the schema.
func Open(ctx context.Context, dsn string, pool PoolConfig, log zerolog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	return open(ctx, postgres.Open(dsn), pool, log)
}

// OpenSQLite opens a SQLite database at path (":memory:" works) and migrates the schema.
// It backs tests and single-node development setups.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	// A single connection keeps an in-memory database shared by every query.
	return open(ctx, sqlite.Open(path+"?_foreign_keys=on&_busy_timeout=5000"), PoolConfig{MaxOpenConns: 1}, log)
}

func open(ctx context.Context, dialector gorm.Dialector, pool PoolConfig, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	s := &Store{db: db, logger: log.With().Str("component", "store").Logger()}
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Device{}, &RequestNonce{}, &LocationPoint{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	s.logger.Debug().Msg("Schema migrated")
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
