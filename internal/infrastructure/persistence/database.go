package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unihub/hubsync/internal/domain/shared"
	"github.com/unihub/hubsync/internal/infrastructure/config"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DefaultBatchSize is the number of rows per INSERT inside an upsert transaction
const DefaultBatchSize = 100

// Store is the device-resident relational store. One Store is opened per
// database file and shared by the ingester, the resolver and the tracker.
type Store struct {
	db        *gorm.DB
	path      string
	batchSize int
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	ensured map[string]bool
	closed  atomic.Bool
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithBatchSize sets the number of rows written per INSERT statement
func WithBatchSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger sets the store logger
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for synced_at
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (creating if absent) the SQLite store described by cfg
func Open(cfg *config.StoreConfig, log *zap.Logger, opts ...StoreOption) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, shared.Wrap(shared.ErrStorageUnavailable, fmt.Errorf("create store directory: %w", err))
			}
		}
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.LogLevel),
		logger.WithSlowThreshold(cfg.SlowThreshold))
	db, err := gorm.Open(sqlite.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLog,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, shared.Wrap(shared.ErrStorageUnavailable, fmt.Errorf("failed to open store: %w", err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, shared.Wrap(shared.ErrStorageUnavailable, fmt.Errorf("failed to get underlying sql.DB: %w", err))
	}
	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	if cfg.Path == ":memory:" {
		// every new connection to :memory: is a fresh empty database
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, shared.Wrap(shared.ErrStorageUnavailable, fmt.Errorf("failed to ping store: %w", err))
	}

	opts = append([]StoreOption{WithLogger(log), WithBatchSize(cfg.BatchSize)}, opts...)
	s := NewStore(db, opts...)
	s.path = cfg.Path
	s.logger.Info("Local store opened", zap.String("path", cfg.Path))
	return s, nil
}

// NewStore wraps an already opened GORM handle
func NewStore(db *gorm.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:        db,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
		ensured:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store")
	return s
}

// DB returns the underlying GORM handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Path returns the file path the store was opened from, empty for NewStore
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle. Further operations fail with
// ErrStorageUnavailable.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Closed reports whether Close has been called
func (s *Store) Closed() bool {
	return s.closed.Load()
}

// Ping checks if the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	if s.Closed() {
		return shared.Wrap(shared.ErrStorageUnavailable, errStoreClosed)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return shared.Wrap(shared.ErrStorageUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return shared.Wrap(shared.ErrStorageUnavailable, err)
	}
	return nil
}

// Stats returns connection pool statistics
func (s *Store) Stats() (ConnectionStats, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return ConnectionStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}, nil
}

// ConnectionStats holds database connection pool statistics
type ConnectionStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// tableLock returns the write lock for table, creating it on first use
func (s *Store) tableLock(table string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[table]
	if !ok {
		l = &sync.Mutex{}
		s.locks[table] = l
	}
	return l
}

func (s *Store) isEnsured(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensured[table]
}

func (s *Store) markEnsured(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured[table] = true
}

// withContext returns a session bound to ctx, tagged for logging
func (s *Store) withContext(ctx context.Context, table string) *gorm.DB {
	return s.db.WithContext(logger.WithDataset(ctx, table))
}
