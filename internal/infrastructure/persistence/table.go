package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/domain/shared"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errStoreClosed = errors.New("store is closed")

func storageErr(op, table string, err error) error {
	return shared.Wrap(shared.ErrStorageUnavailable, fmt.Errorf("%s %s: %w", op, table, err))
}

// EnsureTable creates the table for T if it does not exist. Existing tables
// are left untouched; the check runs once per table per Store.
func EnsureTable[T any, P community.Record[T]](ctx context.Context, s *Store) error {
	table := community.TableOf[T, P]()
	if s.Closed() {
		return storageErr("ensure", table, errStoreClosed)
	}
	if s.isEnsured(table) {
		return nil
	}

	lock := s.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	if s.isEnsured(table) {
		return nil
	}
	if err := s.withContext(ctx, table).AutoMigrate(P(new(T))); err != nil {
		return storageErr("ensure", table, err)
	}
	s.markEnsured(table)
	return nil
}

// newestWins keeps the stored row when both sides carry a modification time
// and the incoming one is strictly older. Timestamps are written in UTC so
// SQLite's text comparison orders them correctly.
func newestWins(table string) clause.Expression {
	return clause.Expr{SQL: fmt.Sprintf(
		"(excluded.modified_at IS NULL OR %[1]s.modified_at IS NULL OR excluded.modified_at >= %[1]s.modified_at)",
		table,
	)}
}

// UpsertBatch writes rows into T's table in one transaction, replacing stored
// rows with the same id field-for-field. Either every row is written or none
// is. Writes to the same table are serialized.
func UpsertBatch[T any, P community.Record[T]](ctx context.Context, s *Store, rows []T) error {
	table := community.TableOf[T, P]()
	if len(rows) == 0 {
		return nil
	}
	if err := EnsureTable[T, P](ctx, s); err != nil {
		return err
	}

	stamped := make([]T, len(rows))
	copy(stamped, rows)
	now := s.now().UTC()
	for i := range stamped {
		meta := P(&stamped[i]).Meta()
		meta.SyncedAt = now
		if meta.ModifiedAt != nil {
			utc := meta.ModifiedAt.UTC()
			meta.ModifiedAt = &utc
		}
	}

	lock := s.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	err := s.withContext(ctx, table).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
			Where:     clause.Where{Exprs: []clause.Expression{newestWins(table)}},
		}).CreateInBatches(&stamped, s.batchSize).Error
	})
	if err != nil {
		s.logger.Warn("Upsert rolled back",
			zap.String("table", table),
			zap.Int("rows", len(rows)),
			zap.Error(err),
		)
		return storageErr("upsert", table, err)
	}

	s.logger.Debug("Upsert committed",
		zap.String("table", table),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ReadAll returns every row of T's table ordered by id. A missing table is
// created and reads as empty; the result is never nil on success.
func ReadAll[T any, P community.Record[T]](ctx context.Context, s *Store) ([]T, error) {
	table := community.TableOf[T, P]()
	if err := EnsureTable[T, P](ctx, s); err != nil {
		return []T{}, err
	}

	rows := make([]T, 0)
	if err := s.withContext(ctx, table).Order("id").Find(&rows).Error; err != nil {
		return []T{}, storageErr("read", table, err)
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}

// Count returns the number of rows in T's table
func Count[T any, P community.Record[T]](ctx context.Context, s *Store) (int64, error) {
	table := community.TableOf[T, P]()
	if err := EnsureTable[T, P](ctx, s); err != nil {
		return 0, err
	}
	var n int64
	if err := s.withContext(ctx, table).Model(P(new(T))).Count(&n).Error; err != nil {
		return 0, storageErr("count", table, err)
	}
	return n, nil
}

// LastSyncedAt returns the most recent synced_at in T's table. ok is false
// when the table is empty.
func LastSyncedAt[T any, P community.Record[T]](ctx context.Context, s *Store) (ts time.Time, ok bool, err error) {
	table := community.TableOf[T, P]()
	if err := EnsureTable[T, P](ctx, s); err != nil {
		return time.Time{}, false, err
	}
	var rows []T
	if err := s.withContext(ctx, table).Order("synced_at DESC").Limit(1).Find(&rows).Error; err != nil {
		return time.Time{}, false, storageErr("read", table, err)
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return P(&rows[0]).Meta().SyncedAt, true, nil
}
