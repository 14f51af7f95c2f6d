package persistence

import (
	"context"
	"time"

	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncMetaRepository reads and writes the sync_meta bookkeeping table
type SyncMetaRepository struct {
	store *Store
}

// NewSyncMetaRepository creates a new SyncMetaRepository
func NewSyncMetaRepository(store *Store) *SyncMetaRepository {
	return &SyncMetaRepository{store: store}
}

func (r *SyncMetaRepository) ensure(ctx context.Context) error {
	s := r.store
	if s.Closed() {
		return storageErr("ensure", models.SyncMetaTable, errStoreClosed)
	}
	if s.isEnsured(models.SyncMetaTable) {
		return nil
	}
	lock := s.tableLock(models.SyncMetaTable)
	lock.Lock()
	defer lock.Unlock()
	if err := s.withContext(ctx, models.SyncMetaTable).AutoMigrate(&models.SyncMetaModel{}); err != nil {
		return storageErr("ensure", models.SyncMetaTable, err)
	}
	s.markEnsured(models.SyncMetaTable)
	return nil
}

// FindAll returns every entry keyed by dataset
func (r *SyncMetaRepository) FindAll(ctx context.Context) (map[community.DatasetKey]time.Time, error) {
	out := make(map[community.DatasetKey]time.Time)
	if err := r.ensure(ctx); err != nil {
		return out, err
	}
	var rows []models.SyncMetaModel
	if err := r.store.withContext(ctx, models.SyncMetaTable).Find(&rows).Error; err != nil {
		return out, storageErr("read", models.SyncMetaTable, err)
	}
	for i := range rows {
		entry := rows[i].ToDomain()
		out[entry.Key] = entry.LastUpdated
	}
	return out, nil
}

// Get returns the timestamp for key. ok is false when the key was never recorded.
func (r *SyncMetaRepository) Get(ctx context.Context, key community.DatasetKey) (ts time.Time, ok bool, err error) {
	if err := r.ensure(ctx); err != nil {
		return time.Time{}, false, err
	}
	var rows []models.SyncMetaModel
	if err := r.store.withContext(ctx, models.SyncMetaTable).
		Where(&models.SyncMetaModel{Key: key.String()}).
		Limit(1).
		Find(&rows).Error; err != nil {
		return time.Time{}, false, storageErr("read", models.SyncMetaTable, err)
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return rows[0].ToDomain().LastUpdated, true, nil
}

// Set records ts for key, replacing any previous value
func (r *SyncMetaRepository) Set(ctx context.Context, key community.DatasetKey, ts time.Time) error {
	return r.SetMany(ctx, map[community.DatasetKey]time.Time{key: ts})
}

// SetMany records several keys in one transaction
func (r *SyncMetaRepository) SetMany(ctx context.Context, entries map[community.DatasetKey]time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	rows := make([]*models.SyncMetaModel, 0, len(entries))
	for key, ts := range entries {
		rows = append(rows, models.SyncMetaModelFromDomain(community.SyncMetaEntry{Key: key, LastUpdated: ts}))
	}

	lock := r.store.tableLock(models.SyncMetaTable)
	lock.Lock()
	defer lock.Unlock()

	err := r.store.withContext(ctx, models.SyncMetaTable).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_updated"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return storageErr("upsert", models.SyncMetaTable, err)
	}
	return nil
}
