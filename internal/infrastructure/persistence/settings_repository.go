package persistence

import (
	"context"

	"github.com/unihub/hubsync/internal/infrastructure/persistence/models"
	"gorm.io/gorm/clause"
)

// SettingActiveUniversity is the university of the last ingested bundle
const SettingActiveUniversity = "active_university"

// SettingsRepository reads and writes the settings table
type SettingsRepository struct {
	store *Store
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(store *Store) *SettingsRepository {
	return &SettingsRepository{store: store}
}

func (r *SettingsRepository) ensure(ctx context.Context) error {
	s := r.store
	if s.Closed() {
		return storageErr("ensure", models.SettingsTable, errStoreClosed)
	}
	if s.isEnsured(models.SettingsTable) {
		return nil
	}
	lock := s.tableLock(models.SettingsTable)
	lock.Lock()
	defer lock.Unlock()
	if err := s.withContext(ctx, models.SettingsTable).AutoMigrate(&models.SettingModel{}); err != nil {
		return storageErr("ensure", models.SettingsTable, err)
	}
	s.markEnsured(models.SettingsTable)
	return nil
}

// Get returns the value stored under key. ok is false when it was never set.
func (r *SettingsRepository) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	if err := r.ensure(ctx); err != nil {
		return "", false, err
	}
	var rows []models.SettingModel
	if err := r.store.withContext(ctx, models.SettingsTable).
		Where(&models.SettingModel{Key: key}).
		Limit(1).
		Find(&rows).Error; err != nil {
		return "", false, storageErr("read", models.SettingsTable, err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Value, true, nil
}

// Set stores value under key, replacing any previous value
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}

	lock := r.store.tableLock(models.SettingsTable)
	lock.Lock()
	defer lock.Unlock()

	err := r.store.withContext(ctx, models.SettingsTable).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&models.SettingModel{Key: key, Value: value}).Error
	if err != nil {
		return storageErr("upsert", models.SettingsTable, err)
	}
	return nil
}
