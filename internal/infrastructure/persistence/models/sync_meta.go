package models

import (
	"time"

	"github.com/unihub/hubsync/internal/domain/community"
)

// SyncMetaTable is the bookkeeping table holding one timestamp per dataset
const SyncMetaTable = "sync_meta"

// SyncMetaModel maps sync_meta(key TEXT PRIMARY KEY, last_updated TEXT).
// last_updated is RFC 3339 text in UTC so the value is portable between
// the device store and the backend's sync-check payload.
type SyncMetaModel struct {
	Key         string `gorm:"primaryKey;column:key;type:text"`
	LastUpdated string `gorm:"column:last_updated;type:text;not null"`
}

// TableName returns the table name for GORM
func (SyncMetaModel) TableName() string {
	return SyncMetaTable
}

// ToDomain converts the model to a domain entry. A value that does not
// parse yields the zero time so the key is treated as never synced.
func (m *SyncMetaModel) ToDomain() community.SyncMetaEntry {
	ts, err := time.Parse(time.RFC3339Nano, m.LastUpdated)
	if err != nil {
		ts = time.Time{}
	}
	return community.SyncMetaEntry{
		Key:         community.DatasetKey(m.Key),
		LastUpdated: ts.UTC(),
	}
}

// SyncMetaModelFromDomain creates a model from a domain entry
func SyncMetaModelFromDomain(e community.SyncMetaEntry) *SyncMetaModel {
	return &SyncMetaModel{
		Key:         e.Key.String(),
		LastUpdated: FormatTimestamp(e.LastUpdated),
	}
}

// FormatTimestamp renders t the way sync_meta stores it
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
