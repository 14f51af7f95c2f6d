package community

import "time"

// SyncMetaEntry records when a dataset was last brought up to date on this
// device. Entries are device-global, not scoped to a university.
type SyncMetaEntry struct {
	Key         DatasetKey
	LastUpdated time.Time
}

// SyncStatus is the outcome of one staleness negotiation with the backend
type SyncStatus string

const (
	// SyncStatusUpToDate means the backend answered that nothing changed
	SyncStatusUpToDate SyncStatus = "up_to_date"
	// SyncStatusStale means the backend reported one or more stale keys
	SyncStatusStale SyncStatus = "stale"
	// SyncStatusUnreachable means the check failed and will be retried on the next trigger
	SyncStatusUnreachable SyncStatus = "unreachable"
	// SyncStatusGaveUp means retries were exhausted; no further checks run this session
	SyncStatusGaveUp SyncStatus = "gave_up"
)

// SyncCheckResult is what a sync-check reports to its caller
type SyncCheckResult struct {
	Status SyncStatus
	// Stale maps each stale key to the backend's modification time
	Stale map[DatasetKey]time.Time
}

// StaleKeys returns the stale keys in AllDatasetKeys order, followed by any
// key the backend reported that this build does not know
func (r SyncCheckResult) StaleKeys() []DatasetKey {
	keys := make([]DatasetKey, 0, len(r.Stale))
	for _, key := range AllDatasetKeys() {
		if _, ok := r.Stale[key]; ok {
			keys = append(keys, key)
		}
	}
	for key := range r.Stale {
		if !key.IsValid() {
			keys = append(keys, key)
		}
	}
	return keys
}
