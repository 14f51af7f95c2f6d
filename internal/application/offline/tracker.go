package offline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/domain/shared"
	"github.com/unihub/hubsync/internal/infrastructure/config"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"github.com/unihub/hubsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// MetaStore persists one last-updated timestamp per dataset key
type MetaStore interface {
	FindAll(ctx context.Context) (map[community.DatasetKey]time.Time, error)
	SetMany(ctx context.Context, entries map[community.DatasetKey]time.Time) error
}

// SyncChecker performs the sync-check exchange with the backend
type SyncChecker interface {
	CheckSync(ctx context.Context, meta map[string]string) (changed map[string]string, unchanged bool, err error)
}

// Tracker negotiates staleness with the backend and remembers which keys
// it reported stale. It is safe for concurrent use.
type Tracker struct {
	meta    MetaStore
	remote  SyncChecker
	cfg     config.SyncConfig
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics
	now     func() time.Time

	mu     sync.Mutex
	stale  map[community.DatasetKey]time.Time
	gaveUp atomic.Bool
}

// NewTracker creates a tracker. remote may be nil when no backend is
// configured; checks then report unreachable.
func NewTracker(meta MetaStore, remote SyncChecker, cfg config.SyncConfig, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		meta:   meta,
		remote: remote,
		cfg:    cfg,
		logger: logger.Named("tracker"),
		now:    time.Now,
		stale:  make(map[community.DatasetKey]time.Time),
	}
}

// SetMetrics sets the metrics recorder
func (t *Tracker) SetMetrics(m *telemetry.SyncMetrics) {
	t.metrics = m
}

// SetClock overrides the clock used for sync_meta timestamps
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// LocalMeta returns the stored timestamps. Storage failures read as empty.
func (t *Tracker) LocalMeta(ctx context.Context) map[community.DatasetKey]time.Time {
	meta, err := t.meta.FindAll(ctx)
	if err != nil {
		t.logger.Warn("Reading sync metadata failed, treating as empty", zap.Error(err))
		return map[community.DatasetKey]time.Time{}
	}
	return meta
}

// GaveUp reports whether retries were exhausted in this session
func (t *Tracker) GaveUp() bool {
	return t.gaveUp.Load()
}

// CheckRemote asks the backend which datasets are stale. It never returns an
// error: failures are folded into the result status.
func (t *Tracker) CheckRemote(ctx context.Context) community.SyncCheckResult {
	ctx = logger.WithOperation(ctx, "sync_check")
	ctx, span := telemetry.StartSpan(ctx, "tracker.check_remote")
	defer span.End()

	result := t.checkRemote(ctx)
	telemetry.SetAttributes(span, telemetry.SpanAttrStatus, string(result.Status))
	t.metrics.RecordSyncCheck(ctx, string(result.Status))
	t.metrics.RecordStaleDatasets(ctx, len(t.StaleKeys()))
	return result
}

func (t *Tracker) checkRemote(ctx context.Context) community.SyncCheckResult {
	if t.gaveUp.Load() {
		return community.SyncCheckResult{Status: community.SyncStatusGaveUp}
	}
	if t.remote == nil {
		return community.SyncCheckResult{Status: community.SyncStatusUnreachable}
	}

	log := logger.WithLogger(ctx, t.logger)
	local := t.LocalMeta(ctx)
	payload := make(map[string]string, len(local))
	for key, ts := range local {
		if ts.IsZero() {
			continue
		}
		payload[key.String()] = ts.UTC().Format(time.RFC3339Nano)
	}

	var (
		changed   map[string]string
		unchanged bool
		attempts  int
	)
	op := func() error {
		attempts++
		var err error
		changed, unchanged, err = t.remote.CheckSync(ctx, payload)
		if err != nil && errors.Is(err, shared.ErrMalformedPayload) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Debug("Sync check failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, t.backOff(ctx), notify); err != nil {
		switch {
		case ctx.Err() != nil:
			return community.SyncCheckResult{Status: community.SyncStatusUnreachable}
		case errors.Is(err, shared.ErrMalformedPayload):
			log.Warn("Sync check answered with a malformed payload", zap.Error(err))
			return community.SyncCheckResult{Status: community.SyncStatusUnreachable}
		default:
			t.gaveUp.Store(true)
			log.Warn("Sync check gave up until next launch",
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return community.SyncCheckResult{Status: community.SyncStatusGaveUp}
		}
	}

	if unchanged || len(changed) == 0 {
		return upToDate()
	}

	stale := staleAgainst(local, changed)
	if len(stale) == 0 {
		log.Debug("Sync check reported only datasets that are already current",
			zap.Int("reported", len(changed)))
		return upToDate()
	}

	t.mu.Lock()
	for key, ts := range stale {
		t.stale[key] = ts
	}
	t.mu.Unlock()

	log.Info("Sync check reported stale datasets", zap.Int("stale", len(stale)))
	return community.SyncCheckResult{Status: community.SyncStatusStale, Stale: stale}
}

func upToDate() community.SyncCheckResult {
	return community.SyncCheckResult{
		Status: community.SyncStatusUpToDate,
		Stale:  map[community.DatasetKey]time.Time{},
	}
}

// staleAgainst keeps the reported keys that are unknown locally, carry no
// usable timestamp on either side, or are newer on the server.
func staleAgainst(local map[community.DatasetKey]time.Time, changed map[string]string) map[community.DatasetKey]time.Time {
	stale := make(map[community.DatasetKey]time.Time, len(changed))
	for raw, at := range changed {
		key := community.DatasetKey(raw)
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			ts = time.Time{}
		}
		ts = ts.UTC()

		have, ok := local[key]
		if !ok || have.IsZero() || ts.IsZero() || ts.After(have) {
			stale[key] = ts
		}
	}
	return stale
}

func (t *Tracker) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(t.cfg.InitialBackoff),
		backoff.WithMaxInterval(t.cfg.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	retries := t.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Dispatch runs CheckRemote in the background. onResult is called only if
// ctx is still live when the check finishes.
func (t *Tracker) Dispatch(ctx context.Context, onResult func(community.SyncCheckResult)) {
	go func() {
		result := t.CheckRemote(ctx)
		if ctx.Err() != nil {
			t.logger.Debug("Sync check result dropped, caller is gone")
			return
		}
		if onResult != nil {
			onResult(result)
		}
	}()
}

// IsStale reports whether the last sync-check marked key stale
func (t *Tracker) IsStale(key community.DatasetKey) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.stale[key]
	return ok
}

// StaleKeys returns the keys currently marked stale
func (t *Tracker) StaleKeys() []community.DatasetKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := community.SyncCheckResult{Stale: t.stale}
	return res.StaleKeys()
}

// MarkRefreshed records that key now holds the backend's data. The server
// timestamp from the sync-check is stored when known, otherwise now.
func (t *Tracker) MarkRefreshed(ctx context.Context, key community.DatasetKey) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	ts, ok := t.stale[key]
	t.mu.Unlock()
	if !ok || ts.IsZero() {
		ts = t.now().UTC()
	}

	if err := t.meta.SetMany(ctx, map[community.DatasetKey]time.Time{key: ts}); err != nil {
		logger.WithLogger(logger.WithDataset(ctx, key.String()), t.logger).Warn("Recording refresh failed", zap.Error(err))
		return err
	}

	t.mu.Lock()
	delete(t.stale, key)
	t.mu.Unlock()
	return nil
}

// MarkSynced records now for every key, clearing their stale marks. The
// ingester calls it after committing a bundle.
func (t *Tracker) MarkSynced(ctx context.Context, keys ...community.DatasetKey) error {
	if t == nil || len(keys) == 0 {
		return nil
	}
	now := t.now().UTC()
	entries := make(map[community.DatasetKey]time.Time, len(keys))
	for _, key := range keys {
		entries[key] = now
	}
	if err := t.meta.SetMany(ctx, entries); err != nil {
		t.logger.Warn("Recording sync metadata failed", zap.Int("datasets", len(keys)), zap.Error(err))
		return err
	}

	t.mu.Lock()
	for _, key := range keys {
		delete(t.stale, key)
	}
	t.mu.Unlock()
	return nil
}
