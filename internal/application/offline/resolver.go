package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/domain/shared"
	"github.com/unihub/hubsync/internal/infrastructure/config"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"github.com/unihub/hubsync/internal/infrastructure/persistence"
	"github.com/unihub/hubsync/internal/infrastructure/scheduler"
	"github.com/unihub/hubsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Tier names the source that served a resolution
type Tier string

const (
	TierLocal   Tier = "local"
	TierRemote  Tier = "remote"
	TierDefault Tier = "default"
	TierNone    Tier = "none"
)

// Lister fetches a JSON array listing from the backend
type Lister interface {
	FetchList(ctx context.Context, path string, out any) error
}

// FetchFunc fetches the rows of one dataset from the backend
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// ResolveResult is the outcome of one resolution. Rows is never nil.
type ResolveResult[T any] struct {
	Rows []T  `json:"rows"`
	Tier Tier `json:"tier"`
	// Err is ErrNoDataAvailable when every tier came up empty
	Err error `json:"error,omitempty"`
}

// Resolver serves datasets from the local store, then the backend, then the
// embedded defaults. It is safe for concurrent use.
type Resolver struct {
	store        *persistence.Store
	settings     *persistence.SettingsRepository
	remote       Lister
	tracker      *Tracker
	queue        *scheduler.RefreshQueue
	cfg          config.SyncConfig
	fetchTimeout time.Duration
	logger       *zap.Logger
	metrics      *telemetry.SyncMetrics
	now          func() time.Time

	group      singleflight.Group
	mu         sync.RWMutex
	university string
}

// NewResolver creates a resolver. remote and tracker may be nil.
func NewResolver(store *persistence.Store, remote Lister, tracker *Tracker, cfg config.SyncConfig, fetchTimeout time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:        store,
		settings:     persistence.NewSettingsRepository(store),
		remote:       remote,
		tracker:      tracker,
		cfg:          cfg,
		fetchTimeout: fetchTimeout,
		logger:       logger.Named("resolver"),
		now:          time.Now,
	}
}

// SetRefreshQueue enables stale-while-revalidate refreshes
func (r *Resolver) SetRefreshQueue(q *scheduler.RefreshQueue) {
	r.queue = q
}

// SetMetrics sets the metrics recorder
func (r *Resolver) SetMetrics(m *telemetry.SyncMetrics) {
	r.metrics = m
}

// SetClock overrides the clock used for the freshness window
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// SetUniversity sets the university stamped on written-through rows that
// arrive without one
func (r *Resolver) SetUniversity(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.university = name
}

// University returns the active university
func (r *Resolver) University() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.university
}

// activeUniversity returns the university set on r, falling back to the one
// recorded by the last ingest
func (r *Resolver) activeUniversity(ctx context.Context) string {
	if name := r.University(); name != "" {
		return name
	}
	name, ok, err := r.settings.Get(ctx, persistence.SettingActiveUniversity)
	if err != nil {
		logger.WithLogger(ctx, r.logger).Warn("Active university lookup failed", zap.Error(err))
		return ""
	}
	if !ok || name == "" {
		return ""
	}
	r.mu.Lock()
	if r.university == "" {
		r.university = name
	}
	r.mu.Unlock()
	return name
}

// Resolve returns the rows of ds from the first tier that has any. It never
// fails; an empty slice means no tier had data.
func Resolve[T any, P community.Record[T]](ctx context.Context, r *Resolver, ds community.Dataset[T]) []T {
	return ResolveDetailed[T, P](ctx, r, ds).Rows
}

// ResolveWith is Resolve with an explicit remote fetch
func ResolveWith[T any, P community.Record[T]](ctx context.Context, r *Resolver, ds community.Dataset[T], fetch FetchFunc[T]) []T {
	return resolve[T, P](ctx, r, ds, fetch).Rows
}

// ResolveDetailed is Resolve reporting the serving tier
func ResolveDetailed[T any, P community.Record[T]](ctx context.Context, r *Resolver, ds community.Dataset[T]) ResolveResult[T] {
	return resolve[T, P](ctx, r, ds, listFetch[T](r, ds.Path))
}

// ResolveAsync resolves on a new goroutine and hands the rows to apply,
// unless ctx was cancelled in the meantime
func ResolveAsync[T any, P community.Record[T]](ctx context.Context, r *Resolver, ds community.Dataset[T], apply func([]T)) {
	go func() {
		rows := Resolve[T, P](ctx, r, ds)
		if ctx.Err() != nil {
			logger.WithLogger(logger.WithDataset(ctx, ds.Key.String()), r.logger).Debug("Resolution dropped, caller is gone")
			return
		}
		apply(rows)
	}()
}

func listFetch[T any](r *Resolver, path string) FetchFunc[T] {
	return func(ctx context.Context) ([]T, error) {
		if r.remote == nil || path == "" {
			return nil, shared.Wrap(shared.ErrRemoteUnreachable, errors.New("no backend configured"))
		}
		rows := make([]T, 0)
		if err := r.remote.FetchList(ctx, path, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
}

func resolve[T any, P community.Record[T]](ctx context.Context, r *Resolver, ds community.Dataset[T], fetch FetchFunc[T]) ResolveResult[T] {
	key := ds.Key
	ctx = logger.WithDataset(logger.WithOperation(ctx, "resolve"), key.String())
	ctx, span := telemetry.StartSpan(ctx, "resolver.resolve",
		telemetry.WithAttribute(telemetry.SpanAttrDataset, key.String()))
	defer span.End()

	log := logger.WithLogger(ctx, r.logger)
	finish := func(res ResolveResult[T]) ResolveResult[T] {
		telemetry.SetAttributes(span,
			telemetry.SpanAttrTier, string(res.Tier),
			telemetry.SpanAttrRows, len(res.Rows),
		)
		r.metrics.RecordTier(ctx, key.String(), string(res.Tier))
		return res
	}

	local, err := persistence.ReadAll[T, P](ctx, r.store)
	if err != nil {
		log.Warn("Local read failed, treating store as empty", zap.Error(err))
	}
	if len(local) > 0 {
		revalidate[T, P](ctx, r, ds, fetch)
		return finish(ResolveResult[T]{Rows: local, Tier: TierLocal})
	}

	remote, err := fetchRemote(ctx, r, key, fetch)
	if err != nil {
		log.Info("Remote fetch failed, falling back to defaults", zap.Error(err))
	}
	if err == nil && len(remote) > 0 {
		return finish(ResolveResult[T]{Rows: writeThrough[T, P](ctx, r, key, remote), Tier: TierRemote})
	}

	if len(ds.Defaults) > 0 {
		return finish(ResolveResult[T]{Rows: ds.DefaultRows(), Tier: TierDefault})
	}

	log.Error("No data in any tier, dataset has no defaults", zap.Error(shared.ErrNoDataAvailable))
	telemetry.RecordError(span, shared.ErrNoDataAvailable)
	return finish(ResolveResult[T]{Rows: []T{}, Tier: TierNone, Err: shared.ErrNoDataAvailable})
}

// fetchRemote runs fetch under the fetch timeout. Concurrent fetches of the
// same key share one request, which is not bound to any single caller: a
// caller whose ctx ends stops waiting while the others keep theirs.
func fetchRemote[T any](ctx context.Context, r *Resolver, key community.DatasetKey, fetch FetchFunc[T]) ([]T, error) {
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key.String(), func() (any, error) {
		fctx, cancel := withTimeout(detached, r.fetchTimeout)
		defer cancel()

		start := time.Now()
		rows, err := safeFetch(fctx, fetch)
		r.metrics.RecordRemoteFetch(detached, key.String(), time.Since(start), err)
		return rows, err
	})

	select {
	case <-ctx.Done():
		return nil, shared.Wrap(shared.ErrRemoteUnreachable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rows, _ := res.Val.([]T)
		if res.Shared {
			out := make([]T, len(rows))
			copy(out, rows)
			return out, nil
		}
		return rows, nil
	}
}

func safeFetch[T any](ctx context.Context, fetch FetchFunc[T]) (rows []T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = shared.Wrap(shared.ErrRemoteUnreachable, fmt.Errorf("fetch panicked: %v", p))
		}
	}()
	return fetch(ctx)
}

// writeThrough stores fetched rows. Rows are only stored once every one of
// them carries a university. A storage failure is logged and the rows are
// still returned.
func writeThrough[T any, P community.Record[T]](ctx context.Context, r *Resolver, key community.DatasetKey, rows []T) []T {
	log := logger.WithLogger(logger.WithDataset(ctx, key.String()), r.logger)
	filled := community.FillUniversity[T, P](rows, r.activeUniversity(ctx))
	for i := range filled {
		if P(&filled[i]).Meta().UniversityName == "" {
			log.Warn("Write-through skipped, no active university", zap.Int("rows", len(filled)))
			return filled
		}
	}
	if err := persistence.UpsertBatch[T, P](ctx, r.store, filled); err != nil {
		log.Warn("Write-through failed", zap.Error(err))
		return filled
	}
	_ = r.tracker.MarkRefreshed(ctx, key)
	return filled
}

// needsRefresh reports whether local rows of ds are past their freshness
// window or were marked stale by a sync-check
func needsRefresh[T any, P community.Record[T]](ctx context.Context, r *Resolver, key community.DatasetKey) bool {
	if r.tracker.IsStale(key) {
		return true
	}
	last, ok, err := persistence.LastSyncedAt[T, P](ctx, r.store)
	if err != nil || !ok {
		return false
	}
	window := r.cfg.FreshnessFor(key.String())
	return window > 0 && r.now().Sub(last) > window
}

// revalidate queues a background refresh of ds when its local rows are stale
func revalidate[T any, P community.Record[T]](ctx context.Context, r *Resolver, ds community.Dataset[T], fetch FetchFunc[T]) {
	if r.queue == nil || !needsRefresh[T, P](ctx, r, ds.Key) {
		return
	}
	key := ds.Key
	log := logger.WithLogger(ctx, r.logger)

	_, err := r.queue.Submit(key.String(), func(jobCtx context.Context) error {
		rows, err := fetchRemote(jobCtx, r, key, fetch)
		if err != nil {
			r.metrics.RecordRefresh(jobCtx, key.String(), telemetry.OutcomeFailure)
			return err
		}
		if len(rows) > 0 {
			writeThrough[T, P](jobCtx, r, key, rows)
		} else {
			_ = r.tracker.MarkRefreshed(jobCtx, key)
		}
		r.metrics.RecordRefresh(jobCtx, key.String(), telemetry.OutcomeSuccess)
		return nil
	})
	switch {
	case err == nil:
		log.Debug("Background refresh queued")
	case errors.Is(err, scheduler.ErrAlreadyQueued):
	case errors.Is(err, scheduler.ErrNotRunning):
		log.Debug("Background refresh skipped, queue not running")
	default:
		r.metrics.RecordRefresh(ctx, key.String(), telemetry.OutcomeDropped)
		log.Warn("Background refresh dropped", zap.Error(err))
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
