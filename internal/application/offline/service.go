package offline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/domain/shared"
	"github.com/unihub/hubsync/internal/infrastructure/config"
	"github.com/unihub/hubsync/internal/infrastructure/gateway"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"github.com/unihub/hubsync/internal/infrastructure/persistence"
	"github.com/unihub/hubsync/internal/infrastructure/scheduler"
	"github.com/unihub/hubsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Service wires the ingester, resolver and tracker over one store and one
// backend client, and owns the background refresh queue and the periodic
// sync-check.
type Service struct {
	store    *persistence.Store
	client   *gateway.Client
	tracker  *Tracker
	ingester *Ingester
	resolver *Resolver
	queue    *scheduler.RefreshQueue
	cron     *scheduler.SyncCheckCron
	logger   *zap.Logger
}

// NewService builds the layer from cfg. client may be nil for an offline
// only setup; metrics may be nil.
func NewService(cfg *config.Config, store *persistence.Store, client *gateway.Client, logger *zap.Logger, metrics *telemetry.SyncMetrics) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		lister  Lister
		checker SyncChecker
	)
	if client != nil {
		lister = client
		checker = client
	}

	tracker := NewTracker(persistence.NewSyncMetaRepository(store), checker, cfg.Sync, logger)
	tracker.SetMetrics(metrics)

	ingester := NewIngester(store, tracker, logger)
	ingester.SetMetrics(metrics)

	queue := scheduler.NewRefreshQueue(scheduler.QueueConfig{
		Workers:    cfg.Sync.RefreshWorkers,
		QueueSize:  cfg.Sync.RefreshQueueSize,
		JobTimeout: cfg.Remote.FetchTimeout,
	}, logger.Named("refresh"))
	queue.OnDone(func(*scheduler.Job) {
		metrics.RecordStaleDatasets(context.Background(), len(tracker.StaleKeys()))
	})

	resolver := NewResolver(store, lister, tracker, cfg.Sync, cfg.Remote.FetchTimeout, logger)
	resolver.SetMetrics(metrics)
	resolver.SetRefreshQueue(queue)

	s := &Service{
		store:    store,
		client:   client,
		tracker:  tracker,
		ingester: ingester,
		resolver: resolver,
		queue:    queue,
		logger:   logger.Named("offline"),
	}

	if cfg.Sync.CheckSchedule != "" {
		cron, err := scheduler.NewSyncCheckCron(cfg.Sync.CheckSchedule, s.checkAndLog, logger.Named("cron"))
		if err != nil {
			return nil, err
		}
		s.cron = cron
	}
	return s, nil
}

// Tracker returns the sync metadata tracker
func (s *Service) Tracker() *Tracker { return s.tracker }

// Ingester returns the bundle ingester
func (s *Service) Ingester() *Ingester { return s.ingester }

// Resolver returns the dataset resolver
func (s *Service) Resolver() *Resolver { return s.resolver }

// Start starts background refreshes and the periodic sync-check, and
// dispatches one sync-check right away
func (s *Service) Start(ctx context.Context) error {
	if err := s.queue.Start(ctx); err != nil {
		return err
	}
	if s.cron != nil {
		if err := s.cron.Start(ctx); err != nil {
			_ = s.queue.Stop(ctx)
			return err
		}
	}
	s.tracker.Dispatch(ctx, func(res community.SyncCheckResult) {
		s.logResult(ctx, res)
	})
	return nil
}

// Stop stops the periodic check and the refresh queue
func (s *Service) Stop(ctx context.Context) error {
	var errs []error
	if s.cron != nil {
		errs = append(errs, s.cron.Stop(ctx))
	}
	errs = append(errs, s.queue.Stop(ctx))
	return errors.Join(errs...)
}

// Login downloads the university bundle and ingests it
func (s *Service) Login(ctx context.Context) (*IngestReport, error) {
	if s.client == nil {
		return nil, shared.Wrap(shared.ErrRemoteUnreachable, errors.New("no backend configured"))
	}
	bundle, err := s.client.FetchBundle(ctx)
	if err != nil {
		return nil, err
	}
	report, err := s.ingester.Ingest(ctx, bundle)
	if err != nil {
		return nil, err
	}
	s.resolver.SetUniversity(report.University)
	return report, nil
}

// Import ingests a bundle read from r
func (s *Service) Import(ctx context.Context, r io.Reader) (*IngestReport, error) {
	report, err := s.ingester.IngestJSON(ctx, r)
	if err != nil {
		return nil, err
	}
	s.resolver.SetUniversity(report.University)
	return report, nil
}

// Status is a snapshot of the local layer
type Status struct {
	University       string                      `json:"university,omitempty"`
	Datasets         map[string]string           `json:"datasets"`
	PendingRefreshes int                         `json:"pending_refreshes"`
	Store            persistence.ConnectionStats `json:"store"`
}

// Status reports the active university, the local sync metadata, the
// background refreshes in flight and the store pool
func (s *Service) Status(ctx context.Context) Status {
	meta := s.tracker.LocalMeta(ctx)
	st := Status{
		University:       s.resolver.activeUniversity(ctx),
		Datasets:         make(map[string]string, len(meta)),
		PendingRefreshes: s.queue.Pending(),
	}
	for key, ts := range meta {
		st.Datasets[key.String()] = ts.UTC().Format(time.RFC3339Nano)
	}
	stats, err := s.store.Stats()
	if err != nil {
		s.logger.Warn("Store stats unavailable", zap.Error(err))
	}
	st.Store = stats
	return st
}

func (s *Service) checkAndLog(ctx context.Context) {
	ctx = logger.WithOperation(ctx, "sync_check")
	s.logResult(ctx, s.tracker.CheckRemote(ctx))
}

func (s *Service) logResult(ctx context.Context, res community.SyncCheckResult) {
	keys := make([]string, 0, len(res.Stale))
	for _, key := range res.StaleKeys() {
		keys = append(keys, key.String())
	}
	logger.WithLogger(ctx, s.logger).Info("Sync check finished",
		zap.String("status", string(res.Status)),
		zap.Strings("stale", keys),
	)
}
