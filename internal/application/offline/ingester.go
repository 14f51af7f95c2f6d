package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/domain/shared"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"github.com/unihub/hubsync/internal/infrastructure/persistence"
	"github.com/unihub/hubsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// TableResult is the outcome of ingesting one table
type TableResult struct {
	Rows int
	Err  error
}

// IngestReport describes what one ingestion wrote
type IngestReport struct {
	University string
	Tables     map[community.DatasetKey]TableResult
	// Skipped lists keys whose array was absent or empty
	Skipped  []community.DatasetKey
	Duration time.Duration
}

// Committed returns the keys whose transaction committed, in ingestion order
func (r *IngestReport) Committed() []community.DatasetKey {
	var keys []community.DatasetKey
	for _, key := range (&community.UniversityDataBundle{}).Tables() {
		if res, ok := r.Tables[key]; ok && res.Err == nil {
			keys = append(keys, key)
		}
	}
	return keys
}

// Rows returns the total number of rows written
func (r *IngestReport) Rows() int {
	n := 0
	for _, res := range r.Tables {
		if res.Err == nil {
			n += res.Rows
		}
	}
	return n
}

// Err joins the per-table failures, nil when every table committed
func (r *IngestReport) Err() error {
	var errs []error
	for _, key := range (&community.UniversityDataBundle{}).Tables() {
		if res, ok := r.Tables[key]; ok && res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Ingester explodes a university bundle into the per-entity tables
type Ingester struct {
	store    *persistence.Store
	settings *persistence.SettingsRepository
	tracker  *Tracker
	logger   *zap.Logger
	metrics  *telemetry.SyncMetrics
}

// NewIngester creates an ingester. tracker may be nil, in which case no
// sync metadata is recorded.
func NewIngester(store *persistence.Store, tracker *Tracker, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		store:    store,
		settings: persistence.NewSettingsRepository(store),
		tracker:  tracker,
		logger:   logger.Named("ingester"),
	}
}

// SetMetrics sets the metrics recorder
func (in *Ingester) SetMetrics(m *telemetry.SyncMetrics) {
	in.metrics = m
}

// IngestJSON decodes a bundle from r and ingests it
func (in *Ingester) IngestJSON(ctx context.Context, r io.Reader) (*IngestReport, error) {
	var bundle community.UniversityDataBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, shared.Wrap(shared.ErrInvalidBundle, fmt.Errorf("decode bundle: %w", err))
	}
	return in.Ingest(ctx, &bundle)
}

// Ingest writes every present, non-empty array of bundle into its table.
// Each table is its own transaction; a failed table is recorded in the
// report and the remaining tables are still written. The returned error is
// non-nil only for an invalid bundle header.
func (in *Ingester) Ingest(ctx context.Context, bundle *community.UniversityDataBundle) (*IngestReport, error) {
	ctx = logger.WithOperation(ctx, "ingest")
	if err := bundle.Validate(); err != nil {
		logger.WithLogger(ctx, in.logger).Warn("Bundle rejected", zap.Error(err))
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "ingester.ingest")
	defer span.End()
	log := logger.WithLogger(ctx, in.logger)

	if err := in.settings.Set(ctx, persistence.SettingActiveUniversity, bundle.UniversityName); err != nil {
		log.Warn("Active university not recorded", zap.Error(err))
	}

	start := time.Now()
	report := &IngestReport{
		University: bundle.UniversityName,
		Tables:     make(map[community.DatasetKey]TableResult),
	}
	for _, key := range bundle.Tables() {
		in.ingestKey(ctx, bundle, key, report)
	}
	report.Duration = time.Since(start)

	if committed := report.Committed(); len(committed) > 0 {
		// metadata failures are logged by the tracker; the rows are already in
		_ = in.tracker.MarkSynced(ctx, committed...)
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrRows, report.Rows())
	if err := report.Err(); err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}

	log.Info("Bundle ingested",
		zap.String("university", report.University),
		zap.Int("tables", len(report.Tables)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("rows", report.Rows()),
		zap.Duration("elapsed", report.Duration),
	)
	return report, nil
}

func (in *Ingester) ingestKey(ctx context.Context, b *community.UniversityDataBundle, key community.DatasetKey, report *IngestReport) {
	switch key {
	case community.KeyPosts:
		ingestTable(ctx, in, key, b.UniversityName, b.Posts, report)
	case community.KeyVideos:
		ingestTable(ctx, in, key, b.UniversityName, b.Videos, report)
	case community.KeyAnnouncements:
		ingestTable(ctx, in, key, b.UniversityName, b.Announcements, report)
	case community.KeyRestaurants:
		ingestTable(ctx, in, key, b.UniversityName, b.Restaurants, report)
	case community.KeyHousing:
		ingestTable(ctx, in, key, b.UniversityName, b.Housing, report)
	case community.KeyResources:
		ingestTable(ctx, in, key, b.UniversityName, b.Resources, report)
	case community.KeyScamGroups:
		ingestTable(ctx, in, key, b.UniversityName, b.ScamGroups, report)
	case community.KeyCommunityGroups:
		ingestTable(ctx, in, key, b.UniversityName, b.CommunityGroups, report)
	case community.KeyHealthInsurance:
		ingestTable(ctx, in, key, b.UniversityName, b.HealthInsurance, report)
	}
}

func ingestTable[T any, P community.Record[T]](
	ctx context.Context,
	in *Ingester,
	key community.DatasetKey,
	university string,
	rows []T,
	report *IngestReport,
) {
	if len(rows) == 0 {
		report.Skipped = append(report.Skipped, key)
		return
	}

	err := community.ValidateRows(rows)
	if err != nil {
		err = shared.Wrap(shared.ErrInvalidBundle, err)
	} else {
		err = persistence.UpsertBatch[T, P](ctx, in.store, community.TagUniversity[T, P](rows, university))
	}

	report.Tables[key] = TableResult{Rows: len(rows), Err: err}
	in.metrics.RecordIngest(ctx, key.String(), len(rows), err)
	if err != nil {
		logger.WithLogger(logger.WithDataset(ctx, key.String()), in.logger).Warn("Table ingestion failed",
			zap.Int("rows", len(rows)),
			zap.Error(err),
		)
	}
}
