package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDropped = "dropped"
)

// SyncMetrics holds the instruments of the cache and sync layer. A nil
// *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	tierTotal      *Counter   // hub_resolver_tier_total{dataset,tier}
	remoteDuration *Histogram // hub_remote_fetch_duration_seconds{dataset,outcome}
	ingestedRows   *Counter   // hub_ingested_rows_total{dataset}
	ingestFailures *Counter   // hub_ingest_failures_total{dataset}
	syncChecks     *Counter   // hub_sync_check_total{status}
	refreshTotal   *Counter   // hub_background_refresh_total{dataset,outcome}
	staleDatasets  *Gauge     // hub_stale_datasets
}

// NewSyncMetrics creates the sync layer instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	tierTotal, err := NewCounter(meter,
		"hub_resolver_tier_total",
		"Resolutions by the tier that served them",
		"{resolution}",
	)
	if err != nil {
		return nil, err
	}

	remoteDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "hub_remote_fetch_duration_seconds",
		Description: "Latency of remote dataset fetches",
		Unit:        "s",
		Boundaries:  RemoteDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	ingestedRows, err := NewCounter(meter,
		"hub_ingested_rows_total",
		"Rows written by bundle ingestion",
		"{row}",
	)
	if err != nil {
		return nil, err
	}

	ingestFailures, err := NewCounter(meter,
		"hub_ingest_failures_total",
		"Tables whose ingestion transaction failed",
		"{table}",
	)
	if err != nil {
		return nil, err
	}

	syncChecks, err := NewCounter(meter,
		"hub_sync_check_total",
		"Sync-check outcomes",
		"{check}",
	)
	if err != nil {
		return nil, err
	}

	refreshTotal, err := NewCounter(meter,
		"hub_background_refresh_total",
		"Stale-while-revalidate refreshes",
		"{refresh}",
	)
	if err != nil {
		return nil, err
	}

	staleDatasets, err := NewGauge(meter,
		"hub_stale_datasets",
		"Datasets marked stale by the last sync-check and not yet refreshed",
		"{dataset}",
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		tierTotal:      tierTotal,
		remoteDuration: remoteDuration,
		ingestedRows:   ingestedRows,
		ingestFailures: ingestFailures,
		syncChecks:     syncChecks,
		refreshTotal:   refreshTotal,
		staleDatasets:  staleDatasets,
	}, nil
}

// RecordTier counts one resolution served by tier
func (m *SyncMetrics) RecordTier(ctx context.Context, dataset, tier string) {
	if m == nil {
		return
	}
	m.tierTotal.Inc(ctx, AttrDataset.String(dataset), AttrTier.String(tier))
}

// RecordRemoteFetch records the latency and outcome of one remote fetch
func (m *SyncMetrics) RecordRemoteFetch(ctx context.Context, dataset string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.remoteDuration.RecordDuration(ctx, d, AttrDataset.String(dataset), AttrOutcome.String(outcomeOf(err)))
}

// RecordIngest records the result of one table's ingestion transaction
func (m *SyncMetrics) RecordIngest(ctx context.Context, dataset string, rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ingestFailures.Inc(ctx, AttrDataset.String(dataset))
		return
	}
	m.ingestedRows.Add(ctx, int64(rows), AttrDataset.String(dataset))
}

// RecordSyncCheck counts one sync-check by its final status
func (m *SyncMetrics) RecordSyncCheck(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.syncChecks.Inc(ctx, AttrSyncStatus.String(status))
}

// RecordStaleDatasets records how many datasets are waiting for a refresh
func (m *SyncMetrics) RecordStaleDatasets(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.staleDatasets.Record(ctx, int64(n))
}

// RecordRefresh counts one background refresh by outcome
func (m *SyncMetrics) RecordRefresh(ctx context.Context, dataset, outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.Inc(ctx, AttrDataset.String(dataset), AttrOutcome.String(outcome))
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
