package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"
)

// StoreMetrics records on-device statement counts and latency
type StoreMetrics struct {
	statementTotal    *Counter   // hub_store_statement_total{db.operation,db.table}
	statementDuration *Histogram // hub_store_statement_duration_seconds{db.operation}
	slowTotal         *Counter   // hub_store_slow_statement_total{db.table}
	slowThreshold     time.Duration
}

// NewStoreMetrics creates the store instruments on meter. A zero
// slowThreshold defaults to 100ms.
func NewStoreMetrics(meter metric.Meter, slowThreshold time.Duration) (*StoreMetrics, error) {
	if slowThreshold == 0 {
		slowThreshold = 100 * time.Millisecond
	}

	statementTotal, err := NewCounter(meter,
		"hub_store_statement_total",
		"Statements executed against the local store",
		"{statement}",
	)
	if err != nil {
		return nil, err
	}

	statementDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "hub_store_statement_duration_seconds",
		Description: "Local store statement latency",
		Unit:        "s",
		Boundaries:  StoreDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	slowTotal, err := NewCounter(meter,
		"hub_store_slow_statement_total",
		"Statements slower than the slow threshold",
		"{statement}",
	)
	if err != nil {
		return nil, err
	}

	return &StoreMetrics{
		statementTotal:    statementTotal,
		statementDuration: statementDuration,
		slowTotal:         slowTotal,
		slowThreshold:     slowThreshold,
	}, nil
}

// RecordStatement records one executed statement
func (m *StoreMetrics) RecordStatement(ctx context.Context, operation, table string, d time.Duration) {
	if table == "" {
		table = "unknown"
	}
	m.statementTotal.Inc(ctx, AttrDBOperation.String(operation), AttrDBTable.String(table))
	m.statementDuration.RecordDuration(ctx, d, AttrDBOperation.String(operation))
	if d > m.slowThreshold {
		m.slowTotal.Inc(ctx, AttrDBTable.String(table))
	}
}

// Name implements gorm.Plugin.
func (m *StoreMetrics) Name() string {
	return "hub_store_metrics"
}

// Initialize implements gorm.Plugin by timing every statement.
func (m *StoreMetrics) Initialize(db *gorm.DB) error {
	return registerAround(db, "hub_store_metrics", m.before, m.after)
}

type storeMetricsKey struct{}

func (m *StoreMetrics) before(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, storeMetricsKey{}, time.Now())
}

func (m *StoreMetrics) after(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	start, ok := ctx.Value(storeMetricsKey{}).(time.Time)
	if !ok {
		return
	}
	m.RecordStatement(ctx, detectOperation(db.Statement.SQL.String()), db.Statement.Table, time.Since(start))
}

// detectOperation returns the leading SQL verb
func detectOperation(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "PRAGMA"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	return "OTHER"
}
