package telemetry

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for store statement tracing.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool          // include bound variables in spans
	SlowQueryThresh time.Duration // statements slower than this are flagged
	DBSystem        string
	TracerProvider  trace.TracerProvider // nil uses the global provider
}

// DefaultDBTracingConfig returns default configuration for store tracing.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:         false,
		LogFullSQL:      false,
		SlowQueryThresh: 100 * time.Millisecond,
		DBSystem:        "sqlite",
	}
}

// DBTracingPlugin registers otelgorm spans plus slow statement marking.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a new store tracing plugin.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBTracingPlugin{
		config: cfg,
		logger: logger,
	}
}

// RegisterOtelGorm installs the otelgorm plugin and the slow statement
// callbacks on db. It is a no-op when tracing is disabled.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Store tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(p.config.DBSystem),
	}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if p.config.TracerProvider != nil {
		opts = append(opts, otelgorm.WithTracerProvider(p.config.TracerProvider))
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	if err := registerAround(db, "otel_timing", p.before, p.after); err != nil {
		return err
	}

	p.logger.Info("Store tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
	)
	return nil
}

func (p *DBTracingPlugin) before(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
	}
}

// after annotates the active span with the table, the affected rows, the
// error and a slow statement flag.
func (p *DBTracingPlugin) after(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}
	if start, ok := ctx.Value(queryStartTimeKey).(time.Time); ok {
		if elapsed := time.Since(start); elapsed > p.config.SlowQueryThresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
		}
	}
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"

// registerAround registers before/after callbacks named prefix:* around
// every GORM processor. The after callbacks run ahead of otelgorm's so the
// statement span is still recording.
func registerAround(db *gorm.DB, prefix string, before, after func(*gorm.DB)) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register(prefix+":before_create", before); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register(prefix+":before_query", before); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register(prefix+":before_update", before); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register(prefix+":before_delete", before); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register(prefix+":before_row", before); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register(prefix+":before_raw", before); err != nil {
		return err
	}

	if err := cb.Create().After("gorm:create").Before("otel:after:create").Register(prefix+":after_create", after); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Before("otel:after:select").Register(prefix+":after_query", after); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Before("otel:after:update").Register(prefix+":after_update", after); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Before("otel:after:delete").Register(prefix+":after_delete", after); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Before("otel:after:row").Register(prefix+":after_row", after); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Before("otel:after:raw").Register(prefix+":after_raw", after)
}
