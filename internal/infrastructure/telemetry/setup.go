package telemetry

import (
	"context"
	"errors"

	"github.com/unihub/hubsync/internal/infrastructure/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// Providers bundles the trace, metric and log pipelines of one process
type Providers struct {
	Tracer  *TracerProvider
	Meter   *MeterProvider
	Logs    *LoggerProvider
	Metrics *SyncMetrics

	traceStore bool
	logger     *zap.Logger
}

// Setup builds every provider from cfg. With telemetry disabled all
// providers are inert and SyncMetrics records into the global no-op meter.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	tp, err := NewTracerProvider(ctx, Config{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		SamplingRatio:     cfg.SamplingRatio,
		ServiceName:       cfg.ServiceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, err
	}

	mp, err := NewMeterProvider(ctx, MetricsConfig{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ExportInterval:    cfg.ExportInterval,
		ServiceName:       cfg.ServiceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	lp, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ServiceName:       cfg.ServiceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		_ = mp.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	metrics, err := NewSyncMetrics(mp.Meter(TracerName))
	if err != nil {
		return nil, err
	}

	return &Providers{
		Tracer:     tp,
		Meter:      mp,
		Logs:       lp,
		Metrics:    metrics,
		traceStore: cfg.TraceStore,
		logger:     logger,
	}, nil
}

// InstrumentStore installs statement metrics on db and, when trace_store is
// set, otelgorm spans.
func (p *Providers) InstrumentStore(db *gorm.DB) error {
	storeMetrics, err := NewStoreMetrics(p.Meter.Meter(TracerName), 0)
	if err != nil {
		return err
	}
	if err := db.Use(storeMetrics); err != nil {
		return err
	}

	cfg := DefaultDBTracingConfig()
	cfg.Enabled = p.traceStore
	return NewDBTracingPlugin(cfg, p.logger).RegisterOtelGorm(db)
}

// Logger returns base bridged into the OTLP log pipeline when export is on
func (p *Providers) Logger(base *zap.Logger, serviceName string, level zapcore.Level) *zap.Logger {
	if !p.Logs.IsEnabled() {
		return base
	}
	return NewBridgedLogger(base, NewZapOTELCore(serviceName, p.Logs, level))
}

// Shutdown stops every provider, flushing pending data
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.Logs.Shutdown(ctx),
		p.Meter.Shutdown(ctx),
		p.Tracer.Shutdown(ctx),
	)
}
