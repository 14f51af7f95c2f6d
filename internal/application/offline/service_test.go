package offline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/domain/shared"
	"github.com/unihub/hubsync/internal/infrastructure/config"
	"github.com/unihub/hubsync/internal/infrastructure/gateway"
	"github.com/unihub/hubsync/internal/infrastructure/scheduler"
	"github.com/unihub/hubsync/internal/infrastructure/telemetry"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Remote: config.RemoteConfig{FetchTimeout: 2 * time.Second},
		Sync:   testSyncConfig(),
	}
}

func newTestService(t *testing.T, cfg *config.Config, client *gateway.Client, start bool) *Service {
	t.Helper()
	s, err := NewService(cfg, newTestStore(t), client, zap.NewNop(), nil)
	require.NoError(t, err)
	if !start {
		return s
	}
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestService_LoginThenResolve(t *testing.T) {
	b, client := newBackend(t)
	s := newTestService(t, testConfig(), client, false)
	ctx := context.Background()

	report, err := s.Login(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Northfield University", report.University)
	assert.NoError(t, report.Err())
	assert.Equal(t, "Northfield University", s.Resolver().University())

	res := ResolveDetailed(ctx, s.Resolver(), Housing)
	assert.Equal(t, TierLocal, res.Tier)
	assert.Len(t, res.Rows, 2)
	assert.Zero(t, b.Hits("/housing"), "ingested data is served without the network")

	lawyers := ResolveDetailed(ctx, s.Resolver(), Lawyers)
	assert.Equal(t, TierDefault, lawyers.Tier, "the backend lists no lawyers")
}

func TestService_LawyersWriteThroughTaggedWithUniversity(t *testing.T) {
	_, client := newBackend(t, mockbackendLawyers()...)
	s := newTestService(t, testConfig(), client, false)
	ctx := context.Background()

	_, err := s.Login(ctx)
	require.NoError(t, err)

	res := ResolveDetailed(ctx, s.Resolver(), Lawyers)
	require.Equal(t, TierRemote, res.Tier)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Northfield University", res.Rows[0].UniversityName)
}

func TestService_Import(t *testing.T) {
	s := newTestService(t, testConfig(), nil, false)
	f, err := os.Open(bundlePath)
	require.NoError(t, err)
	defer f.Close()

	report, err := s.Import(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "Northfield University", s.Resolver().University())
	assert.Len(t, report.Committed(), 9)

	rows := Resolve(context.Background(), s.Resolver(), Announcements)
	require.Len(t, rows, 1)
	assert.Equal(t, "Housing fair", rows[0].Title)
}

func TestService_LoginWithoutBackend(t *testing.T) {
	s := newTestService(t, testConfig(), nil, false)
	_, err := s.Login(context.Background())
	assert.ErrorIs(t, err, shared.ErrRemoteUnreachable)
}

func TestService_InvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.CheckSchedule = "whenever"
	_, err := NewService(cfg, newTestStore(t), nil, nil, nil)
	assert.ErrorIs(t, err, scheduler.ErrInvalidSchedule)
}

func TestService_PeriodicCheck(t *testing.T) {
	b, client := newBackend(t)
	cfg := testConfig()
	cfg.Sync.CheckSchedule = "@every 1s"
	s := newTestService(t, cfg, client, true)

	require.Eventually(t, func() bool {
		return b.Hits("/sync/check") >= 2
	}, 4*time.Second, 50*time.Millisecond, "startup check plus at least one scheduled check")
	assert.False(t, s.Tracker().GaveUp())
	assert.Contains(t, s.Tracker().StaleKeys(), community.KeyHousing, "nothing was ingested yet")
}

func TestService_Status(t *testing.T) {
	s := newTestService(t, testConfig(), nil, false)
	ctx := context.Background()

	empty := s.Status(ctx)
	assert.Empty(t, empty.University)
	assert.Empty(t, empty.Datasets)

	f, err := os.Open(bundlePath)
	require.NoError(t, err)
	defer f.Close()
	_, err = s.Import(ctx, f)
	require.NoError(t, err)

	st := s.Status(ctx)
	assert.Equal(t, "Northfield University", st.University)
	assert.Len(t, st.Datasets, 9)
	assert.Contains(t, st.Datasets, "housing")
	assert.Zero(t, st.PendingRefreshes)
	assert.Equal(t, 1, st.Store.MaxOpenConnections)
}

func TestService_RelaunchRestoresUniversity(t *testing.T) {
	_, client := newBackend(t, mockbackendLawyers()...)
	store := newTestStore(t)
	ctx := context.Background()

	first, err := NewService(testConfig(), store, client, nil, nil)
	require.NoError(t, err)
	_, err = first.Login(ctx)
	require.NoError(t, err)

	relaunched, err := NewService(testConfig(), store, client, nil, nil)
	require.NoError(t, err)
	res := ResolveDetailed(ctx, relaunched.Resolver(), Lawyers)
	require.Equal(t, TierRemote, res.Tier)
	assert.Equal(t, "Northfield University", res.Rows[0].UniversityName)
	assert.Equal(t, "Northfield University", relaunched.Status(ctx).University)
}

func staleGauge(reader *sdkmetric.ManualReader) (int64, bool) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		return 0, false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "hub_stale_datasets" {
				continue
			}
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
				return g.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestService_FinishedRefreshUpdatesStaleGauge(t *testing.T) {
	b, client := newBackend(t)
	reader := sdkmetric.NewManualReader()
	metrics, err := telemetry.NewSyncMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)

	s, err := NewService(testConfig(), newTestStore(t), client, zap.NewNop(), metrics)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.Login(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	})

	s.Resolver().SetClock(func() time.Time { return time.Now().Add(48 * time.Hour) })
	res := ResolveDetailed(ctx, s.Resolver(), Housing)
	require.Equal(t, TierLocal, res.Tier)

	require.Eventually(t, func() bool {
		return b.Hits("/housing") >= 1 && s.Status(ctx).PendingRefreshes == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n, ok := staleGauge(reader)
		return ok && n == int64(len(s.Tracker().StaleKeys()))
	}, time.Second, 10*time.Millisecond)
}
