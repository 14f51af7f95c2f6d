package offline

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/domain/shared"
	"github.com/unihub/hubsync/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func newTestIngester(t *testing.T) (*Ingester, *persistence.Store, *Tracker) {
	t.Helper()
	store := newTestStore(t)
	tracker := NewTracker(persistence.NewSyncMetaRepository(store), nil, testSyncConfig(), zap.NewNop())
	return NewIngester(store, tracker, zap.NewNop()), store, tracker
}

func TestIngest_FullBundle(t *testing.T) {
	in, store, tracker := newTestIngester(t)
	ctx := context.Background()
	bundle := loadBundle(t)

	report, err := in.Ingest(ctx, bundle)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, "Northfield University", report.University)
	assert.Equal(t, 2, report.Tables[community.KeyHousing].Rows)
	assert.Equal(t, 2, report.Tables[community.KeyPosts].Rows)
	assert.Len(t, report.Committed(), 9)
	assert.Empty(t, report.Skipped)

	housing, err := persistence.ReadAll[community.Housing](ctx, store)
	require.NoError(t, err)
	require.Len(t, housing, 2)
	for _, h := range housing {
		assert.Equal(t, "Northfield University", h.UniversityName)
	}
	assert.True(t, decimal.RequireFromString("950").Equal(housing[0].Rent))

	meta := tracker.LocalMeta(ctx)
	assert.Len(t, meta, 9)
	assert.Contains(t, meta, community.KeyHousing)
	assert.NotContains(t, meta, community.KeyLawyers)
}

func TestIngest_OverridesRowUniversity(t *testing.T) {
	in, store, _ := newTestIngester(t)
	ctx := context.Background()

	_, err := in.Ingest(ctx, &community.UniversityDataBundle{
		UniversityName: "Northfield",
		Videos:         []community.Video{{Base: community.Base{ID: "v1", UniversityName: "Elsewhere"}}},
	})
	require.NoError(t, err)

	videos, err := persistence.ReadAll[community.Video](ctx, store)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "Northfield", videos[0].UniversityName)
}

func TestIngest_Idempotent(t *testing.T) {
	in, store, _ := newTestIngester(t)
	ctx := context.Background()

	_, err := in.Ingest(ctx, loadBundle(t))
	require.NoError(t, err)
	first, err := persistence.ReadAll[community.CommunityGroup](ctx, store)
	require.NoError(t, err)

	_, err = in.Ingest(ctx, loadBundle(t))
	require.NoError(t, err)
	second, err := persistence.ReadAll[community.CommunityGroup](ctx, store)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].Tags, second[i].Tags)
	}
	n, err := persistence.Count[community.Housing](ctx, store)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestIngest_PartialBundleLeavesOtherTablesAlone(t *testing.T) {
	in, store, _ := newTestIngester(t)
	ctx := context.Background()

	_, err := in.Ingest(ctx, loadBundle(t))
	require.NoError(t, err)

	report, err := in.Ingest(ctx, &community.UniversityDataBundle{
		UniversityName: "Northfield University",
		Housing: []community.Housing{
			{Base: community.Base{ID: "h3"}, Title: "Loft"},
		},
		Restaurants: []community.Restaurant{},
	})
	require.NoError(t, err)

	assert.Contains(t, report.Skipped, community.KeyVideos)
	assert.Contains(t, report.Skipped, community.KeyRestaurants, "empty arrays are skipped too")
	assert.Equal(t, []community.DatasetKey{community.KeyHousing}, report.Committed())

	videos, err := persistence.ReadAll[community.Video](ctx, store)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "Campus tour", videos[0].Title)

	restaurants, err := persistence.ReadAll[community.Restaurant](ctx, store)
	require.NoError(t, err)
	assert.Len(t, restaurants, 1)

	housing, err := persistence.ReadAll[community.Housing](ctx, store)
	require.NoError(t, err)
	assert.Len(t, housing, 3, "no delete path: older rows stay")
}

func TestIngest_InvalidHeaderRejectsEverything(t *testing.T) {
	in, store, _ := newTestIngester(t)
	ctx := context.Background()

	report, err := in.Ingest(ctx, &community.UniversityDataBundle{
		Housing: []community.Housing{{Base: community.Base{ID: "h1"}}},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidBundle)
	assert.Nil(t, report)

	n, err := persistence.Count[community.Housing](ctx, store)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngest_InvalidRowRejectsOnlyItsTable(t *testing.T) {
	in, store, tracker := newTestIngester(t)
	ctx := context.Background()

	report, err := in.Ingest(ctx, &community.UniversityDataBundle{
		UniversityName: "Northfield",
		Housing: []community.Housing{
			{Base: community.Base{ID: "h1"}},
			{Title: "missing id"},
		},
		Videos: []community.Video{{Base: community.Base{ID: "v1"}}},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Tables[community.KeyHousing].Err, shared.ErrInvalidBundle)
	assert.NoError(t, report.Tables[community.KeyVideos].Err)
	assert.ErrorIs(t, report.Err(), shared.ErrInvalidBundle)
	assert.Equal(t, 1, report.Rows())

	n, err := persistence.Count[community.Housing](ctx, store)
	require.NoError(t, err)
	assert.Zero(t, n, "no partial table")

	meta := tracker.LocalMeta(ctx)
	assert.Contains(t, meta, community.KeyVideos)
	assert.NotContains(t, meta, community.KeyHousing)
}

func TestIngest_StorageFailureIsPerTable(t *testing.T) {
	in, store, _ := newTestIngester(t)
	require.NoError(t, store.Close())

	report, err := in.Ingest(context.Background(), loadBundle(t))
	require.NoError(t, err, "a storage failure is reported per table")

	for _, key := range report.Committed() {
		t.Errorf("table %s committed on a closed store", key)
	}
	assert.ErrorIs(t, report.Tables[community.KeyHousing].Err, shared.ErrStorageUnavailable)
	assert.ErrorIs(t, report.Err(), shared.ErrStorageUnavailable)
}

func TestIngest_OneTableFailsOnStorage(t *testing.T) {
	in, store, tracker := newTestIngester(t)
	ctx := context.Background()

	errDiskFull := errors.New("disk I/O error")
	require.NoError(t, store.DB().Callback().Create().Before("gorm:create").
		Register("test:fail_videos", func(db *gorm.DB) {
			if db.Statement.Table == "videos" {
				_ = db.AddError(errDiskFull)
			}
		}))

	report, err := in.Ingest(ctx, loadBundle(t))
	require.NoError(t, err)

	assert.ErrorIs(t, report.Tables[community.KeyVideos].Err, shared.ErrStorageUnavailable)
	assert.ErrorIs(t, report.Tables[community.KeyVideos].Err, errDiskFull)
	assert.Len(t, report.Committed(), 8)
	assert.NotContains(t, report.Committed(), community.KeyVideos)

	n, err := persistence.Count[community.Video](ctx, store)
	require.NoError(t, err)
	assert.Zero(t, n, "failed table is rolled back")

	housing, err := persistence.Count[community.Housing](ctx, store)
	require.NoError(t, err)
	assert.EqualValues(t, 2, housing)

	meta := tracker.LocalMeta(ctx)
	assert.Contains(t, meta, community.KeyHousing)
	assert.NotContains(t, meta, community.KeyVideos)
}

func TestIngest_RecordsActiveUniversity(t *testing.T) {
	in, store, _ := newTestIngester(t)
	ctx := context.Background()

	_, err := in.Ingest(ctx, loadBundle(t))
	require.NoError(t, err)

	name, ok, err := persistence.NewSettingsRepository(store).Get(ctx, persistence.SettingActiveUniversity)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Northfield University", name)
}

func TestIngest_LogsCarryOperationAndDataset(t *testing.T) {
	store := newTestStore(t)
	core, logs := observer.New(zapcore.InfoLevel)
	in := NewIngester(store, nil, zap.New(core))

	_, err := in.Ingest(context.Background(), &community.UniversityDataBundle{
		UniversityName: "Northfield",
		Housing:        []community.Housing{{Title: "missing id"}},
	})
	require.NoError(t, err)

	failed := logs.FilterMessage("Table ingestion failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	assert.Equal(t, "ingest", fields["operation"])
	assert.Equal(t, "housing", fields["dataset"])

	done := logs.FilterMessage("Bundle ingested").All()
	require.Len(t, done, 1)
	assert.Equal(t, "ingest", done[0].ContextMap()["operation"])
}

func TestIngestJSON(t *testing.T) {
	t.Run("decodes the bundle file", func(t *testing.T) {
		in, store, _ := newTestIngester(t)
		f, err := os.Open(bundlePath)
		require.NoError(t, err)
		defer f.Close()

		report, err := in.IngestJSON(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, "Northfield University", report.University)

		n, err := persistence.Count[community.HealthInsuranceProvider](context.Background(), store)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("malformed json is an invalid bundle", func(t *testing.T) {
		in, _, _ := newTestIngester(t)
		_, err := in.IngestJSON(context.Background(), strings.NewReader(`{"university_name": `))
		assert.ErrorIs(t, err, shared.ErrInvalidBundle)
	})
}
