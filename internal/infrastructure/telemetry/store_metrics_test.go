package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type noteRow struct {
	ID   string `gorm:"primaryKey"`
	Body string
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&noteRow{}))
	return db
}

func TestStoreMetrics_RecordStatement(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewStoreMetrics(provider.Meter("test"), 50*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordStatement(ctx, "SELECT", "housing", time.Millisecond)
	m.RecordStatement(ctx, "INSERT", "", 200*time.Millisecond)

	rm := collect(t, reader)
	total, ok := findMetric(rm, "hub_store_statement_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), sumFor(t, total, AttrDBOperation.String("SELECT"), AttrDBTable.String("housing")))
	assert.Equal(t, int64(1), sumFor(t, total, AttrDBTable.String("unknown")))

	slow, ok := findMetric(rm, "hub_store_slow_statement_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), sumFor(t, slow, AttrDBTable.String("unknown")))
}

func TestStoreMetrics_GormPlugin(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewStoreMetrics(provider.Meter("test"), 0)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, m.slowThreshold)

	db := setupTestDB(t)
	require.NoError(t, db.Use(m))

	require.NoError(t, db.Create(&noteRow{ID: "n1", Body: "hello"}).Error)
	var rows []noteRow
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)

	total, ok := findMetric(collect(t, reader), "hub_store_statement_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), sumFor(t, total, AttrDBOperation.String("INSERT"), AttrDBTable.String("note_rows")))
	assert.Equal(t, int64(1), sumFor(t, total, AttrDBOperation.String("SELECT"), AttrDBTable.String("note_rows")))
}

func TestDetectOperation(t *testing.T) {
	tests := map[string]string{
		"SELECT * FROM housing":       "SELECT",
		"  insert into posts values":  "INSERT",
		"UPDATE videos SET title = ?": "UPDATE",
		"DELETE FROM posts":           "DELETE",
		"CREATE TABLE `x`":            "CREATE",
		"VACUUM":                      "OTHER",
		"":                            "OTHER",
	}
	for sql, want := range tests {
		assert.Equal(t, want, detectOperation(sql), sql)
	}
}
