package community

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unihub/hubsync/internal/domain/shared"
)

const sampleBundle = `{
	"university_name": "Northfield University",
	"location": "Northfield, MN",
	"posts": [{"id": 1, "author": "ana", "content": "hello"}],
	"housing": [
		{"id": "h1", "title": "Studio", "rent": "900.00", "bedrooms": 1},
		{"id": "h2", "title": "Shared flat", "rent": 450, "bedrooms": 3}
	],
	"restaurants": [],
	"community_groups": [{"id": 3, "name": "Chess club", "tags": ["games", "weekly"]}]
}`

func TestUniversityDataBundle_Decode(t *testing.T) {
	var b UniversityDataBundle
	require.NoError(t, json.Unmarshal([]byte(sampleBundle), &b))

	assert.Equal(t, "Northfield University", b.UniversityName)
	assert.Equal(t, "Northfield, MN", b.Location)
	assert.Len(t, b.Posts, 1)
	assert.Len(t, b.Housing, 2)
	assert.NotNil(t, b.Restaurants, "present but empty array decodes to an empty slice")
	assert.Empty(t, b.Restaurants)
	assert.Nil(t, b.Videos, "absent array stays nil")
	assert.Equal(t, []string{"games", "weekly"}, []string(b.CommunityGroups[0].Tags))
}

func TestUniversityDataBundle_Validate(t *testing.T) {
	t.Run("valid bundle", func(t *testing.T) {
		b := &UniversityDataBundle{UniversityName: "  Northfield  "}
		require.NoError(t, b.Validate())
		assert.Equal(t, "Northfield", b.UniversityName)
	})

	t.Run("missing university name", func(t *testing.T) {
		b := &UniversityDataBundle{UniversityName: "   "}
		err := b.Validate()
		assert.ErrorIs(t, err, shared.ErrInvalidBundle)
	})

	t.Run("nil bundle", func(t *testing.T) {
		var b *UniversityDataBundle
		assert.ErrorIs(t, b.Validate(), shared.ErrInvalidBundle)
	})

	t.Run("invalid rows do not fail the header check", func(t *testing.T) {
		b := &UniversityDataBundle{
			UniversityName: "Northfield",
			Housing:        []Housing{{Title: "no id"}},
		}
		assert.NoError(t, b.Validate())
	})
}

func TestValidateRows(t *testing.T) {
	t.Run("all rows have ids", func(t *testing.T) {
		rows := []Post{{Base: Base{ID: "1"}}, {Base: Base{ID: "2"}}}
		assert.NoError(t, ValidateRows(rows))
	})

	t.Run("row without id", func(t *testing.T) {
		rows := []Post{{Base: Base{ID: "1"}}, {Content: "orphan"}}
		err := ValidateRows(rows)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "row 1")
	})

	t.Run("empty slice", func(t *testing.T) {
		assert.NoError(t, ValidateRows([]Post{}))
	})
}

func TestUniversityDataBundle_RowCount(t *testing.T) {
	var b UniversityDataBundle
	require.NoError(t, json.Unmarshal([]byte(sampleBundle), &b))

	assert.Equal(t, 2, b.RowCount(KeyHousing))
	assert.Equal(t, 1, b.RowCount(KeyPosts))
	assert.Equal(t, 0, b.RowCount(KeyVideos))
	assert.Equal(t, 0, b.RowCount(KeyLawyers), "lawyers are not part of the bundle")
	assert.NotContains(t, b.Tables(), KeyLawyers)
}

func TestDatasetKey_IsValid(t *testing.T) {
	for _, key := range AllDatasetKeys() {
		assert.True(t, key.IsValid(), key)
	}
	assert.False(t, DatasetKey("rides").IsValid())
	assert.False(t, DatasetKey("").IsValid())
}

func TestDatasetKey_RemotePath(t *testing.T) {
	assert.Equal(t, "/stores", KeyRestaurants.RemotePath())
	assert.Equal(t, "/scam-reports", KeyScamGroups.RemotePath())
	assert.Equal(t, "/health-data", KeyHealthInsurance.RemotePath())
	assert.Equal(t, "", DatasetKey("rides").RemotePath())

	seen := map[string]bool{}
	for _, key := range AllDatasetKeys() {
		path := key.RemotePath()
		assert.NotEmpty(t, path, key)
		assert.False(t, seen[path], "duplicate path %s", path)
		seen[path] = true
	}
}
