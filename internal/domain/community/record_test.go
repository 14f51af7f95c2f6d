package community

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RecordID
		wantErr bool
	}{
		{name: "string id", input: `"h-1"`, want: "h-1"},
		{name: "string id is trimmed", input: `" 42 "`, want: "42"},
		{name: "integer id", input: `42`, want: "42"},
		{name: "large integer keeps precision", input: `9007199254740993`, want: "9007199254740993"},
		{name: "null id", input: `null`, want: ""},
		{name: "object is rejected", input: `{"id":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id RecordID
			err := json.Unmarshal([]byte(tt.input), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestBase_DecodesFromEntityJSON(t *testing.T) {
	var h Housing
	err := json.Unmarshal([]byte(`{
		"id": 7,
		"university_name": "Northfield",
		"updated_at": "2024-02-01T00:00:00Z",
		"title": "Studio near campus",
		"rent": 950.50,
		"bedrooms": 1,
		"image_urls": ["a.jpg", "b.jpg"]
	}`), &h)
	require.NoError(t, err)

	assert.Equal(t, RecordID("7"), h.ID)
	assert.Equal(t, "Northfield", h.UniversityName)
	require.NotNil(t, h.ModifiedAt)
	assert.Equal(t, 2024, h.ModifiedAt.Year())
	assert.Equal(t, "Studio near campus", h.Title)
	assert.Equal(t, "950.5", h.Rent.String())
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, []string(h.ImageURLs))
}

func TestTableOf(t *testing.T) {
	assert.Equal(t, "housing", TableOf[Housing]())
	assert.Equal(t, "restaurants", TableOf[Restaurant]())
	assert.Equal(t, "scam_groups", TableOf[ScamWatchGroup]())
	assert.Equal(t, "health_insurance", TableOf[HealthInsuranceProvider]())
	assert.Equal(t, "lawyers", TableOf[Lawyer]())
}

func TestTagUniversity(t *testing.T) {
	rows := []Video{
		{Base: Base{ID: "v1", UniversityName: "Old"}, Title: "Welcome"},
		{Base: Base{ID: "v2"}, Title: "Library tour"},
	}

	tagged := TagUniversity(rows, "Northfield")

	require.Len(t, tagged, 2)
	assert.Equal(t, "Northfield", tagged[0].UniversityName)
	assert.Equal(t, "Northfield", tagged[1].UniversityName)
	// input slice is left alone
	assert.Equal(t, "Old", rows[0].UniversityName)
	assert.Equal(t, "", rows[1].UniversityName)
}

func TestFillUniversity(t *testing.T) {
	rows := []Resource{
		{Base: Base{ID: "r1", UniversityName: "Eastgate"}},
		{Base: Base{ID: "r2"}},
	}

	t.Run("fills only empty names", func(t *testing.T) {
		filled := FillUniversity(rows, "Northfield")
		assert.Equal(t, "Eastgate", filled[0].UniversityName)
		assert.Equal(t, "Northfield", filled[1].UniversityName)
		assert.Equal(t, "", rows[1].UniversityName)
	})

	t.Run("empty name is a no-op", func(t *testing.T) {
		filled := FillUniversity(rows, "")
		assert.Equal(t, "", filled[1].UniversityName)
	})
}
