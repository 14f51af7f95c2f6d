package community

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/unihub/hubsync/internal/domain/shared"
)

var validate = validator.New()

// UniversityDataBundle is the one-shot payload of every dataset for one
// university, delivered after login. It is never stored as a row; the
// ingester explodes it into the per-entity tables.
type UniversityDataBundle struct {
	UniversityName  string                    `json:"university_name" validate:"required"`
	Location        string                    `json:"location"`
	Posts           []Post                    `json:"posts,omitempty"`
	Videos          []Video                   `json:"videos,omitempty"`
	Announcements   []Announcement            `json:"announcements,omitempty"`
	Restaurants     []Restaurant              `json:"restaurants,omitempty"`
	Housing         []Housing                 `json:"housing,omitempty"`
	Resources       []Resource                `json:"resources,omitempty"`
	ScamGroups      []ScamWatchGroup          `json:"scam_groups,omitempty"`
	CommunityGroups []CommunityGroup          `json:"community_groups,omitempty"`
	HealthInsurance []HealthInsuranceProvider `json:"health_insurance,omitempty"`
}

// Validate checks the bundle header. Rows are validated per table with
// ValidateRows so that one bad table does not reject the others.
func (b *UniversityDataBundle) Validate() error {
	if b == nil {
		return shared.Wrap(shared.ErrInvalidBundle, fmt.Errorf("bundle is nil"))
	}
	b.UniversityName = strings.TrimSpace(b.UniversityName)
	if err := validate.Struct(b); err != nil {
		return shared.Wrap(shared.ErrInvalidBundle, err)
	}
	return nil
}

// ValidateRows checks every row of one table
func ValidateRows[T any](rows []T) error {
	for i := range rows {
		if err := validate.Struct(&rows[i]); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

// Tables lists the keys the bundle carries rows for, in ingestion order
func (b *UniversityDataBundle) Tables() []DatasetKey {
	return []DatasetKey{
		KeyPosts,
		KeyVideos,
		KeyAnnouncements,
		KeyRestaurants,
		KeyHousing,
		KeyResources,
		KeyScamGroups,
		KeyCommunityGroups,
		KeyHealthInsurance,
	}
}

// RowCount returns the number of rows the bundle carries for key
func (b *UniversityDataBundle) RowCount(key DatasetKey) int {
	switch key {
	case KeyPosts:
		return len(b.Posts)
	case KeyVideos:
		return len(b.Videos)
	case KeyAnnouncements:
		return len(b.Announcements)
	case KeyRestaurants:
		return len(b.Restaurants)
	case KeyHousing:
		return len(b.Housing)
	case KeyResources:
		return len(b.Resources)
	case KeyScamGroups:
		return len(b.ScamGroups)
	case KeyCommunityGroups:
		return len(b.CommunityGroups)
	case KeyHealthInsurance:
		return len(b.HealthInsurance)
	}
	return 0
}
