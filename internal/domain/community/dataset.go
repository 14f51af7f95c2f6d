package community

// DatasetKey identifies one domain table/dataset
type DatasetKey string

const (
	KeyHousing         DatasetKey = "housing"
	KeyRestaurants     DatasetKey = "restaurants"
	KeyVideos          DatasetKey = "videos"
	KeyPosts           DatasetKey = "posts"
	KeyAnnouncements   DatasetKey = "announcements"
	KeyResources       DatasetKey = "resources"
	KeyScamGroups      DatasetKey = "scam_groups"
	KeyCommunityGroups DatasetKey = "community_groups"
	KeyHealthInsurance DatasetKey = "health_insurance"
	KeyLawyers         DatasetKey = "lawyers"
)

// AllDatasetKeys returns every dataset key in a stable order
func AllDatasetKeys() []DatasetKey {
	return []DatasetKey{
		KeyHousing,
		KeyRestaurants,
		KeyVideos,
		KeyPosts,
		KeyAnnouncements,
		KeyResources,
		KeyScamGroups,
		KeyCommunityGroups,
		KeyHealthInsurance,
		KeyLawyers,
	}
}

// IsValid checks if the dataset key is known
func (k DatasetKey) IsValid() bool {
	for _, key := range AllDatasetKeys() {
		if k == key {
			return true
		}
	}
	return false
}

var remotePaths = map[DatasetKey]string{
	KeyHousing:         "/housing",
	KeyRestaurants:     "/stores",
	KeyVideos:          "/videos",
	KeyPosts:           "/posts",
	KeyAnnouncements:   "/announcements",
	KeyResources:       "/resources",
	KeyScamGroups:      "/scam-reports",
	KeyCommunityGroups: "/community-groups",
	KeyHealthInsurance: "/health-data",
	KeyLawyers:         "/lawyers",
}

// RemotePath returns the backend listing endpoint for the key, or "" for an
// unknown key
func (k DatasetKey) RemotePath() string {
	return remotePaths[k]
}

// String returns the key as a plain string
func (k DatasetKey) String() string {
	return string(k)
}

// Dataset describes how one dataset is resolved: its key, the table schema
// (the row type T), the remote listing path and the embedded default rows.
type Dataset[T any] struct {
	Key      DatasetKey
	Path     string
	Defaults []T
	// Source decodes a fresh copy of Defaults. Optional.
	Source func() ([]T, error)
}

// NewDataset creates a dataset descriptor
func NewDataset[T any](key DatasetKey, path string, defaults []T) Dataset[T] {
	return Dataset[T]{
		Key:      key,
		Path:     path,
		Defaults: defaults,
	}
}

// DefaultRows returns default rows the caller may modify. Without a Source
// the copy is shallow.
func (d Dataset[T]) DefaultRows() []T {
	if d.Source != nil {
		if rows, err := d.Source(); err == nil && len(rows) == len(d.Defaults) {
			return rows
		}
	}
	rows := make([]T, len(d.Defaults))
	copy(rows, d.Defaults)
	return rows
}
