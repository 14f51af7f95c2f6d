// Package offline is the offline-first layer over the local store: bundle
// ingestion on login, tiered dataset resolution and staleness negotiation
// with the backend.
package offline

import (
	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/infrastructure/defaults"
)

// Dataset descriptors, one per screen. Each carries the remote listing path
// and the embedded default rows.
var (
	Housing         = newDataset[community.Housing](community.KeyHousing)
	Restaurants     = newDataset[community.Restaurant](community.KeyRestaurants)
	Videos          = newDataset[community.Video](community.KeyVideos)
	Posts           = newDataset[community.Post](community.KeyPosts)
	Announcements   = newDataset[community.Announcement](community.KeyAnnouncements)
	Resources       = newDataset[community.Resource](community.KeyResources)
	ScamGroups      = newDataset[community.ScamWatchGroup](community.KeyScamGroups)
	CommunityGroups = newDataset[community.CommunityGroup](community.KeyCommunityGroups)
	HealthInsurance = newDataset[community.HealthInsuranceProvider](community.KeyHealthInsurance)
	Lawyers         = newDataset[community.Lawyer](community.KeyLawyers)
)

func newDataset[T any](key community.DatasetKey) community.Dataset[T] {
	ds := community.NewDataset(key, key.RemotePath(), defaults.MustLoad[T](key))
	ds.Source = func() ([]T, error) { return defaults.Load[T](key) }
	return ds
}
