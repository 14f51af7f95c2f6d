// Package mockbackend serves the community hub backend contract from an
// in-memory bundle. It backs the dev server and the package tests.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/unihub/hubsync/internal/domain/community"
)

// Backend holds the data served by the router
type Backend struct {
	mu       sync.RWMutex
	bundle   community.UniversityDataBundle
	lawyers  []community.Lawyer
	updated  map[community.DatasetKey]time.Time
	token    string
	failures map[string]int
	raw      map[string]string
	hits     map[string]int
}

// Option configures a Backend
type Option func(*Backend)

// WithToken requires "Authorization: Bearer <token>" on every request
func WithToken(token string) Option {
	return func(b *Backend) {
		b.token = token
	}
}

// WithLawyers sets the rows served on the lawyers listing
func WithLawyers(rows []community.Lawyer) Option {
	return func(b *Backend) {
		b.lawyers = rows
	}
}

// WithUpdated sets the server modification time of each dataset
func WithUpdated(updated map[community.DatasetKey]time.Time) Option {
	return func(b *Backend) {
		for k, v := range updated {
			b.updated[k] = v.UTC()
		}
	}
}

// New creates a backend serving bundle. Every dataset starts with a server
// modification time of now unless WithUpdated says otherwise.
func New(bundle *community.UniversityDataBundle, opts ...Option) *Backend {
	b := &Backend{
		updated:  make(map[community.DatasetKey]time.Time),
		failures: make(map[string]int),
		raw:      make(map[string]string),
		hits:     make(map[string]int),
	}
	if bundle != nil {
		b.bundle = *bundle
	}
	now := time.Now().UTC()
	for _, key := range community.AllDatasetKeys() {
		b.updated[key] = now
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LoadBundle reads a bundle JSON file
func LoadBundle(path string) (*community.UniversityDataBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	var bundle community.UniversityDataBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	return &bundle, nil
}

// Fail makes every request to path answer with status until Recover
func (b *Backend) Fail(path string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = status
}

// RespondRaw makes path answer 200 with body verbatim until Recover
func (b *Backend) RespondRaw(path, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw[path] = body
}

// Recover clears injected failures and raw bodies for path
func (b *Backend) Recover(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, path)
	delete(b.raw, path)
}

// Touch sets the server modification time of key
func (b *Backend) Touch(key community.DatasetKey, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updated[key] = at.UTC()
}

// SetHousing replaces the housing rows
func (b *Backend) SetHousing(rows []community.Housing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bundle.Housing = rows
}

// Hits returns how many requests reached path
func (b *Backend) Hits(path string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hits[path]
}

// rows returns the listing for key; absent arrays list as empty
func (b *Backend) rows(key community.DatasetKey) any {
	switch key {
	case community.KeyHousing:
		return nonNil(b.bundle.Housing)
	case community.KeyRestaurants:
		return nonNil(b.bundle.Restaurants)
	case community.KeyVideos:
		return nonNil(b.bundle.Videos)
	case community.KeyPosts:
		return nonNil(b.bundle.Posts)
	case community.KeyAnnouncements:
		return nonNil(b.bundle.Announcements)
	case community.KeyResources:
		return nonNil(b.bundle.Resources)
	case community.KeyScamGroups:
		return nonNil(b.bundle.ScamGroups)
	case community.KeyCommunityGroups:
		return nonNil(b.bundle.CommunityGroups)
	case community.KeyHealthInsurance:
		return nonNil(b.bundle.HealthInsurance)
	case community.KeyLawyers:
		return nonNil(b.lawyers)
	}
	return []any{}
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

// staleKeys compares client timestamps with the server's. A key is stale
// when the client never synced it, sent an unparseable time, or is behind.
func (b *Backend) staleKeys(client map[string]string) map[string]string {
	stale := make(map[string]string)
	for key, serverAt := range b.updated {
		raw, ok := client[string(key)]
		if !ok {
			stale[string(key)] = serverAt.Format(time.RFC3339Nano)
			continue
		}
		clientAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil || clientAt.Before(serverAt) {
			stale[string(key)] = serverAt.Format(time.RFC3339Nano)
		}
	}
	return stale
}
