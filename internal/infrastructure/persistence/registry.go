package persistence

import (
	"errors"
	"sync"

	"github.com/unihub/hubsync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Registry hands out one Store per database path so every component of the
// process shares the same handle and the same per-table locks.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
	logger *zap.Logger
	opts   []StoreOption
}

// NewRegistry creates an empty registry
func NewRegistry(log *zap.Logger, opts ...StoreOption) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		stores: make(map[string]*Store),
		logger: log,
		opts:   opts,
	}
}

// Open returns the store for cfg.Path, opening it on first use. A store that
// was closed is reopened. In-memory stores are never shared.
func (r *Registry) Open(cfg *config.StoreConfig) (*Store, error) {
	if cfg.Path == ":memory:" {
		return Open(cfg, r.logger, r.opts...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[cfg.Path]; ok && !s.Closed() {
		return s, nil
	}
	s, err := Open(cfg, r.logger, r.opts...)
	if err != nil {
		return nil, err
	}
	r.stores[cfg.Path] = s
	return s, nil
}

// Close closes every store the registry opened
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for path, s := range r.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.stores, path)
	}
	return errors.Join(errs...)
}
