package offline

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/domain/shared"
	"github.com/unihub/hubsync/internal/infrastructure/config"
	"github.com/unihub/hubsync/internal/infrastructure/gateway"
	"github.com/unihub/hubsync/internal/infrastructure/persistence"
	"github.com/unihub/hubsync/internal/interfaces/http/mockbackend"
)

const bundlePath = "../../interfaces/http/mockbackend/testdata/bundle.json"

func newTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	s, err := persistence.Open(&config.StoreConfig{Path: ":memory:", BatchSize: 50, MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		MaxRetries:         2,
		InitialBackoff:     time.Millisecond,
		MaxBackoff:         5 * time.Millisecond,
		FreshnessWindow:    24 * time.Hour,
		FreshnessOverrides: map[string]time.Duration{},
		RefreshWorkers:     1,
		RefreshQueueSize:   8,
	}
}

func loadBundle(t *testing.T) *community.UniversityDataBundle {
	t.Helper()
	b, err := mockbackend.LoadBundle(bundlePath)
	require.NoError(t, err)
	return b
}

// newBackend serves the test bundle over HTTP and returns a client for it
func newBackend(t *testing.T, opts ...mockbackend.Option) (*mockbackend.Backend, *gateway.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opts = append([]mockbackend.Option{mockbackend.WithToken("secret")}, opts...)
	b := mockbackend.New(loadBundle(t), opts...)
	srv := httptest.NewServer(b.Router(nil, "mock-backend"))
	t.Cleanup(srv.Close)

	return b, gateway.NewClient(&config.RemoteConfig{
		BaseURL:          srv.URL,
		Token:            "secret",
		FetchTimeout:     2 * time.Second,
		SyncTimeout:      2 * time.Second,
		MaxResponseBytes: 1 << 20,
		SyncCheckPath:    mockbackend.SyncCheckPath,
		BundlePath:       mockbackend.BundlePath,
	})
}

// fakeLister answers listings from canned JSON bodies
type fakeLister struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  map[string]int
	// block, when set, holds every call until closed or the context ends
	block chan struct{}
}

func newFakeLister() *fakeLister {
	return &fakeLister{
		bodies: map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeLister) set(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
	delete(f.errs, path)
}

func (f *fakeLister) fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[path] = err
}

func (f *fakeLister) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeLister) FetchList(ctx context.Context, path string, out any) error {
	f.mu.Lock()
	f.calls[path]++
	body, ok := f.bodies[path]
	err := f.errs[path]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return shared.Wrap(shared.ErrRemoteUnreachable, ctx.Err())
		}
	}
	if err != nil {
		return err
	}
	if !ok {
		body = "[]"
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return shared.Wrap(shared.ErrMalformedPayload, err)
	}
	return nil
}

type checkResponse struct {
	changed   map[string]string
	unchanged bool
	err       error
}

// fakeChecker replays responses in order, repeating the last one
type fakeChecker struct {
	mu        sync.Mutex
	responses []checkResponse
	calls     int
	lastMeta  map[string]string
}

func (f *fakeChecker) CheckSync(ctx context.Context, meta map[string]string) (map[string]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMeta = meta
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[i]
	return r.changed, r.unchanged, r.err
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func unreachable() error {
	return shared.Wrap(shared.ErrRemoteUnreachable, context.DeadlineExceeded)
}

func mockbackendLawyers() []mockbackend.Option {
	return []mockbackend.Option{mockbackend.WithLawyers([]community.Lawyer{
		{Base: community.Base{ID: "l1"}, Name: "Dana Ortiz", Firm: "Ortiz Legal", Specialty: "tenancy"},
	})}
}
