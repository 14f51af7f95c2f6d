package mockbackend

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"go.uber.org/zap"
)

const (
	// SyncCheckPath is the staleness negotiation endpoint
	SyncCheckPath = "/sync/check"
	// BundlePath is the login bundle endpoint
	BundlePath = "/university-data"

	maxSyncCheckBody = 64 << 10
)

// Router builds the gin engine serving b
func (b *Backend) Router(log *zap.Logger, serviceName string) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(logger.Recovery(log))
	r.Use(Tracing(serviceName))
	r.Use(logger.GinMiddleware(log))
	r.Use(b.faults)
	r.Use(BearerAuth(b.token))

	for _, key := range community.AllDatasetKeys() {
		r.GET(key.RemotePath(), b.listHandler(key))
	}
	r.GET(BundlePath, b.bundleHandler)
	r.POST(SyncCheckPath, BodyLimit(maxSyncCheckBody), b.syncCheckHandler)
	return r
}

// faults counts hits and applies injected failures and raw bodies
func (b *Backend) faults(c *gin.Context) {
	path := c.Request.URL.Path

	b.mu.Lock()
	b.hits[path]++
	status, failing := b.failures[path]
	raw, hasRaw := b.raw[path]
	b.mu.Unlock()

	if failing {
		c.AbortWithStatusJSON(status, errorBody("INJECTED_FAILURE", http.StatusText(status)))
		return
	}
	if hasRaw {
		c.Data(http.StatusOK, "application/json", []byte(raw))
		c.Abort()
		return
	}
	c.Next()
}

func (b *Backend) listHandler(key community.DatasetKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		b.mu.RLock()
		rows := b.rows(key)
		b.mu.RUnlock()
		c.JSON(http.StatusOK, rows)
	}
}

func (b *Backend) bundleHandler(c *gin.Context) {
	b.mu.RLock()
	bundle := b.bundle
	b.mu.RUnlock()
	c.JSON(http.StatusOK, bundle)
}

type syncCheckRequest struct {
	ClientLastUpdated map[string]string `json:"client_last_updated"`
}

func (b *Backend) syncCheckHandler(c *gin.Context) {
	var req syncCheckRequest
	log := logger.L(c.Request.Context())
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Sync check rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", err.Error()))
		return
	}

	b.mu.RLock()
	stale := b.staleKeys(req.ClientLastUpdated)
	b.mu.RUnlock()

	log.Debug("Sync check answered",
		zap.Int("client_keys", len(req.ClientLastUpdated)),
		zap.Int("stale", len(stale)),
	)
	if len(stale) == 0 {
		c.Data(http.StatusOK, "application/json", []byte("0"))
		return
	}
	c.JSON(http.StatusOK, stale)
}
