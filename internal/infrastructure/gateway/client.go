// Package gateway is the HTTP client for the community hub backend: the
// per-dataset listings, the sync-check exchange and the login bundle.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/domain/shared"
	"github.com/unihub/hubsync/internal/infrastructure/config"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"github.com/unihub/hubsync/internal/infrastructure/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	cfg        config.RemoteConfig
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenSource replaces the static token from config
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a backend client
func NewClient(cfg *config.RemoteConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    *cfg,
		tokens: StaticToken(cfg.Token),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.Named(c.logger, "gateway")
	return c
}

// BaseURL returns the configured backend URL
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// FetchList GETs path and decodes the JSON array into out
func (c *Client) FetchList(ctx context.Context, path string, out any) error {
	ctx, cancel := withTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	body, err := c.do(ctx, "gateway.fetch_list", http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return shared.Wrap(shared.ErrMalformedPayload, fmt.Errorf("%s: expected a JSON array", path))
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return shared.Wrap(shared.ErrMalformedPayload, fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

type syncCheckRequest struct {
	ClientLastUpdated map[string]string `json:"client_last_updated"`
}

// CheckSync sends the device's last-updated timestamps. The backend answers
// with a literal 0 when nothing changed (unchanged is true), or an object
// mapping each stale key to its server timestamp.
func (c *Client) CheckSync(ctx context.Context, meta map[string]string) (changed map[string]string, unchanged bool, err error) {
	ctx, cancel := withTimeout(ctx, c.cfg.SyncTimeout)
	defer cancel()

	if meta == nil {
		meta = map[string]string{}
	}
	payload, err := json.Marshal(syncCheckRequest{ClientLastUpdated: meta})
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode sync check: %w", err)
	}

	body, err := c.do(ctx, "gateway.check_sync", http.MethodPost, c.cfg.SyncCheckPath, payload)
	if err != nil {
		return nil, false, err
	}

	trimmed := bytes.TrimSpace(body)
	if string(trimmed) == "0" {
		return map[string]string{}, true, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, shared.Wrap(shared.ErrMalformedPayload, fmt.Errorf("sync check: unexpected body %q", truncate(trimmed, 64)))
	}
	if err := json.Unmarshal(trimmed, &changed); err != nil {
		return nil, false, shared.Wrap(shared.ErrMalformedPayload, fmt.Errorf("sync check: %w", err))
	}
	return changed, false, nil
}

// FetchBundle downloads the login bundle for the authenticated university
func (c *Client) FetchBundle(ctx context.Context) (*community.UniversityDataBundle, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	body, err := c.do(ctx, "gateway.fetch_bundle", http.MethodGet, c.cfg.BundlePath, nil)
	if err != nil {
		return nil, err
	}
	var bundle community.UniversityDataBundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, shared.Wrap(shared.ErrMalformedPayload, fmt.Errorf("bundle: %w", err))
	}
	return &bundle, nil
}

// do performs one request and returns the capped body of a 2xx response
func (c *Client) do(ctx context.Context, spanName, method, path string, payload []byte) ([]byte, error) {
	if logger.GetRequestID(ctx) == "" {
		ctx = logger.WithRequestID(ctx, uuid.NewString())
	}
	ctx, span := telemetry.StartSpan(ctx, spanName,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("http.route", path),
		telemetry.WithAttribute(telemetry.SpanAttrRequestID, logger.GetRequestID(ctx)),
	)
	defer span.End()

	body, err := c.roundTrip(ctx, method, path, payload)
	if err != nil {
		telemetry.RecordError(span, err)
		c.logger.Debug("Remote request failed",
			zap.String("request_id", logger.GetRequestID(ctx)),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	telemetry.SetOK(span)
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if c.cfg.BaseURL == "" {
		return nil, shared.Wrap(shared.ErrRemoteUnreachable, errors.New("remote base URL not configured"))
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reqBody)
	if err != nil {
		return nil, shared.Wrap(shared.ErrRemoteUnreachable, err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, shared.Wrap(shared.ErrRemoteUnreachable, fmt.Errorf("token: %w", err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(logger.RequestIDHeader, logger.GetRequestID(ctx))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, shared.Wrap(shared.ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	limit := c.cfg.MaxResponseBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, shared.Wrap(shared.ErrRemoteUnreachable, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, shared.Wrap(shared.ErrRemoteUnreachable, fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode))
	}
	if int64(len(body)) > limit {
		return nil, shared.Wrap(shared.ErrMalformedPayload, fmt.Errorf("%s: response exceeds %d bytes", path, limit))
	}
	return body, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
