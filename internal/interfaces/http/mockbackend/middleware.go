package mockbackend

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxRequestIDLength bounds the request id copied into span attributes
const maxRequestIDLength = 128

// Tracing wraps otelgin and tags the server span with the request id.
// Responses with status 4xx/5xx mark the span as failed.
func Tracing(serviceName string) gin.HandlerFunc {
	base := otelgin.Middleware(serviceName)
	return func(c *gin.Context) {
		base(c)

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		if id := c.GetHeader(logger.RequestIDHeader); id != "" {
			if len(id) > maxRequestIDLength {
				id = id[:maxRequestIDLength]
			}
			span.SetAttributes(attribute.String("request_id", id))
		}
		if status := c.Writer.Status(); status >= http.StatusBadRequest {
			span.SetStatus(codes.Error, http.StatusText(status))
			span.SetAttributes(attribute.Int("http.status_code", status))
		}
	}
}

// BearerAuth rejects requests without the expected opaque token. An empty
// token disables the check.
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || got != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "missing or invalid bearer token"))
			return
		}
		c.Next()
	}
}

// BodyLimit caps request bodies at maxBytes
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody("REQUEST_TOO_LARGE", "request body exceeds maximum allowed size"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorBody(code, message string) gin.H {
	return gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
