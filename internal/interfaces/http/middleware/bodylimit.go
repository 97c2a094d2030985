package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodyLimitOption configures BodyLimit
type BodyLimitOption func(*bodyLimit)

type bodyLimit struct {
	rejectBody any
}

// WithRejectBody replaces the JSON body sent with 413. Webhook routes use it
// to answer in the same shape as every other webhook response.
func WithRejectBody(body any) BodyLimitOption {
	return func(b *bodyLimit) {
		b.rejectBody = body
	}
}

// BodyLimit rejects a declared Content-Length above maxBytes with 413 and caps
// undeclared bodies with http.MaxBytesReader, whose *http.MaxBytesError the
// handler maps to 413 when it reads past the limit.
func BodyLimit(maxBytes int64, opts ...BodyLimitOption) gin.HandlerFunc {
	cfg := bodyLimit{
		rejectBody: gin.H{
			"success": false,
			"error": gin.H{
				"code":    "ERR_PAYLOAD_TOO_LARGE",
				"message": "Request body exceeds maximum allowed size",
			},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, cfg.rejectBody)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
