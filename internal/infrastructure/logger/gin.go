package logger

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ginLoggerKey = "logger"

// sensitiveQueryParams never reach access logs. OAuth callbacks carry code
// and state; Shopify signs its query strings with hmac.
var sensitiveQueryParams = map[string]struct{}{
	"code":           {},
	"state":          {},
	"hmac":           {},
	"signature":      {},
	"token":          {},
	"signed_payload": {},
}

type accessLogOptions struct {
	quiet map[string]struct{}
}

// AccessLogOption tunes GinMiddleware.
type AccessLogOption func(*accessLogOptions)

// WithQuietPaths logs successful requests to the given paths at debug,
// keeping probe traffic out of info logs.
func WithQuietPaths(paths ...string) AccessLogOption {
	return func(o *accessLogOptions) {
		for _, p := range paths {
			o.quiet[p] = struct{}{}
		}
	}
}

// GinMiddleware writes one access log entry per request and attaches the
// logger plus request id to the request context for logger.L.
func GinMiddleware(base *zap.Logger, opts ...AccessLogOption) gin.HandlerFunc {
	o := accessLogOptions{quiet: map[string]struct{}{}}
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetString("request_id")

		reqLogger := base.With(
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		c.Set(ginLoggerKey, reqLogger)
		ctx := WithContext(c.Request.Context(), base)
		if requestID != "" {
			ctx = WithRequestID(ctx, requestID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if q := redactQuery(c.Request.URL.RawQuery); q != "" {
			fields = append(fields, zap.String("query", q))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		_, quiet := o.quiet[c.Request.URL.Path]
		reqLogger.Log(accessLevel(status, quiet), "HTTP Request", fields...)
	}
}

func accessLevel(status int, quiet bool) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	case quiet:
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// redactQuery masks sensitive parameter values. Unparseable queries are
// replaced entirely.
func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparseable]"
	}
	for key := range values {
		if _, ok := sensitiveQueryParams[strings.ToLower(key)]; ok {
			values[key] = []string{"[redacted]"}
		}
	}
	return values.Encode()
}

// Recovery turns a handler panic into a 500 envelope and an error log with
// the stack.
func Recovery(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			requestID := c.GetString("request_id")
			Enrich(c.Request.Context(), base).Error("Panic recovered",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", r),
				zap.Stack("stacktrace"),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":       "ERR_INTERNAL",
					"message":    "Internal server error",
					"request_id": requestID,
				},
			})
		}()
		c.Next()
	}
}

// GetGinLogger returns the per-request logger set by GinMiddleware.
func GetGinLogger(c *gin.Context) *zap.Logger {
	if l, ok := c.Get(ginLoggerKey); ok {
		if zl, ok := l.(*zap.Logger); ok {
			return zl
		}
	}
	return zap.NewNop()
}
