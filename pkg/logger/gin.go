package logger

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginKey          = "logger"
)

// Middleware tags every request with a request id, exposes the tagged logger
// through both the gin context and the request context, and writes one access
// line per request. Routes listed in quiet (health probes) are logged at Debug
// unless they fail.
func Middleware(l *slog.Logger, quiet ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid := requestID(c.GetHeader(headerRequestID))
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set(ginKey, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		_, isQuiet := skip[route]

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.String("remote_ip", c.ClientIP()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		reqLogger.LogAttrs(c.Request.Context(), accessLevel(status, len(c.Errors) > 0, isQuiet), "http request", attrs...)
	}
}

func accessLevel(status int, failed, quiet bool) slog.Level {
	switch {
	case failed || status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case quiet:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// requestID keeps a caller-supplied id when it is short printable ASCII and
// generates one otherwise.
func requestID(h string) string {
	h = strings.TrimSpace(h)
	if h == "" || len(h) > 128 {
		return uuid.NewString()
	}
	if strings.ContainsFunc(h, func(r rune) bool { return r < '!' || r > '~' }) {
		return uuid.NewString()
	}
	return h
}

// FromGin pulls the request-scoped logger from the gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
