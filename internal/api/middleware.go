package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/relaynode/internal/logging"
)

// HTTPLoggingMiddleware logs each API request once it completes. Event
// streams complete when the client goes away, so they log at debug.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.URL().Path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if ua := ctx.Header("User-Agent"); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}
	streaming := strings.Contains(ctx.Header("Accept"), "text/event-stream")

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	if streaming {
		logger.LogAttrs(ctx.Context(), slog.LevelDebug, "Event stream closed", attrs...)
		return
	}
	logger.LogAttrs(ctx.Context(), requestLevel(status), "HTTP request completed", attrs...)
}

func requestLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
