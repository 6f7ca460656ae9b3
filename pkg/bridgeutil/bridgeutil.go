package bridgeutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LoggerFromContext prefers a logger attached to ctx, such as a per-call
// logger carrying call fields, over fallback. zerolog's process-wide default
// does not count as attached, so a component logger is never replaced by it.
func LoggerFromContext(ctx context.Context, fallback *zerolog.Logger) *zerolog.Logger {
	if ctx == nil {
		return fallback
	}
	ctxLog := zerolog.Ctx(ctx)
	if ctxLog == nil || ctxLog == zerolog.DefaultContextLogger || ctxLog.GetLevel() == zerolog.Disabled {
		return fallback
	}
	return ctxLog
}

// ExpandHome resolves a leading ~ to the user's home directory and cleans the
// result. Empty input stays empty.
func ExpandHome(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
		}
	}
	return filepath.Clean(trimmed)
}
