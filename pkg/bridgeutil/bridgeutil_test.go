package bridgeutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerFromContext(t *testing.T) {
	fallback := zerolog.Nop()
	if got := LoggerFromContext(context.Background(), &fallback); got != &fallback {
		t.Fatalf("expected fallback logger for bare context")
	}

	var buf bytes.Buffer
	ctxLog := zerolog.New(&buf)
	ctx := ctxLog.WithContext(context.Background())
	LoggerFromContext(ctx, &fallback).Info().Msg("from ctx")
	if !bytes.Contains(buf.Bytes(), []byte("from ctx")) {
		t.Fatalf("expected context logger to be used, got %q", buf.String())
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/.openclaw/sessions"); got != filepath.Join(home, ".openclaw", "sessions") {
		t.Fatalf("unexpected expansion: %q", got)
	}
	if got := ExpandHome("  /tmp/x/../y "); got != "/tmp/y" {
		t.Fatalf("expected cleaned absolute path, got %q", got)
	}
	if got := ExpandHome(""); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
}

func TestLoggerFromContextIgnoresDefaultLogger(t *testing.T) {
	var defBuf bytes.Buffer
	def := zerolog.New(&defBuf)
	prev := zerolog.DefaultContextLogger
	zerolog.DefaultContextLogger = &def
	t.Cleanup(func() { zerolog.DefaultContextLogger = prev })

	var buf bytes.Buffer
	fallback := zerolog.New(&buf).With().Str("component", "agent").Logger()
	got := LoggerFromContext(context.Background(), &fallback)
	if got != &fallback {
		t.Fatalf("expected fallback logger when only the default logger is set")
	}
	got.Info().Msg("hello")
	if defBuf.Len() != 0 || !bytes.Contains(buf.Bytes(), []byte(`"component":"agent"`)) {
		t.Fatalf("expected component logger output, got %q / %q", buf.String(), defBuf.String())
	}
}
