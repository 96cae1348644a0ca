package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFansOutToExtraHandlers(t *testing.T) {
	var primary, extra bytes.Buffer
	log := New(Config{
		Level:  "debug",
		Format: "text",
		Writer: &primary,
		Extra:  []slog.Handler{FileHandler(&extra, "warn")},
	})

	log.Info(context.Background(), "node started", Uint32("node", 7))
	log.Warn(context.Background(), "stack overflow", Int("code", 228))

	if !strings.Contains(primary.String(), "node started") || !strings.Contains(primary.String(), "stack overflow") {
		t.Fatalf("primary handler missing records: %q", primary.String())
	}
	if strings.Contains(extra.String(), "node started") {
		t.Fatalf("extra handler should filter info records: %q", extra.String())
	}
	if !strings.Contains(extra.String(), `"code":228`) {
		t.Fatalf("extra handler missing warning: %q", extra.String())
	}
}

func TestWithRunLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Writer: &buf})

	ctx, log := WithRunLogger(context.Background(), base)
	id := RunIDFromContext(ctx)
	if id == "" {
		t.Fatalf("expected run id on context")
	}
	ctx2, id2 := EnsureRunID(ctx)
	if id2 != id || ctx2 != ctx {
		t.Fatalf("EnsureRunID replaced existing id %q with %q", id, id2)
	}
	if LoggerFromContext(ctx) != log {
		t.Fatalf("run logger not stored on the context")
	}

	log.Info(ctx, "run finished")
	if !strings.Contains(buf.String(), `"run_id":"`+id+`"`) {
		t.Fatalf("log line missing run_id: %q", buf.String())
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on empty context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("expected noop logger to be stored")
	}
}
