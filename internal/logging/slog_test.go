package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func textLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLoggerLevels(t *testing.T) {
	log, buf := textLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "probe tick", "interval", "3s")
	log.Info(ctx, "store opened", "engine", "sqlite")
	log.Warn(ctx, "persisted token rejected", "reason", "expired")
	log.Error(ctx, "drain failed", "entries", 2)

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, `msg="probe tick"`)
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "engine=sqlite")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "reason=expired")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "entries=2")
}

func TestSlogLoggerWith(t *testing.T) {
	log, buf := textLogger(t)

	child := log.With("component", "syncer")
	child.Info(context.Background(), "sync completed", "synced", 3)

	out := buf.String()
	assert.Contains(t, out, "component=syncer")
	assert.Contains(t, out, "synced=3")

	// The parent logger is unchanged.
	buf.Reset()
	log.Info(context.Background(), "plain")
	assert.NotContains(t, buf.String(), "component=syncer")
}
