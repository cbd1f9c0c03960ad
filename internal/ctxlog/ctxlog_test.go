package ctxlog_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_FallsBackToDefault(t *testing.T) {
	t.Parallel()

	assert.Same(t, slog.Default(), ctxlog.FromContext(context.Background()))
	//nolint:staticcheck // nil ctx is tolerated on purpose
	assert.Same(t, slog.Default(), ctxlog.FromContext(nil))
}

func TestWithLogger_RoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := ctxlog.New("debug", "text", &buf)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	require.Same(t, logger, ctxlog.FromContext(ctx))

	ctx = ctxlog.With(ctx, "zone", 7)
	ctxlog.FromContext(ctx).Debug("hello")
	assert.Contains(t, buf.String(), "zone=7")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestFromContextOr(t *testing.T) {
	t.Parallel()

	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, fallback, ctxlog.FromContextOr(context.Background(), fallback))
	assert.Same(t, slog.Default(), ctxlog.FromContextOr(context.Background(), nil))

	own := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := ctxlog.WithLogger(context.Background(), own)
	assert.Same(t, own, ctxlog.FromContextOr(ctx, fallback))
}

func TestNew_JSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctxlog.New("info", "JSON", &buf).Info("x", "k", "v")
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ctxlog.ParseLevel(in), in)
	}
}
