package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelInfo}).WithRequestID("req-1")

	l.Info("species served",
		SpeciesID("great-white-shark"),
		Source("WoRMS"),
		Int("count", 3),
		Latency(1500*time.Millisecond),
		Err(errors.New("partial")),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	e := lines[0]
	assert.Equal(t, "info", e["level"])
	assert.Equal(t, "species served", e["message"])
	assert.Equal(t, "req-1", e[RequestIDKey])
	assert.Equal(t, "great-white-shark", e["species_id"])
	assert.Equal(t, "WoRMS", e["source"])
	assert.Equal(t, 3.0, e["count"])
	assert.Equal(t, "1.5s", e["latency"])
	assert.Equal(t, "partial", e["error"])
	assert.Contains(t, e, "timestamp")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelWarn})
	child := l.With(Component("http"))

	child.Info("dropped")
	child.Warn("kept")
	assert.Len(t, decodeLines(t, &buf), 1)

	l.SetLevel(LevelDebug)
	assert.True(t, child.Enabled(LevelDebug), "children share the atomic level")
	child.Debug("now visible")
	assert.Len(t, decodeLines(t, &buf), 1)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"chatty":  LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf})

	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))

	assert.NotPanics(t, func() { FromContext(context.Background()).Info("discarded") })
	assert.Zero(t, buf.Len())
}
