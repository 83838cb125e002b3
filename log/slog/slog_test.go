package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unkn0wn-root/asyncache"
)

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	base := stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))
	l := New(base, "feed")

	l.Info("event applied", asyncache.Fields{"event": "FEED_CLEARED", "key": "a"})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "event applied", rec["msg"])
	assert.Equal(t, "feed", rec["asyncache.resource"])
	assert.Equal(t, "FEED_CLEARED", rec["event"])
	assert.Equal(t, "a", rec["key"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelWarn}))}

	l.Debug("dropped", nil)
	assert.Zero(t, buf.Len())

	l.Warn("kept", nil)
	assert.Contains(t, buf.String(), "kept")
}
