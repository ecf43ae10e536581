package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo, Format: "json"})

	log.With(Component("progress")).Warn("refresh failed",
		UserID("u1"),
		Err(errors.New("boom")),
	)
	log.Debug("dropped")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "refresh failed", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "progress", entry["component"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestErr_NilIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo})
	log.Info("ok", Err(nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	_, has := entry["error"]
	assert.False(t, has)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := Nop()
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}

func TestNewFromZap_ObservedFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewFromZap(zap.New(core)).With(Component("quizhistory"))

	log.Warn("remote insert failed", ResultID("r1"), Latency(0))

	entries := logs.FilterMessage("remote insert failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "quizhistory", fields["component"])
	assert.Equal(t, "r1", fields["result_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestNewFromZap_TestLogger(t *testing.T) {
	log := NewFromZap(zaptest.NewLogger(t))
	log.Info("routed through the test log", GameID("clank"))
	assert.NotNil(t, log.Zap())
}
