package logger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSink struct {
	buf []byte
}

func (s *testSink) Write(p []byte) (int, error) {
	s.buf = append(s.buf[:0], p...)
	return len(p), nil
}

func TestJSONLogEntryString(t *testing.T) {
	entry := JSONLogEntry{Message: "Test message"}
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(entry.String()), &parsed))
	assert.Equal(t, "Test message", parsed["message"])
	assert.Equal(t, "INFO", parsed["severity"]) // Default severity

	entry = JSONLogEntry{
		Message:  "Test message",
		Severity: "ERROR",
		Metadata: map[string]interface{}{"key1": "value1", "key2": 42},
	}
	parsed = nil
	require.NoError(t, json.Unmarshal([]byte(entry.String()), &parsed))
	assert.Equal(t, "ERROR", parsed["severity"])
	metadata := parsed["metadata"].(map[string]interface{})
	assert.Equal(t, "value1", metadata["key1"])
	assert.Equal(t, float64(42), metadata["key2"]) // JSON numbers are float64
}

func TestJSONLoggerComponentFromPrefix(t *testing.T) {
	sink := &testSink{}
	l := NewJSONLoggerWithSink(sink, LevelTrace).WithPrefix("[balance]")
	l.Info("hello %s", "world")

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.buf, &parsed))
	assert.Equal(t, "balance", parsed["component"])
	assert.Equal(t, "hello world", parsed["message"])
	assert.Equal(t, "INFO", parsed["severity"])
}

func TestJSONLoggerWithMetadata(t *testing.T) {
	sink := &testSink{}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	base := NewJSONLoggerWithSink(sink, LevelTrace).(*jsonLogger)
	base.ts = &ts
	l := base.With(map[string]interface{}{"player": "p1", "component": "ledger"})
	l.Warn("low balance")

	var entry JSONLogEntry
	require.NoError(t, json.Unmarshal(sink.buf, &entry))
	assert.Equal(t, "WARNING", entry.Severity)
	assert.Equal(t, "ledger", entry.Component)
	assert.Equal(t, "p1", entry.Metadata["player"])
	assert.NotContains(t, entry.Metadata, "component")
	assert.True(t, ts.Equal(entry.Timestamp))
}

func TestJSONLoggerSinkLevel(t *testing.T) {
	sink := &testSink{}
	l := NewJSONLoggerWithSink(sink, LevelWarn)
	l.Info("dropped")
	assert.Empty(t, sink.buf)
	l.Error("kept")
	assert.Contains(t, string(sink.buf), "kept")
}

func TestJSONLoggerStack(t *testing.T) {
	sink := &testSink{}
	next := NewTestLogger()
	l := NewJSONLoggerWithSink(sink, LevelTrace).Stack(next)
	l.Debug("both %d", 2)
	assert.Contains(t, string(sink.buf), "both 2")
	assert.Equal(t, 1, next.Count("DEBUG", "both 2"))
}
