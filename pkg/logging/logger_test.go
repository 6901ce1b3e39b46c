package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, &TextFormatter{DisableTimestamp: true})

	l.Debug("hidden")
	l.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	l.SetLevel(DebugLevel)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.Equal(t, DebugLevel, l.GetLevel())
}

func TestTextFormatterSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, &TextFormatter{DisableTimestamp: true})

	l.Info("request done",
		String("method", "ping"),
		Int("attempt", 2),
		Bool("ok", true))

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "[INFO] request done"), "got %q", line)
	// Fields render sorted by key.
	assert.Less(t, strings.Index(line, "attempt=2"), strings.Index(line, "method=ping"))
	assert.Contains(t, line, "ok=true")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, NewJSONFormatter())

	l.Warn("slow response", Duration("elapsed", 0), ErrorField(errors.New("deadline")))

	var obj map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &obj))
	assert.Equal(t, "WARN", obj["level"])
	assert.Equal(t, "slow response", obj["msg"])
	assert.Equal(t, "deadline", obj["error"])
}

func TestWithFieldsInherits(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, &TextFormatter{DisableTimestamp: true})
	child := base.WithFields(String("session_id", "abc"))

	child.Info("hello", String("extra", "1"))
	assert.Contains(t, buf.String(), "session_id=abc")
	assert.Contains(t, buf.String(), "extra=1")

	// The parent stays clean.
	buf.Reset()
	base.Info("plain")
	assert.NotContains(t, buf.String(), "session_id")
}

func TestNopDiscards(t *testing.T) {
	// Must not panic or write anywhere.
	l := NewNop()
	l.Error("dropped", Any("x", struct{}{}))
}
