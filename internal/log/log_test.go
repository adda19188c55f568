package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})

	logger.Debug("hello", "component", "test")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "component=test")
}

func TestNewWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{JSON: true})

	logger.Info("event", "conversation_id", "abc")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"), "expected JSON output, got %q", out)
	assert.Contains(t, out, `"conversation_id":"abc"`)
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelWarn})

	logger.Info("below threshold")
	assert.Empty(t, buf.String())

	logger.Warn("at threshold")
	assert.Contains(t, buf.String(), "at threshold")
}

func TestNewNop_DiscardsOutput(t *testing.T) {
	logger := NewNop()
	require.NotNil(t, logger)

	// Must not panic and must accept any level.
	logger.Debug("discarded")
	logger.Error("discarded too")
}
