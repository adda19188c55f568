package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadf/assistant/internal/testutil"
)

func TestNewWriter_SetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()

	_, err := NewWriter(rec)

	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

type noFlushWriter struct {
	http.ResponseWriter
}

func TestNewWriter_RequiresFlusher(t *testing.T) {
	_, err := NewWriter(noFlushWriter{httptest.NewRecorder()})

	assert.ErrorContains(t, err, "flusher")
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteJSON(context.Background(), map[string]any{"type": "chunk", "text": "Bonjour"}))
	require.NoError(t, w.WriteJSON(context.Background(), map[string]any{"type": "end_turn"}))

	frames := testutil.ParseSSEFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "chunk", frames[0].Type)
	assert.Equal(t, "Bonjour", frames[0].Raw["text"])
	assert.Equal(t, "end_turn", frames[1].Type)
	assert.True(t, rec.Flushed)
}

// Payloads containing newlines must still come out as one well-formed
// frame; JSON escapes them.
func TestWriteJSON_NewlinesStayEscaped(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteJSON(context.Background(), map[string]any{"type": "chunk", "text": "ligne 1\nligne 2"}))

	frames := testutil.ParseSSEFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "ligne 1\nligne 2", frames[0].Raw["text"])
}

func TestWriteJSON_CanceledContext(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, w.WriteJSON(ctx, map[string]any{"type": "chunk"}))
	assert.Empty(t, rec.Body.String())
}

// One Writer per connection, many connections at once: the expected usage
// pattern must be race-free.
func TestWriter_MultipleConnections(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	const connections = 20
	const writes = 10

	for range connections {
		wg.Add(1)
		go func() {
			defer wg.Done()

			rec := httptest.NewRecorder()
			w, err := NewWriter(rec)
			if err != nil {
				t.Errorf("NewWriter failed: %v", err)
				return
			}
			for i := range writes {
				if err := w.WriteJSON(context.Background(), map[string]any{"type": "chunk", "n": i}); err != nil {
					t.Errorf("WriteJSON failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
