package testutil

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"
)

// SSEFrame is one decoded JSON frame from the event stream. Type is the
// discriminator carried inside the JSON payload; Raw is the full payload.
type SSEFrame struct {
	Type string
	Raw  map[string]any
}

// ParseSSEFrames parses an SSE body where every event is a single
// "data: <json>" line terminated by a blank line. Comment lines (":") are
// ignored; anything else fails the test.
func ParseSSEFrames(t *testing.T, body string) []SSEFrame {
	t.Helper()

	var frames []SSEFrame
	scanner := bufio.NewScanner(strings.NewReader(body))
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			var raw map[string]any
			if err := json.Unmarshal([]byte(payload), &raw); err != nil {
				t.Fatalf("SSE parse error at line %d: invalid JSON payload %q: %v", lineNum, payload, err)
			}
			frameType, _ := raw["type"].(string)
			if frameType == "" {
				t.Fatalf("SSE parse error at line %d: payload without type: %q", lineNum, payload)
			}
			frames = append(frames, SSEFrame{Type: frameType, Raw: raw})

		case line == "" || strings.HasPrefix(line, ":"):
			// Event separator or comment.

		default:
			t.Fatalf("SSE parse error at line %d: unexpected line %q", lineNum, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("SSE scan error: %v", err)
	}

	return frames
}

// FrameTypes returns the type discriminators of the frames, in order.
func FrameTypes(frames []SSEFrame) []string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	return types
}
