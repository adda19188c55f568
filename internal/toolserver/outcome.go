package toolserver

import (
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// OutcomeStatus is the normalized classification of a tool result.
type OutcomeStatus int

const (
	StatusOK OutcomeStatus = iota
	StatusAuthRequired
	StatusError
)

func (s OutcomeStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAuthRequired:
		return "auth_required"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is a normalized tool result. Payload carries the concatenated
// text content on success; Detail carries the error text otherwise.
type Outcome struct {
	Status  OutcomeStatus
	Payload string
	Detail  string
}

// Markers that distinguish an authorization failure from a generic tool
// error. The distinction decides whether the turn halts with an auth
// prompt or the error is handed back to the model.
var authMarkers = []string{
	"authorization required",
	"authentication required",
	"unauthorized",
	"invalid_token",
	`"type":"auth"`,
	"401",
	"403",
}

// Classify normalizes a raw tool result.
func Classify(result *mcp.CallToolResult) Outcome {
	text := concatText(result)

	if result.IsError {
		if isAuthRequired(text) {
			return Outcome{Status: StatusAuthRequired, Detail: text}
		}
		return Outcome{Status: StatusError, Detail: text}
	}
	return Outcome{Status: StatusOK, Payload: text}
}

func concatText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func isAuthRequired(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
