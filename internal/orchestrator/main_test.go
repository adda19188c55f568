package orchestrator

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutine leaks across the orchestrator tests. Tool
// sessions and the per-conversation locks must not strand goroutines.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
