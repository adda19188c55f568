package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadf/assistant/internal/config"
	"github.com/vadf/assistant/internal/orchestrator"
	"github.com/vadf/assistant/internal/testutil"
	"github.com/vadf/assistant/internal/toolserver"
)

func testConfig() *config.Config {
	return &config.Config{
		// A closed local port makes the dial fail fast.
		ShopURL:           "http://127.0.0.1:1",
		StorefrontMCPPath: "/api/mcp",
		WellKnownPath:     "/.well-known/customer-account-api.json",
		ToolTimeout:       time.Second,
	}
}

func TestToolDialer_ErrorYieldsNilInterface(t *testing.T) {
	d := &toolDialer{client: toolserver.NewClient(testConfig(), nil, testutil.Logger())}

	// the configured shop does not resolve, so the dial must fail
	conn, err := d.Dial(context.Background(), uuid.New(), toolserver.Storefront, "")

	require.Error(t, err)
	var discErr *toolserver.DiscoveryError
	assert.ErrorAs(t, err, &discErr)
	assert.Nil(t, conn, "a failed dial must not leak a typed nil into the interface")
}

func TestToolDialerSatisfiesDialer(t *testing.T) {
	var _ orchestrator.Dialer = (*toolDialer)(nil)
}

func TestAppClose_Idempotent(t *testing.T) {
	a := &App{Logger: testutil.Logger()}

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestAppClose_RunsOtelCleanup(t *testing.T) {
	cleaned := false
	a := &App{Logger: testutil.Logger(), otelCleanup: func() { cleaned = true }}

	require.NoError(t, a.Close())
	assert.True(t, cleaned)
}
