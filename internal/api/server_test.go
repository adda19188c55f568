package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadf/assistant/internal/testutil"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := NewServer(ServerConfig{
		Runner:        &fakeRunner{},
		Exchanger:     &fakeExchanger{},
		Tokens:        &fakeTokenStore{},
		Conversations: &fakeConversationReader{},
		Logger:        testutil.Logger(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Liveness(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ReadinessWithoutPool(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_UnknownRoute(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/chat")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
