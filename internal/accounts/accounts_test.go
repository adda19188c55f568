package accounts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/status", r.URL.Path)
		assert.Equal(t, "claire@example.fr", r.URL.Query().Get("email"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"claire@example.fr","status":"actif","active":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)

	s, err := c.Lookup(context.Background(), "claire@example.fr")

	require.NoError(t, err)
	assert.Equal(t, "claire@example.fr", s.Email)
	assert.Equal(t, "actif", s.Status)
	assert.True(t, s.Active)
}

func TestLookup_UnknownAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)

	_, err := c.Lookup(context.Background(), "nobody@example.fr")

	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestLookup_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)

	_, err := c.Lookup(context.Background(), "claire@example.fr")

	assert.ErrorContains(t, err, "returned 500")
}

func TestContextValues(t *testing.T) {
	s := Status{Email: "claire@example.fr", Status: "suspendu", Active: false}

	assert.Equal(t, map[string]string{
		"email":        "claire@example.fr",
		"statut":       "suspendu",
		"compte_actif": "false",
	}, s.ContextValues())
}
