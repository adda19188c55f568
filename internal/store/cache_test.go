package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheWithClient(client, time.Hour, nil)
	t.Cleanup(func() { _ = cache.Close() })

	return cache, mr
}

func TestCache_TokenRoundTrip(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()
	convID := uuid.New()

	token := Token{
		AccessToken: "shcat_xyz",
		ExpiresAt:   time.Now().Add(time.Hour).Truncate(time.Second),
	}
	require.NoError(t, cache.PutToken(ctx, convID, token))

	got, err := cache.Token(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, token.AccessToken, got.AccessToken)
	assert.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestCache_Token_Miss(t *testing.T) {
	cache, _ := setupCache(t)

	_, err := cache.Token(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_PutToken_RejectsExpired(t *testing.T) {
	cache, _ := setupCache(t)

	err := cache.PutToken(context.Background(), uuid.New(), Token{
		AccessToken: "shcat_xyz",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})

	assert.ErrorContains(t, err, "already expired")
}

// The Redis TTL must track the token expiry so a cached token disappears
// when it stops being valid.
func TestCache_Token_ExpiresWithToken(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()
	convID := uuid.New()

	require.NoError(t, cache.PutToken(ctx, convID, Token{
		AccessToken: "shcat_xyz",
		ExpiresAt:   time.Now().Add(30 * time.Second),
	}))

	mr.FastForward(time.Minute)

	_, err := cache.Token(ctx, convID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_EndpointRoundTrip(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()
	convID := uuid.New()

	require.NoError(t, cache.PutEndpoint(ctx, convID, "https://shop.example.fr/customer/mcp"))

	endpoint, err := cache.Endpoint(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.fr/customer/mcp", endpoint)
}

func TestCache_Endpoint_Miss(t *testing.T) {
	cache, _ := setupCache(t)

	_, err := cache.Endpoint(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_Endpoint_ExpiresAfterTTL(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()
	convID := uuid.New()

	require.NoError(t, cache.PutEndpoint(ctx, convID, "https://shop.example.fr/customer/mcp"))

	mr.FastForward(2 * time.Hour)

	_, err := cache.Endpoint(ctx, convID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Entries are scoped per conversation: one conversation's token must never
// leak into another.
func TestCache_KeysScopedByConversation(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, cache.PutToken(ctx, a, Token{
		AccessToken: "token-a",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	_, err := cache.Token(ctx, b)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToken_Valid(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		token Token
		want  bool
	}{
		{"valid", Token{AccessToken: "x", ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", Token{AccessToken: "x", ExpiresAt: now.Add(-time.Minute)}, false},
		{"empty", Token{ExpiresAt: now.Add(time.Hour)}, false},
		{"zero", Token{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.Valid(now))
		})
	}
}
