package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vadf/assistant/internal/log"
)

const cacheDialTimeout = 5 * time.Second

// Cache stores OAuth tokens and resolved customer tool-server endpoints in
// Redis. Both are scoped to a conversation; tokens expire with the token
// itself, endpoints with a configured TTL.
type Cache struct {
	client      *redis.Client
	endpointTTL time.Duration
	logger      log.Logger
}

// NewCache connects to Redis and verifies the connection.
func NewCache(redisURL string, endpointTTL time.Duration, logger log.Logger) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), cacheDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	if logger == nil {
		logger = log.NewNop()
	}
	return &Cache{client: client, endpointTTL: endpointTTL, logger: logger}, nil
}

// NewCacheWithClient wraps an existing Redis client. Used by tests
// (miniredis) and by callers that manage the client lifecycle themselves.
func NewCacheWithClient(client *redis.Client, endpointTTL time.Duration, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Cache{client: client, endpointTTL: endpointTTL, logger: logger}
}

// Close releases the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func tokenKey(conversationID uuid.UUID) string {
	return fmt.Sprintf("conv:%s:token", conversationID)
}

func endpointKey(conversationID uuid.UUID) string {
	return fmt.Sprintf("conv:%s:mcp_endpoint", conversationID)
}

// Token returns the cached OAuth token for a conversation, or ErrNotFound.
func (c *Cache) Token(ctx context.Context, conversationID uuid.UUID) (Token, error) {
	data, err := c.client.Get(ctx, tokenKey(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return Token{}, fmt.Errorf("token for %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return Token{}, fmt.Errorf("reading token for %s: %w", conversationID, err)
	}

	var t Token
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return Token{}, fmt.Errorf("decoding token for %s: %w", conversationID, err)
	}
	return t, nil
}

// PutToken stores a token. The Redis TTL tracks the token expiry so a
// cached token can never outlive its validity.
func (c *Cache) PutToken(ctx context.Context, conversationID uuid.UUID, t Token) error {
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token for %s already expired at %s", conversationID, t.ExpiresAt)
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := c.client.Set(ctx, tokenKey(conversationID), data, ttl).Err(); err != nil {
		return fmt.Errorf("storing token for %s: %w", conversationID, err)
	}

	c.logger.Debug("stored token", "conversation_id", conversationID, "ttl", ttl)
	return nil
}

// Endpoint returns the cached customer tool-server endpoint for a
// conversation, or ErrNotFound.
func (c *Cache) Endpoint(ctx context.Context, conversationID uuid.UUID) (string, error) {
	endpoint, err := c.client.Get(ctx, endpointKey(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("endpoint for %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading endpoint for %s: %w", conversationID, err)
	}
	return endpoint, nil
}

// PutEndpoint caches a resolved endpoint with the configured TTL.
func (c *Cache) PutEndpoint(ctx context.Context, conversationID uuid.UUID, endpoint string) error {
	if err := c.client.Set(ctx, endpointKey(conversationID), endpoint, c.endpointTTL).Err(); err != nil {
		return fmt.Errorf("storing endpoint for %s: %w", conversationID, err)
	}
	return nil
}
