// Package store provides persistence for conversations and the
// token/endpoint cache.
//
// Responsibilities: conversation history lives in PostgreSQL; OAuth tokens
// and resolved tool-server endpoints live in Redis with TTL semantics.
// Retention and durability policy belong to the backing services, not to
// this package.
package store

import (
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Message roles. Tool-use blocks appear in assistant messages, tool-result
// blocks in user messages, mirroring the wire format of the model API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation represents one conversation (application-level type).
type Conversation struct {
	ID        uuid.UUID
	ShopID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single conversation message. Content holds the typed content
// blocks (text, tool-use, tool-result) and is stored as JSONB.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        []*genai.Part
	SequenceNumber int
	CreatedAt      time.Time
}

// Token is an OAuth access token with its expiry, cached per conversation.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token is present and not expired at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}
