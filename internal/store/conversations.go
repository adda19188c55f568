package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/genai"

	"github.com/vadf/assistant/internal/log"
)

// DB is the subset of pgxpool.Pool used by Conversations. Defined on the
// consumer side so tests can substitute a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conversations manages conversation persistence in PostgreSQL.
// Safe for concurrent use; per-conversation write ordering is the caller's
// responsibility (the orchestrator serializes turns per conversation id).
type Conversations struct {
	db     DB
	logger log.Logger
}

// NewConversations creates a Conversations store.
func NewConversations(db DB, logger log.Logger) *Conversations {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Conversations{db: db, logger: logger}
}

// Create inserts a conversation row. It is idempotent: creating an existing
// conversation is a no-op.
func (s *Conversations) Create(ctx context.Context, id uuid.UUID, shopID string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO conversations (id, shop_id) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		id, shopID)
	if err != nil {
		return fmt.Errorf("creating conversation %s: %w", id, err)
	}
	s.logger.Debug("created conversation", "conversation_id", id, "shop_id", shopID)
	return nil
}

// AppendMessage appends one message to the conversation with the next
// sequence number. Write-through: called for every message as it is
// produced, never batched.
func (s *Conversations) AppendMessage(ctx context.Context, conversationID uuid.UUID, role string, content []*genai.Part) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("invalid message role %q", role)
	}

	payload, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshaling message content: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO conversation_messages (conversation_id, role, content, sequence_number)
		 VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(sequence_number), 0) + 1
			   FROM conversation_messages WHERE conversation_id = $1))`,
		conversationID, role, payload)
	if err != nil {
		return fmt.Errorf("appending message to %s: %w", conversationID, err)
	}

	_, err = s.db.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`,
		conversationID)
	if err != nil {
		// History write succeeded, timestamp refresh is cosmetic.
		s.logger.Warn("updating conversation timestamp", "conversation_id", conversationID, "error", err)
	}

	return nil
}

// LoadHistory returns all messages of a conversation ordered by sequence
// number. A conversation with no messages yields an empty slice.
func (s *Conversations) LoadHistory(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, content, sequence_number, created_at
		   FROM conversation_messages
		  WHERE conversation_id = $1
		  ORDER BY sequence_number`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m       Message
			payload []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &payload, &m.SequenceNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if err := json.Unmarshal(payload, &m.Content); err != nil {
			return nil, fmt.Errorf("decoding message content: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// Get returns a conversation by id, or ErrNotFound.
func (s *Conversations) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx,
		`SELECT id, shop_id, created_at, updated_at FROM conversations WHERE id = $1`,
		id).Scan(&c.ID, &c.ShopID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return &c, nil
}
