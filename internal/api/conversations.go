package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/store"
)

// ConversationReader reads persisted conversations. Satisfied by
// store.Conversations.
type ConversationReader interface {
	Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
	LoadHistory(ctx context.Context, conversationID uuid.UUID) ([]store.Message, error)
}

// ConversationHandler serves conversation history.
type ConversationHandler struct {
	store  ConversationReader
	logger log.Logger
}

// RegisterRoutes registers the conversation routes on the given mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.messages)
}

// messageView is the JSON shape of one history entry. Only text blocks
// are rendered; tool-use and tool-result blocks are internal to the model
// loop.
type messageView struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *ConversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "conversation id must be a UUID", h.logger)
		return
	}

	if _, err := h.store.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation does not exist", h.logger)
			return
		}
		h.logger.Error("loading conversation", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load conversation", h.logger)
		return
	}

	history, err := h.store.LoadHistory(r.Context(), id)
	if err != nil {
		h.logger.Error("loading history", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load messages", h.logger)
		return
	}

	views := make([]messageView, 0, len(history))
	for _, msg := range history {
		text := ""
		for _, part := range msg.Content {
			if part.Text != "" {
				text += part.Text
			}
		}
		views = append(views, messageView{
			Role:      msg.Role,
			Text:      text,
			Sequence:  msg.SequenceNumber,
			CreatedAt: msg.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": views}, h.logger)
}
