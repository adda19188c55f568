package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/orchestrator"
	"github.com/vadf/assistant/internal/sse"
)

// maxChatBody bounds the request body. A chat message is small; anything
// larger is a client error.
const maxChatBody = 64 << 10

// ChatHandler serves the streaming chat endpoint. defaultShopID fills in
// requests that omit shop_id, for deployments bound to a single shop.
type ChatHandler struct {
	runner        ChatRunner
	defaultShopID string
	logger        log.Logger
}

// RegisterRoutes registers the chat route on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.chat)
}

type chatRequest struct {
	ConversationID string            `json:"conversation_id"`
	ShopID         string            `json:"shop_id"`
	Message        string            `json:"message"`
	Context        map[string]string `json:"context"`
	PromptType     string            `json:"prompt_type"`
}

// chat validates the request, then hands the connection to the
// orchestrator as an SSE stream. Validation failures are plain JSON
// errors; once streaming has begun, a failure closes the connection
// without a terminal event and the client resynchronizes from history.
func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", h.logger)
		return
	}

	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_parameter", "message is required", h.logger)
		return
	}
	if req.ShopID == "" {
		req.ShopID = h.defaultShopID
	}
	if req.ShopID == "" {
		writeError(w, http.StatusBadRequest, "missing_parameter", "shop_id is required", h.logger)
		return
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		var err error
		conversationID, err = uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "conversation_id must be a UUID", h.logger)
			return
		}
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming", h.logger)
		return
	}

	ctx := r.Context()
	emit := orchestrator.EmitterFunc(func(ev orchestrator.Event) error {
		return stream.WriteJSON(ctx, ev)
	})

	err = h.runner.Run(ctx, orchestrator.Request{
		ConversationID: conversationID,
		ShopID:         req.ShopID,
		Message:        req.Message,
		Context:        req.Context,
		PromptType:     req.PromptType,
	}, emit)
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyMessage) {
			// Unreachable after validation above, kept as a guard.
			writeError(w, http.StatusBadRequest, "missing_parameter", "message is required", h.logger)
			return
		}
		// Headers are sent; the abrupt close is the error signal.
		h.logger.Error("chat turn failed", "error", err, "shop_id", req.ShopID)
	}
}
