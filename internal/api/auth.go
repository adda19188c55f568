package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/vadf/assistant/internal/auth"
	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/store"
)

// TokenExchanger trades an authorization code for a token. Satisfied by
// auth.Manager.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (store.Token, error)
}

// TokenStore caches the obtained token. Satisfied by store.Cache.
type TokenStore interface {
	PutToken(ctx context.Context, conversationID uuid.UUID, t store.Token) error
}

// AuthHandler serves the OAuth redirect target.
type AuthHandler struct {
	exchanger TokenExchanger
	tokens    TokenStore
	logger    log.Logger
}

// RegisterRoutes registers the callback route on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/callback", h.callback)
}

const callbackPage = `<!DOCTYPE html>
<html lang="fr">
<head><meta charset="utf-8"><title>Connexion VADF</title></head>
<body>
<p>Connexion réussie. Vous pouvez fermer cet onglet et reprendre la conversation.</p>
</body>
</html>`

// callback finishes the OAuth flow: it recovers the conversation from the
// state parameter, exchanges the code and caches the token. The browser
// gets a short confirmation page; the conversation picks the token up on
// its next turn.
func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing_parameter", "code and state are required", h.logger)
		return
	}

	conversationID, shopID, err := auth.ParseState(state)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "state is malformed", h.logger)
		return
	}

	token, err := h.exchanger.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("token exchange failed", "conversation_id", conversationID, "shop_id", shopID, "error", err)
		writeError(w, http.StatusBadGateway, "exchange_failed", "authorization could not be completed", h.logger)
		return
	}

	if err := h.tokens.PutToken(r.Context(), conversationID, token); err != nil {
		// The user is authenticated either way; the next turn will just
		// ask again.
		h.logger.Warn("caching token failed", "conversation_id", conversationID, "error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(callbackPage))
}
