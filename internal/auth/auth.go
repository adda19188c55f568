// Package auth manages the customer-account OAuth flow: building
// authorization URLs, exchanging callback codes for tokens and answering
// whether a conversation currently holds a usable token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/vadf/assistant/internal/config"
	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/store"
)

const (
	authorizePath = "/authentication/oauth/authorize"
	tokenPath     = "/authentication/oauth/token"

	// Applied when the token endpoint omits expires_in. Better a bounded
	// lifetime than a token the cache refuses to store.
	defaultTokenLifetime = time.Hour
)

// ErrInvalidState indicates an OAuth state value that does not decompose
// into a conversation id and a shop id.
var ErrInvalidState = errors.New("invalid OAuth state")

// TokenCache is the cache lookup the manager needs. Satisfied by
// store.Cache.
type TokenCache interface {
	Token(ctx context.Context, conversationID uuid.UUID) (store.Token, error)
}

// Manager builds authorization URLs and tracks token validity per
// conversation.
type Manager struct {
	oauth  *oauth2.Config
	tokens TokenCache
	logger log.Logger
	now    func() time.Time
}

// NewManager creates a Manager from the configured shop identity.
func NewManager(cfg *config.Config, tokens TokenCache, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	base := strings.TrimRight(cfg.ShopURL, "/")
	return &Manager{
		oauth: &oauth2.Config{
			ClientID:    cfg.OAuthClientID,
			RedirectURL: cfg.OAuthRedirectURI,
			Scopes:      cfg.OAuthScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + authorizePath,
				TokenURL: base + tokenPath,
			},
		},
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// AuthorizationURL returns the authorization redirect target for a
// conversation. The state parameter binds the conversation and the shop so
// the callback can be routed without any server-side session.
func (m *Manager) AuthorizationURL(conversationID uuid.UUID, shopID string) string {
	return m.oauth.AuthCodeURL(State(conversationID, shopID))
}

// HasValidToken reports whether the conversation holds a non-expired token.
// Any cache failure counts as no token; the caller then falls back to the
// authorization flow, which is always safe.
func (m *Manager) HasValidToken(ctx context.Context, conversationID uuid.UUID) bool {
	t, err := m.tokens.Token(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("token lookup failed", "conversation_id", conversationID, "error", err)
		}
		return false
	}
	return t.Valid(m.now())
}

// Exchange trades an authorization code for an access token.
func (m *Manager) Exchange(ctx context.Context, code string) (store.Token, error) {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return store.Token{}, fmt.Errorf("exchanging authorization code: %w", err)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(defaultTokenLifetime)
	}
	return store.Token{AccessToken: tok.AccessToken, ExpiresAt: expiry}, nil
}

// State encodes a conversation id and a shop id into one OAuth state value.
func State(conversationID uuid.UUID, shopID string) string {
	return fmt.Sprintf("%s-%s", conversationID, shopID)
}

// ParseState decomposes a state value produced by State. The conversation
// id occupies a fixed 36-character prefix, so shop ids may themselves
// contain hyphens.
func ParseState(state string) (uuid.UUID, string, error) {
	const uuidLen = 36

	if len(state) < uuidLen+2 || state[uuidLen] != '-' {
		return uuid.Nil, "", fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	conversationID, err := uuid.Parse(state[:uuidLen])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %q: %v", ErrInvalidState, state, err)
	}
	shopID := state[uuidLen+1:]
	return conversationID, shopID, nil
}
