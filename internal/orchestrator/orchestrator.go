// Package orchestrator drives one conversation turn: it resolves the
// strategy, runs either the deterministic rule path or the model tool
// loop, streams events as they become available and writes every message
// through to the store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/vadf/assistant/internal/accounts"
	"github.com/vadf/assistant/internal/intent"
	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/model"
	"github.com/vadf/assistant/internal/store"
	"github.com/vadf/assistant/internal/toolserver"
)

// ErrEmptyMessage rejects requests without a user message. The API layer
// turns this into a client error before any processing.
var ErrEmptyMessage = errors.New("empty message")

// Request is one inbound chat turn.
type Request struct {
	ConversationID uuid.UUID // uuid.Nil mints a new conversation
	ShopID         string
	Message        string
	Context        map[string]string // client-supplied context (email, compte_actif...)
	PromptType     string
}

// ConversationStore is the persistence contract the orchestrator needs.
// Satisfied by store.Conversations.
type ConversationStore interface {
	Create(ctx context.Context, id uuid.UUID, shopID string) error
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role string, content []*genai.Part) error
	LoadHistory(ctx context.Context, conversationID uuid.UUID) ([]store.Message, error)
}

// Tokens reads the conversation's OAuth token. Satisfied by store.Cache.
type Tokens interface {
	Token(ctx context.Context, conversationID uuid.UUID) (store.Token, error)
}

// AuthManager is the slice of auth.Manager the orchestrator consults
// before customer-scoped calls.
type AuthManager interface {
	AuthorizationURL(conversationID uuid.UUID, shopID string) string
	HasValidToken(ctx context.Context, conversationID uuid.UUID) bool
}

// ToolConn is one live tool-server session. Satisfied by toolserver.Conn.
type ToolConn interface {
	Ref() toolserver.ServerRef
	Tools(ctx context.Context) ([]toolserver.Descriptor, error)
	Call(ctx context.Context, name string, args map[string]any) (toolserver.Outcome, error)
	Close() error
}

// Dialer opens tool-server sessions. Satisfied by an adapter over
// toolserver.Client.
type Dialer interface {
	Dial(ctx context.Context, conversationID uuid.UUID, ref toolserver.ServerRef, token string) (ToolConn, error)
}

// Model is the streaming model call. Satisfied by model.Client.
type Model interface {
	Stream(ctx context.Context, system string, history []*genai.Content, tools []toolserver.Descriptor, onChunk func(string) error) (model.Turn, error)
}

// AccountLookup resolves a customer's account status. Satisfied by
// accounts.Client.
type AccountLookup interface {
	Lookup(ctx context.Context, email string) (accounts.Status, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Engine   *intent.Engine
	Store    ConversationStore
	Tokens   Tokens
	Auth     AuthManager
	Dialer   Dialer
	Model    Model
	Accounts AccountLookup
	MaxTurns int
	Logger   log.Logger
}

// Orchestrator handles chat turns. Safe for concurrent use; turns for the
// same conversation are serialized internally.
type Orchestrator struct {
	engine   *intent.Engine
	store    ConversationStore
	tokens   Tokens
	auth     AuthManager
	dialer   Dialer
	model    Model
	accounts AccountLookup
	maxTurns int
	locks    *keyedMutex
	logger   log.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}
	return &Orchestrator{
		engine:   cfg.Engine,
		store:    cfg.Store,
		tokens:   cfg.Tokens,
		auth:     cfg.Auth,
		dialer:   cfg.Dialer,
		model:    cfg.Model,
		accounts: cfg.Accounts,
		maxTurns: maxTurns,
		locks:    newKeyedMutex(),
		logger:   logger,
	}
}

// Run executes one turn and emits its event sequence. On success the
// stream always ends with exactly one end_turn event. An error return
// means the turn died mid-stream; the caller closes the connection without
// a terminal event.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit Emitter) error {
	if req.Message == "" {
		return ErrEmptyMessage
	}

	conversationID := req.ConversationID
	if conversationID == uuid.Nil {
		conversationID = uuid.New()
	}

	unlock := o.locks.Lock(conversationID)
	defer unlock()

	if err := emit.Emit(eventID(conversationID.String())); err != nil {
		return err
	}

	// Write-through persistence is non-blocking for the live flow: a
	// failed write only affects future history loads.
	if err := o.store.Create(ctx, conversationID, req.ShopID); err != nil {
		o.logger.Warn("creating conversation failed", "conversation_id", conversationID, "error", err)
	}

	var err error
	switch ResolveStrategy(req.PromptType) {
	case StrategyDeterministic:
		// Commerce phrasing outranks the fixed rules even under the
		// deterministic prompt: the defer sentinel hands the turn to
		// the model path.
		if tag := o.engine.Classify(req.Message); tag == intent.Defer {
			err = o.runModelLoop(ctx, conversationID, req, emit)
		} else {
			err = o.runDeterministic(ctx, conversationID, tag, req, emit)
		}
	default:
		err = o.runModelLoop(ctx, conversationID, req, emit)
	}
	if err != nil {
		return err
	}

	return emit.Emit(eventEndTurn())
}

// runDeterministic answers the classified message from the rule engine,
// enriching with the account status when relevant and applying status
// overrides.
func (o *Orchestrator) runDeterministic(ctx context.Context, conversationID uuid.UUID, tag string, req Request, emit Emitter) error {
	o.persist(ctx, conversationID, store.RoleUser, []*genai.Part{genai.NewPartFromText(req.Message)})

	reqContext := make(map[string]string, len(req.Context))
	maps.Copy(reqContext, req.Context)

	var override *intent.Response
	if o.engine.AccountRelated(tag) && reqContext["email"] != "" && o.accounts != nil {
		status, err := o.accounts.Lookup(ctx, reqContext["email"])
		if err != nil {
			// Respond from the client-supplied context alone.
			o.logger.Warn("account lookup failed", "conversation_id", conversationID, "error", err)
		} else {
			maps.Copy(reqContext, status.ContextValues())
			if resp, ok := o.engine.StatusOverride(status.Status, reqContext); ok {
				override = &resp
			}
		}
	}

	resp := o.engine.Respond(tag, reqContext)
	if override != nil {
		resp = *override
	}

	if err := emit.Emit(eventVADFResponse(resp.Text, tag, resp.Type)); err != nil {
		return err
	}

	if tag == "escalade" || resp.Type == intent.TypeError {
		escalade := eventEscalade(o.engine.EscalationContact(), o.engine.Phrase("escalation_message", reqContext))
		if err := emit.Emit(escalade); err != nil {
			return err
		}
	}

	o.persist(ctx, conversationID, store.RoleAssistant, []*genai.Part{genai.NewPartFromText(resp.Text)})
	return nil
}

// runModelLoop drives the model with the discovered tool set until the
// turn completes, authorization interrupts it, or the turn budget runs
// out.
func (o *Orchestrator) runModelLoop(ctx context.Context, conversationID uuid.UUID, req Request, emit Emitter) error {
	// Load prior turns before persisting the current message so the model
	// sees it exactly once, appended below.
	contents := o.loadContents(ctx, conversationID)
	o.persist(ctx, conversationID, store.RoleUser, []*genai.Part{genai.NewPartFromText(req.Message)})
	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))

	token := o.accessToken(ctx, conversationID)
	conns, descriptors := o.discover(ctx, conversationID, token)
	defer func() {
		for _, conn := range conns {
			if err := conn.Close(); err != nil {
				o.logger.Warn("closing tool server session", "server", conn.Ref(), "error", err)
			}
		}
	}()

	byName := make(map[string]ToolConn)
	for _, d := range descriptors {
		for _, conn := range conns {
			if conn.Ref() == d.Server {
				byName[d.Name] = conn
			}
		}
	}

	system := systemPrompt(req.PromptType)

	for turn := 0; turn < o.maxTurns; turn++ {
		modelTurn, err := o.model.Stream(ctx, system, contents, descriptors, func(chunk string) error {
			return emit.Emit(eventChunk(chunk))
		})
		if err != nil {
			return fmt.Errorf("model turn %d: %w", turn, err)
		}

		if modelTurn.Text != "" {
			if err := emit.Emit(eventContentBlockComplete(modelTurn.Text)); err != nil {
				return err
			}
		}

		if len(modelTurn.Parts) > 0 {
			o.persist(ctx, conversationID, store.RoleAssistant, modelTurn.Parts)
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: modelTurn.Parts})
		}
		if err := emit.Emit(eventMessageComplete()); err != nil {
			return err
		}

		switch modelTurn.Stop {
		case model.StopEndTurn:
			return nil

		case model.StopToolUse:
			results, authInterrupt, err := o.invokeTools(ctx, conversationID, req.ShopID, modelTurn.ToolCalls, byName, emit)
			if err != nil {
				return err
			}
			if authInterrupt {
				return nil
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: results})
			o.persist(ctx, conversationID, store.RoleUser, results)

			if err := emit.Emit(eventNewMessage()); err != nil {
				return err
			}

		default:
			// Truncated or otherwise incomplete: issue another call.
		}
	}

	o.logger.Warn("turn budget exhausted", "conversation_id", conversationID, "max_turns", o.maxTurns)
	return nil
}

// invokeTools runs the model's tool calls in order. authInterrupt reports
// that an authorization failure ended the turn: a single auth_required
// event is emitted, a synthetic assistant message is persisted and no
// further tools are invoked.
func (o *Orchestrator) invokeTools(ctx context.Context, conversationID uuid.UUID, shopID string, calls []model.ToolCall, byName map[string]ToolConn, emit Emitter) ([]*genai.Part, bool, error) {
	var results []*genai.Part

	for _, call := range calls {
		if err := emit.Emit(eventToolUse(fmt.Sprintf("Appel de l'outil %s", call.Name))); err != nil {
			return nil, false, err
		}

		outcome := o.callTool(ctx, call, byName)

		if outcome.Status == toolserver.StatusAuthRequired {
			authURL := o.auth.AuthorizationURL(conversationID, shopID)
			message := "Pour accéder à vos informations client, veuillez vous connecter : " + authURL
			if err := emit.Emit(eventAuthRequired(authURL, message)); err != nil {
				return nil, false, err
			}
			o.persist(ctx, conversationID, store.RoleAssistant, []*genai.Part{genai.NewPartFromText(message)})
			return nil, true, nil
		}

		if outcome.Status == toolserver.StatusOK {
			if products := toolserver.ExtractProducts(outcome.Payload, o.logger); len(products) > 0 {
				if err := emit.Emit(eventProductResults(products)); err != nil {
					return nil, false, err
				}
			}
		}

		results = append(results, functionResponsePart(call, outcome))
	}

	return results, false, nil
}

// callTool resolves the connection and invokes. Failures become error
// outcomes fed back to the model rather than aborting the turn.
func (o *Orchestrator) callTool(ctx context.Context, call model.ToolCall, byName map[string]ToolConn) toolserver.Outcome {
	conn, ok := byName[call.Name]
	if !ok {
		return toolserver.Outcome{Status: toolserver.StatusError, Detail: fmt.Sprintf("unknown tool %s", call.Name)}
	}

	outcome, err := conn.Call(ctx, call.Name, call.Args)
	if err != nil {
		o.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		return toolserver.Outcome{Status: toolserver.StatusError, Detail: err.Error()}
	}
	return outcome
}

// discover dials both servers and lists their tools. Every failure
// degrades to a smaller tool set instead of failing the turn; the customer
// server is only attempted when a token exists.
func (o *Orchestrator) discover(ctx context.Context, conversationID uuid.UUID, token string) ([]ToolConn, []toolserver.Descriptor) {
	refs := []toolserver.ServerRef{toolserver.Storefront}
	if token != "" {
		refs = append(refs, toolserver.CustomerAccount)
	}

	var (
		conns       []ToolConn
		descriptors []toolserver.Descriptor
	)
	for _, ref := range refs {
		conn, err := o.dialer.Dial(ctx, conversationID, ref, token)
		if err != nil {
			o.logger.Warn("tool server unavailable", "server", ref, "error", err)
			continue
		}

		tools, err := conn.Tools(ctx)
		if err != nil {
			o.logger.Warn("tool listing failed", "server", ref, "error", err)
			_ = conn.Close()
			continue
		}

		conns = append(conns, conn)
		descriptors = append(descriptors, tools...)
	}
	return conns, descriptors
}

func (o *Orchestrator) accessToken(ctx context.Context, conversationID uuid.UUID) string {
	if !o.auth.HasValidToken(ctx, conversationID) {
		return ""
	}
	t, err := o.tokens.Token(ctx, conversationID)
	if err != nil {
		return ""
	}
	return t.AccessToken
}

func (o *Orchestrator) loadContents(ctx context.Context, conversationID uuid.UUID) []*genai.Content {
	history, err := o.store.LoadHistory(ctx, conversationID)
	if err != nil {
		o.logger.Warn("loading history failed", "conversation_id", conversationID, "error", err)
		return nil
	}

	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := genai.RoleUser
		if msg.Role == store.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: msg.Content})
	}
	return contents
}

func (o *Orchestrator) persist(ctx context.Context, conversationID uuid.UUID, role string, parts []*genai.Part) {
	if err := o.store.AppendMessage(ctx, conversationID, role, parts); err != nil {
		o.logger.Warn("persisting message failed",
			"conversation_id", conversationID, "role", role, "error", err)
	}
}

// functionResponsePart shapes a tool outcome as the function response the
// model consumes next call. Errors are distinguished so the model can
// decide to retry or rephrase.
func functionResponsePart(call model.ToolCall, outcome toolserver.Outcome) *genai.Part {
	response := map[string]any{}
	if outcome.Status == toolserver.StatusOK {
		response["result"] = outcome.Payload
	} else {
		response["error"] = outcome.Detail
	}
	return &genai.Part{FunctionResponse: &genai.FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: response,
	}}
}

const commerceSystemPrompt = `Tu es l'assistant d'achat de la boutique VADF.
Tu réponds en français, de façon concise et chaleureuse.
Utilise les outils à ta disposition pour chercher des produits et consulter
les commandes du client. Ne réponds jamais sur un produit sans avoir
interrogé le catalogue.`

const generalSystemPrompt = `Tu es l'assistant de la boutique VADF.
Tu réponds en français, de façon concise et chaleureuse.`

func systemPrompt(promptType string) string {
	if promptType == PromptTypeCommerce {
		return commerceSystemPrompt
	}
	return generalSystemPrompt
}
