package orchestrator

import "github.com/vadf/assistant/internal/toolserver"

// Event types put on the stream, in the vocabulary the widget consumes.
const (
	TypeID                   = "id"
	TypeChunk                = "chunk"
	TypeMessageComplete      = "message_complete"
	TypeNewMessage           = "new_message"
	TypeContentBlockComplete = "content_block_complete"
	TypeToolUse              = "tool_use"
	TypeAuthRequired         = "auth_required"
	TypeVADFResponse         = "vadf_response"
	TypeEscalade             = "escalade"
	TypeProductResults       = "product_results"
	TypeEndTurn              = "end_turn"
)

// Event is one frame of the stream. Type discriminates; the other fields
// are populated per type and omitted otherwise.
type Event struct {
	Type           string               `json:"type"`
	ConversationID string               `json:"conversation_id,omitempty"`
	Text           string               `json:"text,omitempty"`
	Intent         string               `json:"intent,omitempty"`
	ResponseType   string               `json:"response_type,omitempty"`
	Tool           string               `json:"tool,omitempty"`
	AuthURL        string               `json:"auth_url,omitempty"`
	Contact        string               `json:"contact,omitempty"`
	Message        string               `json:"message,omitempty"`
	Products       []toolserver.Product `json:"products,omitempty"`
}

// Emitter receives the orchestrator's events in order. An error means the
// client is gone and the turn should abort.
type Emitter interface {
	Emit(Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event) error

func (f EmitterFunc) Emit(ev Event) error { return f(ev) }

func eventID(conversationID string) Event {
	return Event{Type: TypeID, ConversationID: conversationID}
}

func eventChunk(text string) Event {
	return Event{Type: TypeChunk, Text: text}
}

func eventContentBlockComplete(text string) Event {
	return Event{Type: TypeContentBlockComplete, Text: text}
}

func eventMessageComplete() Event {
	return Event{Type: TypeMessageComplete}
}

func eventNewMessage() Event {
	return Event{Type: TypeNewMessage}
}

func eventToolUse(description string) Event {
	return Event{Type: TypeToolUse, Tool: description}
}

func eventAuthRequired(authURL, message string) Event {
	return Event{Type: TypeAuthRequired, AuthURL: authURL, Message: message}
}

func eventVADFResponse(text, intentTag, responseType string) Event {
	return Event{Type: TypeVADFResponse, Text: text, Intent: intentTag, ResponseType: responseType}
}

func eventEscalade(contact, message string) Event {
	return Event{Type: TypeEscalade, Contact: contact, Message: message}
}

func eventProductResults(products []toolserver.Product) Event {
	return Event{Type: TypeProductResults, Products: products}
}

func eventEndTurn() Event {
	return Event{Type: TypeEndTurn}
}
