package conversation

import (
	"errors"

	"lexchat/internal/apperr"
	"lexchat/internal/models"
)

type EventType string

const (
	EventUserMessage       EventType = "user_message"
	EventAIMessageStart    EventType = "ai_message_start"
	EventContentDelta      EventType = "content_delta"
	EventAIMessageComplete EventType = "ai_message_complete"
	EventChatName          EventType = "chat_name"
	EventStreamComplete    EventType = "stream_complete"
	EventError             EventType = "error"
)

// Event is one item of a streamed exchange.
type Event struct {
	Type      EventType       `json:"type"`
	Message   *models.Message `json:"message,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	ChatName  string          `json:"chat_name,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Emitter delivers events to the single consumer of a stream. A returned
// error means the consumer is gone.
type Emitter func(Event) error

// publicError is the text an error event carries. Causes stay in the logs.
func publicError(err error) string {
	switch {
	case errors.Is(err, apperr.ErrGeneration):
		return "failed to generate a response"
	case errors.Is(err, apperr.ErrNotFound):
		return "not found"
	default:
		return "internal error"
	}
}
