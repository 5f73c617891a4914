package chat

import "github.com/tabletale/tabletale/pkg/models"

// Event is the closed set of chat events. Name is the wire-level type
// tag clients switch on.
type Event interface {
	EventChatID() int64
	Name() string
}

type baseEvent struct {
	ChatID int64 `json:"chat_id"`
}

func (e baseEvent) EventChatID() int64 { return e.ChatID }

// MessageSentEvent carries a freshly appended message and the ids of its
// neighbors; both are nil when the message is the first/last in the log.
type MessageSentEvent struct {
	baseEvent
	Message    models.MessageOut `json:"message"`
	PreviousID *int64            `json:"previous_id"`
	NextID     *int64            `json:"next_id"`
}

func (MessageSentEvent) Name() string { return "ChatMessageSentEvent" }

// MessageEditEvent carries the post-edit message.
type MessageEditEvent struct {
	baseEvent
	Message models.MessageOut `json:"message"`
}

func (MessageEditEvent) Name() string { return "ChatMessageEditEvent" }

// MessageDeletedEvent carries the removed message.
type MessageDeletedEvent struct {
	baseEvent
	Message models.MessageOut `json:"message"`
}

func (MessageDeletedEvent) Name() string { return "ChatMessageDeletedEvent" }

// SuggestionsUpdatedEvent carries the full current suggestions vector.
type SuggestionsUpdatedEvent struct {
	baseEvent
	Suggestions []string `json:"suggestions"`
}

func (SuggestionsUpdatedEvent) Name() string { return "ChatUpdatedSuggestions" }
