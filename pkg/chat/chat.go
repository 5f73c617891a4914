// Package chat implements the ChatSystem: the authoritative in-memory
// log of one chat channel backed by persistent message rows.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tabletale/tabletale/pkg/database"
	"github.com/tabletale/tabletale/pkg/models"
	"github.com/tabletale/tabletale/pkg/system"
)

// Kind is the system-index kind for chat systems.
const Kind = "ChatSystem"

// Limits for GetMessages.
const (
	MinSegmentLimit = 1
	MaxSegmentLimit = 500
)

// System is one chat channel. All mutating operations persist first and
// then update the in-memory index, so the index order always equals the
// database ORDER BY id.
type System struct {
	*system.System[Event]

	GameID  int64
	Type    models.ChatType
	OwnerID *int64
	Iface   models.ChatInterface

	mu          sync.Mutex
	index       *messageIndex
	suggestions []string
}

// CreateOrLoad finds the chat row identified by (game, type, owner) or
// inserts one with the given interface type, then loads every existing
// message into the index.
func CreateOrLoad(
	ctx context.Context,
	q database.Querier,
	gameID int64,
	chatType models.ChatType,
	ownerID *int64,
	interfaceType models.ChatInterfaceType,
) (*System, error) {
	var (
		id       int64
		ifType   models.ChatInterfaceType
		deadline *time.Time
	)
	err := q.QueryRow(ctx,
		`SELECT id, interface_type, deadline
		 FROM chats
		 WHERE game_id = $1 AND chat_type = $2 AND owner_id IS NOT DISTINCT FROM $3`,
		gameID, chatType, ownerID,
	).Scan(&id, &ifType, &deadline)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		ifType = interfaceType
		err = q.QueryRow(ctx,
			`INSERT INTO chats (game_id, chat_type, owner_id, interface_type)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			gameID, chatType, ownerID, interfaceType,
		).Scan(&id)
		if err != nil {
			return nil, models.ServerError("failed to create chat", err)
		}
	case err != nil:
		return nil, models.ServerError("failed to load chat", err)
	}

	base, err := system.New[Event](Kind, id)
	if err != nil {
		return nil, models.ServerError("chat system already live", err)
	}

	s := &System{
		System:  base,
		GameID:  gameID,
		Type:    chatType,
		OwnerID: ownerID,
		Iface:   models.ChatInterface{Type: ifType, Deadline: deadline},
		index:   newMessageIndex(),
	}

	if err := s.loadMessages(ctx, q); err != nil {
		_ = base.Stop(ctx)
		return nil, err
	}

	slog.Debug("Chat loaded",
		"chat_id", id, "game_id", gameID, "chat_type", chatType, "messages", s.index.len())
	return s, nil
}

func (s *System) loadMessages(ctx context.Context, q database.Querier) error {
	rows, err := q.Query(ctx,
		`SELECT id, chat_id, sender_id, kind, text, special, metadata, sent_at
		 FROM messages
		 WHERE chat_id = $1
		 ORDER BY id`,
		s.ID(),
	)
	if err != nil {
		return models.ServerError("failed to load messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.MessageOut
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Kind, &m.Text, &m.Special, &m.Metadata, &m.SentAt); err != nil {
			return models.ServerError("failed to scan message", err)
		}
		s.index.append(m)
	}
	if err := rows.Err(); err != nil {
		return models.ServerError("failed to iterate messages", err)
	}
	return nil
}

// SendMessage persists a message, appends it to the index and emits a
// ChatMessageSentEvent with neighbor ids.
func (s *System) SendMessage(
	ctx context.Context,
	q database.Querier,
	kind models.MessageKind,
	text string,
	senderID *int64,
	special *string,
	metadata map[string]any,
	sentAt *time.Time,
) (models.MessageOutWithNeighbors, error) {
	at := time.Now()
	if sentAt != nil {
		at = *sentAt
	}

	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO messages (chat_id, sender_id, kind, text, special, metadata, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		s.ID(), senderID, kind, text, special, metadata, at,
	).Scan(&id)
	if err != nil {
		return models.MessageOutWithNeighbors{}, models.ServerError("failed to send message", err)
	}

	msg := models.MessageOut{
		ID:       id,
		ChatID:   s.ID(),
		SenderID: senderID,
		Kind:     kind,
		Text:     text,
		Special:  special,
		Metadata: metadata,
		SentAt:   at,
	}

	s.mu.Lock()
	n := s.index.append(msg)
	prev, next := s.index.neighbors(n)
	s.mu.Unlock()

	slog.Info("Sent message", "chat_id", s.ID(), "message_id", id, "kind", kind)

	out := models.MessageOutWithNeighbors{MessageOut: msg, PreviousID: prev, NextID: next}
	s.Emit(MessageSentEvent{
		baseEvent:  baseEvent{ChatID: s.ID()},
		Message:    msg,
		PreviousID: prev,
		NextID:     next,
	})
	return out, nil
}

// EditMessage updates the row and mutates the node in place; neighbor
// pointers are untouched.
func (s *System) EditMessage(
	ctx context.Context,
	q database.Querier,
	messageID int64,
	text string,
	special *string,
	metadata map[string]any,
) (models.MessageOut, error) {
	var m models.MessageOut
	err := q.QueryRow(ctx,
		`UPDATE messages
		 SET text = $1, special = $2, metadata = $3
		 WHERE id = $4 AND chat_id = $5
		 RETURNING id, chat_id, sender_id, kind, text, special, metadata, sent_at`,
		text, special, metadata, messageID, s.ID(),
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Kind, &m.Text, &m.Special, &m.Metadata, &m.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MessageOut{}, models.NewServiceError(models.CodeMessageNotFound, "Message not found")
	}
	if err != nil {
		return models.MessageOut{}, models.ServerError("failed to edit message", err)
	}

	s.mu.Lock()
	if n, ok := s.index.get(messageID); ok {
		n.msg = m
	} else {
		// The row existed but the index misses it: the in-memory state
		// diverged from the database.
		s.mu.Unlock()
		return models.MessageOut{}, models.ServerError("message index out of sync",
			fmt.Errorf("message %d not indexed in chat %d", messageID, s.ID()))
	}
	s.mu.Unlock()

	slog.Info("Edited message", "chat_id", s.ID(), "message_id", messageID)
	s.Emit(MessageEditEvent{baseEvent: baseEvent{ChatID: s.ID()}, Message: m})
	return m, nil
}

// DeleteMessage removes the row and unlinks the node.
func (s *System) DeleteMessage(ctx context.Context, q database.Querier, messageID int64) (models.MessageOut, error) {
	var m models.MessageOut
	err := q.QueryRow(ctx,
		`DELETE FROM messages
		 WHERE id = $1 AND chat_id = $2
		 RETURNING id, chat_id, sender_id, kind, text, special, metadata, sent_at`,
		messageID, s.ID(),
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Kind, &m.Text, &m.Special, &m.Metadata, &m.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MessageOut{}, models.NewServiceError(models.CodeMessageNotFound, "Message not found")
	}
	if err != nil {
		return models.MessageOut{}, models.ServerError("failed to delete message", err)
	}

	s.mu.Lock()
	if n, ok := s.index.get(messageID); ok {
		s.index.remove(n)
	}
	s.mu.Unlock()

	slog.Info("Deleted message", "chat_id", s.ID(), "message_id", messageID)
	s.Emit(MessageDeletedEvent{baseEvent: baseEvent{ChatID: s.ID()}, Message: m})
	return m, nil
}

// GetMessages returns an ordered segment of the log. before and after
// are mutually exclusive; limit is clamped to [1, 500]. A nil before
// means "latest".
func (s *System) GetMessages(limit int, before, after *int64) (models.ChatSegmentOut, error) {
	if before != nil && after != nil {
		return models.ChatSegmentOut{}, models.NewServiceError(
			models.CodeMutuallyExclusiveOpts, "before and after are mutually exclusive")
	}
	if limit < MinSegmentLimit {
		limit = MinSegmentLimit
	}
	if limit > MaxSegmentLimit {
		limit = MaxSegmentLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		msgs       []models.MessageOut
		prev, next *int64
		ok         bool
	)
	if after != nil {
		msgs, prev, next, ok = s.index.walkForward(after, limit)
	} else {
		msgs, prev, next, ok = s.index.walkBackward(before, limit)
	}
	if !ok {
		return models.ChatSegmentOut{}, models.NewServiceError(models.CodeMessageNotFound, "Message not found")
	}

	suggestions := make([]string, len(s.suggestions))
	copy(suggestions, s.suggestions)

	return models.ChatSegmentOut{
		ChatID:      s.ID(),
		ChatOwner:   s.OwnerID,
		Interface:   s.Iface,
		PreviousID:  prev,
		NextID:      next,
		Messages:    msgs,
		Suggestions: suggestions,
	}, nil
}

// AddSuggestions appends quick-reply strings and emits the new vector.
func (s *System) AddSuggestions(suggestions ...string) {
	s.mu.Lock()
	s.suggestions = append(s.suggestions, suggestions...)
	current := make([]string, len(s.suggestions))
	copy(current, s.suggestions)
	s.mu.Unlock()

	s.Emit(SuggestionsUpdatedEvent{baseEvent: baseEvent{ChatID: s.ID()}, Suggestions: current})
}

// ClearSuggestions resets the vector and emits the empty state.
func (s *System) ClearSuggestions() {
	s.mu.Lock()
	s.suggestions = nil
	s.mu.Unlock()

	s.Emit(SuggestionsUpdatedEvent{baseEvent: baseEvent{ChatID: s.ID()}, Suggestions: []string{}})
}
