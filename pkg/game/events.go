package game

import (
	"github.com/tabletale/tabletale/pkg/chat"
	"github.com/tabletale/tabletale/pkg/models"
)

// Event is the closed set of game events. Name is the wire-level type
// tag clients switch on; every event carries the owning game's id.
type Event interface {
	EventGameID() int64
	Name() string
}

type EventBase struct {
	GameID int64 `json:"game_id"`
}

func (e EventBase) EventGameID() int64 { return e.GameID }

// GameStatusEvent announces a lifecycle transition, including the
// initial status on construction.
type GameStatusEvent struct {
	EventBase
	Status models.GameStatus `json:"status"`
}

func (GameStatusEvent) Name() string { return "GameStatusEvent" }

// GameSettingsUpdateEvent carries the settings after an update.
type GameSettingsUpdateEvent struct {
	EventBase
	GameName   string `json:"name"`
	Public     bool   `json:"public"`
	MaxPlayers int    `json:"max_players"`
}

func (GameSettingsUpdateEvent) Name() string { return "GameSettingsUpdateEvent" }

// GameChatEvent wraps an event from one of the game's chats. OwnerID is
// nil for the room chat. InnerType repeats the inner event's name so
// clients can dispatch without inspecting the payload shape.
type GameChatEvent struct {
	EventBase
	ChatID    int64      `json:"chat_id"`
	OwnerID   *int64     `json:"owner_id"`
	InnerType string     `json:"inner_type"`
	Inner     chat.Event `json:"inner"`
}

func (GameChatEvent) Name() string { return "GameChatEvent" }

// PlayerJoinedEvent carries the roster entry of the player who joined
// or rejoined.
type PlayerJoinedEvent struct {
	EventBase
	Player models.PlayerOut `json:"player"`
}

func (PlayerJoinedEvent) Name() string { return "PlayerJoinedEvent" }

// PlayerLeftEvent marks a voluntary departure or disconnect.
type PlayerLeftEvent struct {
	EventBase
	PlayerID int64 `json:"player_id"`
}

func (PlayerLeftEvent) Name() string { return "PlayerLeftEvent" }

// PlayerKickedEvent marks a host-initiated removal.
type PlayerKickedEvent struct {
	EventBase
	PlayerID int64 `json:"player_id"`
}

func (PlayerKickedEvent) Name() string { return "PlayerKickedEvent" }

// PlayerPromotedEvent announces a host change.
type PlayerPromotedEvent struct {
	EventBase
	OldHost int64 `json:"old_host"`
	NewHost int64 `json:"new_host"`
}

func (PlayerPromotedEvent) Name() string { return "PlayerPromotedEvent" }

// PlayerReadyEvent announces a ready-flag change.
type PlayerReadyEvent struct {
	EventBase
	PlayerID int64 `json:"player_id"`
	Ready    bool  `json:"ready"`
}

func (PlayerReadyEvent) Name() string { return "PlayerReadyEvent" }

// PlayerSpectatorEvent announces a spectator-flag change.
type PlayerSpectatorEvent struct {
	EventBase
	PlayerID    int64 `json:"player_id"`
	IsSpectator bool  `json:"is_spectator"`
}

func (PlayerSpectatorEvent) Name() string { return "PlayerSpectatorEvent" }
