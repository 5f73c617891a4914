// Package models holds the wire-level data shapes shared by the session
// runtime and the HTTP layer, plus the closed service-error taxonomy.
package models

import "time"

// UserOut is the public projection of a user row.
type UserOut struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted"`
}

// WorldOut is the full projection of a world template.
type WorldOut struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Owner         UserOut        `json:"owner"`
	Public        bool           `json:"public"`
	Description   *string        `json:"description"`
	Data          map[string]any `json:"data"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
	Deleted       bool           `json:"deleted"`
}

// ShortWorldOut is WorldOut without the data payload, used when a world
// is embedded in a game.
type ShortWorldOut struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Owner         UserOut   `json:"owner"`
	Public        bool      `json:"public"`
	Description   *string   `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	Deleted       bool      `json:"deleted"`
}

// PlayerOut is the roster entry projection for one game member.
type PlayerOut struct {
	User        UserOut   `json:"user"`
	IsReady     bool      `json:"is_ready"`
	IsHost      bool      `json:"is_host"`
	IsSpectator bool      `json:"is_spectator"`
	IsJoined    bool      `json:"is_joined"`
	JoinedAt    time.Time `json:"joined_at"`
}

// GameOut is the hydrated projection of a game with its world and roster.
type GameOut struct {
	ID         int64         `json:"id"`
	Code       string        `json:"code"`
	Name       string        `json:"name"`
	Public     bool          `json:"public"`
	MaxPlayers int           `json:"max_players"`
	Status     GameStatus    `json:"status"`
	HostID     int64         `json:"host_id"`
	World      ShortWorldOut `json:"world"`
	Players    []PlayerOut   `json:"players"`
	CreatedAt  time.Time     `json:"created_at"`
}

// MessageOut is one chat message.
type MessageOut struct {
	ID       int64          `json:"id"`
	ChatID   int64          `json:"chat_id"`
	SenderID *int64         `json:"sender_id"`
	Kind     MessageKind    `json:"kind"`
	Text     string         `json:"text"`
	Special  *string        `json:"special"`
	Metadata map[string]any `json:"metadata"`
	SentAt   time.Time      `json:"sent_at"`
}

// MessageOutWithNeighbors carries a message plus the ids of its direct
// neighbors in the chat. Either id may be nil when the message sits at
// the start or the end of the log.
type MessageOutWithNeighbors struct {
	MessageOut
	PreviousID *int64 `json:"previous_id"`
	NextID     *int64 `json:"next_id"`
}

// ChatInterface describes the client-facing mode of a chat.
type ChatInterface struct {
	Type     ChatInterfaceType `json:"type"`
	Deadline *time.Time        `json:"deadline"`
}

// ChatSegmentOut is an ordered slice of a chat's log. PreviousID and
// NextID are the boundary ids just outside the slice, or nil when the
// slice reaches the respective end.
type ChatSegmentOut struct {
	ChatID      int64         `json:"chat_id"`
	ChatOwner   *int64        `json:"chat_owner"`
	Interface   ChatInterface `json:"interface"`
	PreviousID  *int64        `json:"previous_id"`
	NextID      *int64        `json:"next_id"`
	Messages    []MessageOut  `json:"messages"`
	Suggestions []string      `json:"suggestions"`
}

// StateOut is the full snapshot returned by GET /game/{id}/state.
type StateOut struct {
	Game                  GameOut          `json:"game"`
	Status                GameStatus       `json:"status"`
	RoomChat              ChatSegmentOut   `json:"room_chat"`
	CharacterCreationChat *ChatSegmentOut  `json:"character_creation_chat"`
	PlayerChats           []ChatSegmentOut `json:"player_chats"`
	AdviceChats           []ChatSegmentOut `json:"advice_chats"`
}

// SortOrder for list queries.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListParams are the common pagination/sorting knobs for read queries.
type ListParams struct {
	Page      int
	PageSize  int
	SortBy    string
	SortOrder SortOrder
}

// Offset returns the row offset implied by Page/PageSize.
func (p ListParams) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// GameListParams extends ListParams with the game-specific filters.
type GameListParams struct {
	ListParams
	Statuses        []GameStatus
	IncludeArchived bool
}
