package models

// GameStatus is the lifecycle state of a game session. Transitions only
// move forward (waiting → playing → finished → archived); archived is
// terminal.
type GameStatus string

const (
	GameStatusWaiting  GameStatus = "waiting"
	GameStatusPlaying  GameStatus = "playing"
	GameStatusFinished GameStatus = "finished"
	GameStatusArchived GameStatus = "archived"
)

// ValidGameStatus reports whether s is a known status value.
func ValidGameStatus(s GameStatus) bool {
	switch s {
	case GameStatusWaiting, GameStatusPlaying, GameStatusFinished, GameStatusArchived:
		return true
	}
	return false
}

// ChatType identifies one of the logical chat channels attached to a game.
type ChatType string

const (
	ChatTypeRoom              ChatType = "room"
	ChatTypeCharacterCreation ChatType = "character_creation"
	ChatTypeGame              ChatType = "game"
	ChatTypeAdvice            ChatType = "advice"
)

// ChatInterfaceType controls who may write to a chat.
type ChatInterfaceType string

const (
	ChatInterfaceReadonly     ChatInterfaceType = "readonly"
	ChatInterfaceForeign      ChatInterfaceType = "foreign"
	ChatInterfaceFull         ChatInterfaceType = "full"
	ChatInterfaceTimed        ChatInterfaceType = "timed"
	ChatInterfaceForeignTimed ChatInterfaceType = "foreign_timed"
)

// Writable reports whether players may post into a chat with this
// interface type.
func (t ChatInterfaceType) Writable() bool {
	switch t {
	case ChatInterfaceReadonly, ChatInterfaceForeign, ChatInterfaceForeignTimed:
		return false
	}
	return true
}

// MessageKind classifies a chat message.
type MessageKind string

const (
	MessageKindPlayer            MessageKind = "player"
	MessageKindSystem            MessageKind = "system"
	MessageKindCharacterCreation MessageKind = "character_creation"
	MessageKindGeneralInfo       MessageKind = "general_info"
	MessageKindPublicInfo        MessageKind = "public_info"
	MessageKindPrivateInfo       MessageKind = "private_info"
)
