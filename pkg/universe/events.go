package universe

import (
	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/models"
)

// Event is the closed set of universe events: two world variants plus
// the wrapper for everything a game emits.
type Event interface {
	Name() string
}

// NewWorldEvent announces a created world (including copies).
type NewWorldEvent struct {
	World models.WorldOut `json:"world"`
}

func (NewWorldEvent) Name() string { return "UniverseNewWorldEvent" }

// WorldUpdateEvent announces an updated or soft-deleted world.
type WorldUpdateEvent struct {
	World models.WorldOut `json:"world"`
}

func (WorldUpdateEvent) Name() string { return "UniverseWorldUpdateEvent" }

// GameEvent wraps one game event for the aggregate stream.
type GameEvent struct {
	Inner game.Event `json:"inner"`
}

func (GameEvent) Name() string { return "UniverseGameEvent" }

// GameID returns the id of the game the inner event belongs to.
func (e GameEvent) GameID() int64 { return e.Inner.EventGameID() }
