// Package universe implements the process-singleton registry of live
// game systems. It aggregates every game's events into one stream,
// creates worlds and games, and answers the paginated read queries.
package universe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tabletale/tabletale/pkg/database"
	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/models"
	"github.com/tabletale/tabletale/pkg/system"
)

// Kind is the system-index kind of the universe singleton.
const Kind = "Universe"

// Universe holds the live GameSystems and fans their events into a
// single stream. There is one per process, id 0 in the system index.
type Universe struct {
	*system.System[Event]

	db        *database.Client
	chars     game.CharacterStore
	kickGrace time.Duration

	mu    sync.Mutex
	games map[int64]*game.System
}

// New builds the universe singleton.
func New(db *database.Client, chars game.CharacterStore, kickGrace time.Duration) (*Universe, error) {
	base, err := system.New[Event](Kind, 0)
	if err != nil {
		return nil, models.ServerError("universe already live", err)
	}
	return &Universe{
		System:    base,
		db:        db,
		chars:     chars,
		kickGrace: kickGrace,
		games:     make(map[int64]*game.System),
	}, nil
}

// addGame registers a live game and starts the pipe that republishes
// its events as GameEvents. When the game archives itself the pipe
// removes it from the registry and stops it.
func (u *Universe) addGame(g *game.System) error {
	u.mu.Lock()
	u.games[g.ID()] = g
	u.mu.Unlock()

	ch, err := g.Listen()
	if err != nil {
		return models.ServerError("failed to listen to game", err)
	}
	return u.AddPipe(func(ctx context.Context) error {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return g.Err()
				}
				u.Emit(GameEvent{Inner: ev})
				if st, isStatus := ev.(game.GameStatusEvent); isStatus && st.Status == models.GameStatusArchived {
					u.retire(ctx, g)
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// retire drops an archived game from the registry and stops it. The
// game's channel closes once its queue drains, which ends the pipe.
func (u *Universe) retire(ctx context.Context, g *game.System) {
	u.mu.Lock()
	if u.games[g.ID()] != g {
		u.mu.Unlock()
		return
	}
	delete(u.games, g.ID())
	u.mu.Unlock()

	slog.Info("Game retired", "game_id", g.ID())
	if err := g.Stop(ctx); err != nil {
		slog.Warn("Failed to stop retired game", "game_id", g.ID(), "error", err)
	}
}

// GetGameSystem returns the live system for a game, building it from
// the database row on first access. Archived games are not revived.
func (u *Universe) GetGameSystem(ctx context.Context, gameID int64) (*game.System, error) {
	u.mu.Lock()
	if g, ok := u.games[gameID]; ok {
		u.mu.Unlock()
		return g, nil
	}
	u.mu.Unlock()

	out, err := u.loadGameRow(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if out.Status == models.GameStatusArchived {
		return nil, models.NewServiceError(models.CodeGameNotFound, "Game not found")
	}

	u.mu.Lock()
	// Another request may have loaded it while we were reading the row.
	if g, ok := u.games[gameID]; ok {
		u.mu.Unlock()
		return g, nil
	}
	u.mu.Unlock()

	g, err := game.CreateNew(ctx, u.db.Pool(), u.chars, u.kickGrace, out)
	if err != nil {
		// A concurrent request may have won the build race.
		u.mu.Lock()
		existing, ok := u.games[gameID]
		u.mu.Unlock()
		if ok {
			return existing, nil
		}
		return nil, err
	}
	if err := u.addGame(g); err != nil {
		_ = g.Stop(ctx)
		return nil, err
	}
	slog.Info("Game loaded", "game_id", gameID, "code", out.Code)
	return g, nil
}

// DisconnectIdlePlayer detaches a user whose websocket reconnect window
// lapsed. The removal skips the grace period; the user already had one.
func (u *Universe) DisconnectIdlePlayer(ctx context.Context, gameID, userID int64) error {
	g, err := u.GetGameSystem(ctx, gameID)
	if err != nil {
		return err
	}
	return g.DisconnectPlayer(ctx, userID, true, nil)
}

// Stop stops every registered game, then the universe itself.
func (u *Universe) Stop(ctx context.Context) error {
	u.mu.Lock()
	games := make([]*game.System, 0, len(u.games))
	for _, g := range u.games {
		games = append(games, g)
	}
	u.games = make(map[int64]*game.System)
	u.mu.Unlock()

	for _, g := range games {
		if err := g.Stop(ctx); err != nil {
			slog.Warn("Failed to stop game on shutdown", "game_id", g.ID(), "error", err)
		}
	}
	return u.System.Stop(ctx)
}
