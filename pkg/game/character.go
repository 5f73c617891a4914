package game

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/tabletale/tabletale/pkg/database"
	"github.com/tabletale/tabletale/pkg/models"
)

// CharacterStore answers whether a player has a character profile in a
// game. The game's state column is opaque to the session runtime; this
// is the one typed question it needs answered.
type CharacterStore interface {
	HasCharacter(ctx context.Context, q database.Querier, gameID, userID int64) (bool, error)
}

// StateCharacterStore reads character presence from the games.state
// JSON column, under the "characters" key indexed by user id.
type StateCharacterStore struct{}

func (StateCharacterStore) HasCharacter(ctx context.Context, q database.Querier, gameID, userID int64) (bool, error) {
	var raw []byte
	err := q.QueryRow(ctx, `SELECT state FROM games WHERE id = $1`, gameID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, models.NewServiceError(models.CodeGameNotFound, "Game not found")
	}
	if err != nil {
		return false, models.ServerError("failed to read game state", err)
	}

	var state struct {
		Characters map[string]json.RawMessage `json:"characters"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return false, models.ServerError("malformed game state", err)
	}
	_, ok := state.Characters[strconv.FormatInt(userID, 10)]
	return ok, nil
}
