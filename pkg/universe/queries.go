package universe

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tabletale/tabletale/pkg/database"
	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/models"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 4

	// createGameAttempts bounds the serializable-transaction retry loop.
	createGameAttempts = 10

	defaultPageSize = 20
	maxPageSize     = 100
)

// Postgres SQLSTATE values the create-game retry loop distinguishes.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// randomGameCode returns a 4-character uppercase alphanumeric code.
func randomGameCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	var b strings.Builder
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String()
}

func clampListParams(p *models.ListParams) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	if p.SortOrder != models.SortAsc && p.SortOrder != models.SortDesc {
		p.SortOrder = models.SortAsc
	}
}

func sortColumn(key string, allowed map[string]string, fallback string) string {
	if col, ok := allowed[key]; ok {
		return col
	}
	return fallback
}

var worldSortColumns = map[string]string{
	"id":              "w.id",
	"name":            "w.name",
	"created_at":      "w.created_at",
	"last_updated_at": "w.last_updated_at",
}

var gameSortColumns = map[string]string{
	"id":         "g.id",
	"name":       "g.name",
	"code":       "g.code",
	"status":     "g.status",
	"created_at": "g.created_at",
}

const worldSelect = `
SELECT w.id, w.name, w.public, w.description, w.data, w.created_at, w.last_updated_at, w.deleted,
       u.id, u.name, u.created_at, u.deleted
FROM worlds w
JOIN users u ON u.id = w.owner_id`

func scanWorld(row pgx.Row) (models.WorldOut, error) {
	var (
		w   models.WorldOut
		raw []byte
	)
	err := row.Scan(
		&w.ID, &w.Name, &w.Public, &w.Description, &raw, &w.CreatedAt, &w.LastUpdatedAt, &w.Deleted,
		&w.Owner.ID, &w.Owner.Name, &w.Owner.CreatedAt, &w.Owner.Deleted,
	)
	if err != nil {
		return models.WorldOut{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &w.Data); err != nil {
			return models.WorldOut{}, fmt.Errorf("malformed world data: %w", err)
		}
	}
	return w, nil
}

// CreateWorld inserts a world and emits a NewWorldEvent. A nil data
// payload defaults to {"initialState": {}}.
func (u *Universe) CreateWorld(
	ctx context.Context,
	ownerID int64,
	name string,
	public bool,
	description *string,
	data map[string]any,
) (models.WorldOut, error) {
	if data == nil {
		data = map[string]any{"initialState": map[string]any{}}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return models.WorldOut{}, models.ServerError("failed to encode world data", err)
	}

	now := time.Now()
	var id int64
	err = u.db.Pool().QueryRow(ctx,
		`INSERT INTO worlds (name, owner_id, public, description, data, created_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		name, ownerID, public, description, raw, now,
	).Scan(&id)
	if err != nil {
		return models.WorldOut{}, models.ServerError("failed to create world", err)
	}

	w, err := u.worldByID(ctx, id)
	if err != nil {
		return models.WorldOut{}, err
	}
	slog.Info("World created", "world_id", id, "owner_id", ownerID)
	u.Emit(NewWorldEvent{World: w})
	return w, nil
}

func (u *Universe) worldByID(ctx context.Context, worldID int64) (models.WorldOut, error) {
	w, err := scanWorld(u.db.Pool().QueryRow(ctx, worldSelect+` WHERE w.id = $1`, worldID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorldOut{}, models.NewServiceError(models.CodeWorldNotFound, "World not found")
	}
	if err != nil {
		return models.WorldOut{}, models.ServerError("failed to load world", err)
	}
	return w, nil
}

// GetWorld returns a world visible to the requester: public worlds and
// the requester's own. Soft-deleted worlds read as missing.
func (u *Universe) GetWorld(ctx context.Context, worldID, requesterID int64) (models.WorldOut, error) {
	w, err := scanWorld(u.db.Pool().QueryRow(ctx,
		worldSelect+` WHERE w.id = $1 AND NOT w.deleted AND (w.public OR w.owner_id = $2)`,
		worldID, requesterID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorldOut{}, models.NewServiceError(models.CodeWorldNotFound, "World not found")
	}
	if err != nil {
		return models.WorldOut{}, models.ServerError("failed to load world", err)
	}
	return w, nil
}

// GetWorlds lists visible worlds with pagination and single-key sort.
func (u *Universe) GetWorlds(ctx context.Context, requesterID int64, params models.ListParams) ([]models.WorldOut, error) {
	clampListParams(&params)
	col := sortColumn(params.SortBy, worldSortColumns, "w.id")

	rows, err := u.db.Pool().Query(ctx,
		worldSelect+fmt.Sprintf(
			` WHERE NOT w.deleted AND (w.public OR w.owner_id = $1)
			 ORDER BY %s %s LIMIT $2 OFFSET $3`,
			col, strings.ToUpper(string(params.SortOrder))),
		requesterID, params.PageSize, params.Offset(),
	)
	if err != nil {
		return nil, models.ServerError("failed to list worlds", err)
	}
	defer rows.Close()

	worlds := make([]models.WorldOut, 0, params.PageSize)
	for rows.Next() {
		w, err := scanWorld(rows)
		if err != nil {
			return nil, models.ServerError("failed to scan world", err)
		}
		worlds = append(worlds, w)
	}
	if err := rows.Err(); err != nil {
		return nil, models.ServerError("failed to iterate worlds", err)
	}
	return worlds, nil
}

// UpdateWorld patches a world. Owner only.
func (u *Universe) UpdateWorld(
	ctx context.Context,
	worldID, requesterID int64,
	name *string,
	public *bool,
	description *string,
	data map[string]any,
) (models.WorldOut, error) {
	current, err := u.worldByID(ctx, worldID)
	if err != nil {
		return models.WorldOut{}, err
	}
	if current.Deleted {
		return models.WorldOut{}, models.NewServiceError(models.CodeWorldNotFound, "World not found")
	}
	if current.Owner.ID != requesterID {
		return models.WorldOut{}, models.NewServiceError(models.CodeUnauthorized, "Only the owner may update a world")
	}

	newName, newPublic, newDesc, newData := current.Name, current.Public, current.Description, current.Data
	if name != nil {
		newName = *name
	}
	if public != nil {
		newPublic = *public
	}
	if description != nil {
		newDesc = description
	}
	if data != nil {
		newData = data
	}
	raw, err := json.Marshal(newData)
	if err != nil {
		return models.WorldOut{}, models.ServerError("failed to encode world data", err)
	}

	if _, err := u.db.Pool().Exec(ctx,
		`UPDATE worlds SET name = $1, public = $2, description = $3, data = $4, last_updated_at = $5
		 WHERE id = $6`,
		newName, newPublic, newDesc, raw, time.Now(), worldID,
	); err != nil {
		return models.WorldOut{}, models.ServerError("failed to update world", err)
	}

	w, err := u.worldByID(ctx, worldID)
	if err != nil {
		return models.WorldOut{}, err
	}
	u.Emit(WorldUpdateEvent{World: w})
	return w, nil
}

// DeleteWorld soft-deletes a world. Owner only.
func (u *Universe) DeleteWorld(ctx context.Context, worldID, requesterID int64) error {
	current, err := u.worldByID(ctx, worldID)
	if err != nil {
		return err
	}
	if current.Deleted {
		return models.NewServiceError(models.CodeWorldNotFound, "World not found")
	}
	if current.Owner.ID != requesterID {
		return models.NewServiceError(models.CodeUnauthorized, "Only the owner may delete a world")
	}

	if _, err := u.db.Pool().Exec(ctx,
		`UPDATE worlds SET deleted = true, last_updated_at = $1 WHERE id = $2`,
		time.Now(), worldID,
	); err != nil {
		return models.ServerError("failed to delete world", err)
	}

	current.Deleted = true
	slog.Info("World deleted", "world_id", worldID)
	u.Emit(WorldUpdateEvent{World: current})
	return nil
}

// CopyWorld duplicates a visible world's contents into a new world
// owned by the requester.
func (u *Universe) CopyWorld(ctx context.Context, worldID, requesterID int64) (models.WorldOut, error) {
	src, err := u.GetWorld(ctx, worldID, requesterID)
	if err != nil {
		return models.WorldOut{}, err
	}
	return u.CreateWorld(ctx, requesterID, src.Name, false, src.Description, src.Data)
}

const gameSelect = `
SELECT g.id, g.code, g.name, g.public, g.max_players, g.status, COALESCE(g.host_id, 0), g.created_at,
       w.id, w.name, w.public, w.description, w.created_at, w.last_updated_at, w.deleted,
       u.id, u.name, u.created_at, u.deleted,
       COALESCE(v.players, '[]'::jsonb)
FROM games g
JOIN worlds w ON w.id = g.world_id
JOIN users u ON u.id = w.owner_id
LEFT JOIN game_players_agg_view v ON v.game_id = g.id`

func scanGame(row pgx.Row) (models.GameOut, error) {
	var (
		g       models.GameOut
		players []byte
	)
	err := row.Scan(
		&g.ID, &g.Code, &g.Name, &g.Public, &g.MaxPlayers, &g.Status, &g.HostID, &g.CreatedAt,
		&g.World.ID, &g.World.Name, &g.World.Public, &g.World.Description,
		&g.World.CreatedAt, &g.World.LastUpdatedAt, &g.World.Deleted,
		&g.World.Owner.ID, &g.World.Owner.Name, &g.World.Owner.CreatedAt, &g.World.Owner.Deleted,
		&players,
	)
	if err != nil {
		return models.GameOut{}, err
	}
	if err := json.Unmarshal(players, &g.Players); err != nil {
		return models.GameOut{}, fmt.Errorf("malformed player aggregate: %w", err)
	}
	return g, nil
}

// loadGameRow hydrates a game without visibility checks; it backs
// GetGameSystem.
func (u *Universe) loadGameRow(ctx context.Context, gameID int64) (models.GameOut, error) {
	g, err := scanGame(u.db.Pool().QueryRow(ctx, gameSelect+` WHERE g.id = $1`, gameID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GameOut{}, models.NewServiceError(models.CodeGameNotFound, "Game not found")
	}
	if err != nil {
		return models.GameOut{}, models.ServerError("failed to load game", err)
	}
	return g, nil
}

func gameVisibleClause(arg int) string {
	return fmt.Sprintf(`(g.public OR g.host_id = $%d OR EXISTS (
		SELECT 1 FROM game_players gp WHERE gp.game_id = g.id AND gp.user_id = $%d))`, arg, arg)
}

// GetGame returns a game visible to the requester.
func (u *Universe) GetGame(ctx context.Context, gameID, requesterID int64) (models.GameOut, error) {
	g, err := scanGame(u.db.Pool().QueryRow(ctx,
		gameSelect+` WHERE g.id = $1 AND `+gameVisibleClause(2),
		gameID, requesterID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GameOut{}, models.NewServiceError(models.CodeGameNotFound, "Game not found")
	}
	if err != nil {
		return models.GameOut{}, models.ServerError("failed to load game", err)
	}
	return g, nil
}

// GetGameByCode resolves a join code against non-archived games.
func (u *Universe) GetGameByCode(ctx context.Context, code string, requesterID int64) (models.GameOut, error) {
	g, err := scanGame(u.db.Pool().QueryRow(ctx,
		gameSelect+` WHERE g.code = $1 AND g.status != 'archived'`,
		strings.ToUpper(code),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GameOut{}, models.NewServiceError(models.CodeGameNotFound, "Game not found")
	}
	if err != nil {
		return models.GameOut{}, models.ServerError("failed to load game", err)
	}
	return g, nil
}

// GetGames lists visible games with status filters, pagination and
// single-key sort. Archived games are hidden unless asked for.
func (u *Universe) GetGames(ctx context.Context, requesterID int64, params models.GameListParams) ([]models.GameOut, error) {
	clampListParams(&params.ListParams)
	col := sortColumn(params.SortBy, gameSortColumns, "g.id")

	where := []string{gameVisibleClause(1)}
	args := []any{requesterID}
	if len(params.Statuses) > 0 {
		statuses := make([]string, 0, len(params.Statuses))
		for _, st := range params.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("g.status = ANY($%d)", len(args)))
	}
	if !params.IncludeArchived {
		where = append(where, "g.status != 'archived'")
	}
	args = append(args, params.PageSize, params.Offset())

	query := gameSelect + fmt.Sprintf(
		` WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), col, strings.ToUpper(string(params.SortOrder)),
		len(args)-1, len(args),
	)

	rows, err := u.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, models.ServerError("failed to list games", err)
	}
	defer rows.Close()

	games := make([]models.GameOut, 0, params.PageSize)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, models.ServerError("failed to scan game", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, models.ServerError("failed to iterate games", err)
	}
	return games, nil
}

// CreateGame creates a game in a serializable transaction: a fresh
// 4-character code unique among non-archived games, the row seeded from
// the world's initialState, and the host as the sole joined player. The
// live GameSystem is built and registered before returning.
func (u *Universe) CreateGame(
	ctx context.Context,
	hostID, worldID int64,
	name string,
	public bool,
	maxPlayers int,
) (models.GameOut, error) {
	if maxPlayers < 1 {
		return models.GameOut{}, models.NewServiceError(models.CodeGameMaxPlayersTooSmall, "max_players must be at least 1")
	}
	world, err := u.GetWorld(ctx, worldID, hostID)
	if err != nil {
		return models.GameOut{}, err
	}

	seed := map[string]any{}
	if init, ok := world.Data["initialState"].(map[string]any); ok {
		seed = init
	}
	state, err := json.Marshal(seed)
	if err != nil {
		return models.GameOut{}, models.ServerError("failed to encode game state", err)
	}

	var gameID int64
	for attempt := 0; ; attempt++ {
		gameID, err = u.insertGameTx(ctx, hostID, worldID, name, public, maxPlayers, state)
		if err == nil {
			break
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgDeadlockDetected:
				return models.GameOut{}, models.ServerError("deadlock while creating game", err)
			case pgSerializationFailure, pgUniqueViolation:
				if attempt+1 < createGameAttempts {
					continue
				}
			}
		}
		return models.GameOut{}, models.ServerError("failed to create game", err)
	}

	out, err := u.loadGameRow(ctx, gameID)
	if err != nil {
		return models.GameOut{}, err
	}

	g, err := game.CreateNew(ctx, u.db.Pool(), u.chars, u.kickGrace, out)
	if err != nil {
		return models.GameOut{}, err
	}
	if err := u.addGame(g); err != nil {
		_ = g.Stop(ctx)
		return models.GameOut{}, err
	}

	slog.Info("Game created", "game_id", gameID, "code", out.Code, "host_id", hostID, "world_id", worldID)
	return out, nil
}

// insertGameTx runs one attempt of the create-game transaction.
func (u *Universe) insertGameTx(
	ctx context.Context,
	hostID, worldID int64,
	name string,
	public bool,
	maxPlayers int,
	state []byte,
) (int64, error) {
	tx, err := u.db.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var code string
	for {
		code = randomGameCode()
		var taken bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM games WHERE code = $1 AND status != 'archived')`,
			code,
		).Scan(&taken); err != nil {
			return 0, err
		}
		if !taken {
			break
		}
	}

	now := time.Now()
	var gameID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO games (code, world_id, host_id, name, public, max_players, status, created_at, state)
		 VALUES ($1, $2, $3, $4, $5, $6, 'waiting', $7, $8) RETURNING id`,
		code, worldID, hostID, name, public, maxPlayers, now, state,
	).Scan(&gameID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO game_players (game_id, user_id, is_ready, is_spectator, is_joined, joined_at)
		 VALUES ($1, $2, false, false, true, $3)`,
		gameID, hostID, now,
	); err != nil {
		return 0, err
	}

	return gameID, tx.Commit(ctx)
}

// RestartGame creates a fresh game from a finished one: same world and
// settings, prior players auto-joined. Host only.
func (u *Universe) RestartGame(ctx context.Context, gameID, requesterID int64) (models.GameOut, error) {
	g, err := u.GetGameSystem(ctx, gameID)
	if err != nil {
		return models.GameOut{}, err
	}
	if g.HostID() != requesterID {
		return models.GameOut{}, models.NewServiceError(models.CodeNotHost, "Only the host may restart the game")
	}
	if g.Status() != models.GameStatusFinished {
		return models.GameOut{}, models.NewServiceError(models.CodeGameNotFinished, "Game is not finished")
	}
	old := g.GameOut()

	out, err := u.CreateGame(ctx, old.HostID, old.World.ID, old.Name, old.Public, old.MaxPlayers)
	if err != nil {
		return models.GameOut{}, err
	}
	ng, err := u.GetGameSystem(ctx, out.ID)
	if err != nil {
		return models.GameOut{}, err
	}
	for _, p := range old.Players {
		if p.User.ID == old.HostID || !p.IsJoined {
			continue
		}
		if err := ng.ConnectPlayer(ctx, p.User.ID); err != nil {
			slog.Warn("Failed to carry player into restarted game",
				"old_game_id", gameID, "game_id", out.ID, "user_id", p.User.ID, "error", err)
		}
	}
	return ng.GameOut(), nil
}

// GetUser reads one user row.
func (u *Universe) GetUser(ctx context.Context, userID int64) (models.UserOut, error) {
	var user models.UserOut
	err := u.db.Pool().QueryRow(ctx,
		`SELECT id, name, created_at, deleted FROM users WHERE id = $1 AND NOT deleted`,
		userID,
	).Scan(&user.ID, &user.Name, &user.CreatedAt, &user.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserOut{}, models.NewServiceError(models.CodeUserNotFound, "User not found")
	}
	if err != nil {
		return models.UserOut{}, models.ServerError("failed to load user", err)
	}
	return user, nil
}

// GetOrCreateUser resolves a user by name, creating the row on first
// sight. Backs the test-login flow.
func (u *Universe) GetOrCreateUser(ctx context.Context, name string) (models.UserOut, error) {
	var user models.UserOut
	err := u.db.Pool().QueryRow(ctx,
		`SELECT id, name, created_at, deleted FROM users WHERE name = $1 AND NOT deleted
		 ORDER BY id LIMIT 1`,
		name,
	).Scan(&user.ID, &user.Name, &user.CreatedAt, &user.Deleted)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.UserOut{}, models.ServerError("failed to look up user", err)
	}

	err = u.db.Pool().QueryRow(ctx,
		`INSERT INTO users (name) VALUES ($1) RETURNING id, name, created_at, deleted`,
		name,
	).Scan(&user.ID, &user.Name, &user.CreatedAt, &user.Deleted)
	if err != nil {
		return models.UserOut{}, models.ServerError("failed to create user", err)
	}
	slog.Info("User created", "user_id", user.ID, "name", name)
	return user, nil
}

// Health proxies the database health probe. Failures are folded into
// the status; the error itself only goes to the logs.
func (u *Universe) Health(ctx context.Context) database.HealthStatus {
	status, err := database.Health(ctx, u.db)
	if err != nil {
		slog.Warn("Database health probe failed", "error", err)
	}
	return status
}
