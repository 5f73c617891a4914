package integration

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/models"
	"github.com/tabletale/tabletale/pkg/universe"
)

func TestReadyFlow(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	g, out := app.newGame(host.ID, 4)

	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	joined := awaitGameEvent[game.PlayerJoinedEvent](t, app.rec, out.ID, "p2 joined")
	assert.Equal(t, p2.ID, joined.Player.User.ID)
	assert.False(t, joined.Player.IsSpectator)

	// Readying up without a character fails and leaves a notice in the
	// character-creation chat.
	err := g.SetReady(ctx, p2.ID, true)
	assert.True(t, models.IsCode(err, models.CodeCharacterNotReady), "got %v", err)

	state, err := g.GetState(ctx, p2.ID)
	require.NoError(t, err)
	require.NotNil(t, state.CharacterCreationChat)
	require.NotEmpty(t, state.CharacterCreationChat.Messages)
	notice := state.CharacterCreationChat.Messages[len(state.CharacterCreationChat.Messages)-1]
	assert.Equal(t, models.MessageKindSystem, notice.Kind)

	app.seedCharacter(out.ID, p2.ID)
	require.NoError(t, g.SetReady(ctx, p2.ID, true))
	ready := awaitGameEvent[game.PlayerReadyEvent](t, app.rec, out.ID, "p2 ready")
	assert.Equal(t, p2.ID, ready.PlayerID)
	assert.True(t, ready.Ready)

	// The very first event for a game is its initial status snapshot.
	events := app.rec.gameEvents(out.ID)
	require.NotEmpty(t, events)
	first, ok := events[0].(game.GameStatusEvent)
	require.True(t, ok, "first event was %T", events[0])
	assert.Equal(t, models.GameStatusWaiting, first.Status)

	// Join precedes ready in the delivered order.
	joinIdx, readyIdx := -1, -1
	for i, ev := range events {
		switch ev.(type) {
		case game.PlayerJoinedEvent:
			if joinIdx == -1 {
				joinIdx = i
			}
		case game.PlayerReadyEvent:
			readyIdx = i
		}
	}
	assert.Less(t, joinIdx, readyIdx)
}

func TestStartGame(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	p3 := app.newUser("player3")
	g, out := app.newGame(host.ID, 4)

	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	require.NoError(t, g.ConnectPlayer(ctx, p3.ID))

	app.seedCharacter(out.ID, host.ID)
	app.seedCharacter(out.ID, p2.ID)
	require.NoError(t, g.SetReady(ctx, host.ID, true))
	require.NoError(t, g.SetReady(ctx, p2.ID, true))

	t.Run("only the host may start", func(t *testing.T) {
		err := g.StartGame(ctx, false, &p2.ID)
		assert.True(t, models.IsCode(err, models.CodeNotHost), "got %v", err)
	})

	t.Run("unready players block the start", func(t *testing.T) {
		err := g.StartGame(ctx, false, &host.ID)
		require.True(t, models.IsCode(err, models.CodePlayerNotReady), "got %v", err)
		se := models.AsServiceError(err)
		assert.Equal(t, []int64{p3.ID}, se.Details["playerIds"])
	})

	t.Run("force demotes unready players and starts", func(t *testing.T) {
		require.NoError(t, g.StartGame(ctx, true, &host.ID))

		spec := awaitGameEvent[game.PlayerSpectatorEvent](t, app.rec, out.ID, "p3 demoted")
		assert.Equal(t, p3.ID, spec.PlayerID)
		assert.True(t, spec.IsSpectator)

		app.rec.await(t, "status playing", func(ev universe.Event) bool {
			ge, ok := ev.(universe.GameEvent)
			if !ok || ge.GameID() != out.ID {
				return false
			}
			st, ok := ge.Inner.(game.GameStatusEvent)
			return ok && st.Status == models.GameStatusPlaying
		})
		assert.Equal(t, models.GameStatusPlaying, g.Status())
	})

	t.Run("starting twice fails", func(t *testing.T) {
		err := g.StartGame(ctx, false, &host.ID)
		assert.True(t, models.IsCode(err, models.CodeGameAlreadyStarted), "got %v", err)
	})

	t.Run("settings freeze once started", func(t *testing.T) {
		name := "renamed"
		err := g.UpdateSettings(ctx, nil, &name, nil)
		assert.True(t, models.IsCode(err, models.CodeGameAlreadyStarted), "got %v", err)
	})
}

func TestFinishAndRestart(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	g, out := app.newGame(host.ID, 4)

	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	app.seedCharacter(out.ID, host.ID)
	app.seedCharacter(out.ID, p2.ID)
	require.NoError(t, g.SetReady(ctx, host.ID, true))
	require.NoError(t, g.SetReady(ctx, p2.ID, true))

	t.Run("restart requires a finished game", func(t *testing.T) {
		_, err := app.uni.RestartGame(ctx, out.ID, host.ID)
		assert.True(t, models.IsCode(err, models.CodeGameNotFinished), "got %v", err)
	})

	require.NoError(t, g.StartGame(ctx, false, &host.ID))

	t.Run("finish before playing ends fails for non-host", func(t *testing.T) {
		err := g.FinishGame(ctx, &p2.ID)
		assert.True(t, models.IsCode(err, models.CodeNotHost), "got %v", err)
	})

	require.NoError(t, g.FinishGame(ctx, &host.ID))
	assert.Equal(t, models.GameStatusFinished, g.Status())

	t.Run("finishing again is a no-op", func(t *testing.T) {
		require.NoError(t, g.FinishGame(ctx, &host.ID))
	})

	t.Run("restart creates a fresh lobby with the same roster", func(t *testing.T) {
		fresh, err := app.uni.RestartGame(ctx, out.ID, host.ID)
		require.NoError(t, err)
		assert.NotEqual(t, out.ID, fresh.ID)
		assert.Equal(t, out.Name, fresh.Name)
		assert.Equal(t, out.MaxPlayers, fresh.MaxPlayers)
		assert.Equal(t, models.GameStatusWaiting, fresh.Status)

		ng, err := app.uni.GetGameSystem(ctx, fresh.ID)
		require.NoError(t, err)
		assert.True(t, ng.HasPlayer(host.ID))
		assert.True(t, ng.HasPlayer(p2.ID))
	})
}

func TestGameCodeLookup(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	_, out := app.newGame(host.ID, 4)

	require.Len(t, out.Code, 4)

	found, err := app.uni.GetGameByCode(ctx, out.Code, host.ID)
	require.NoError(t, err)
	assert.Equal(t, out.ID, found.ID)

	// Lookup is case-insensitive.
	lower, err := app.uni.GetGameByCode(ctx, lowercase(out.Code), host.ID)
	require.NoError(t, err)
	assert.Equal(t, out.ID, lower.ID)

	_, err = app.uni.GetGameByCode(ctx, "????", host.ID)
	assert.True(t, models.IsCode(err, models.CodeGameNotFound), "got %v", err)
}

func TestGameCodeUniqueness(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	world := app.newWorld(host.ID)

	// Occupy a known code directly in the table.
	_, err := app.client.Pool().Exec(ctx,
		`INSERT INTO games (code, world_id, host_id, name, public, max_players, status, created_at)
		 VALUES ('QQQQ', $1, $2, 'squatter', true, 4, 'waiting', now())`,
		world.ID, host.ID)
	require.NoError(t, err)

	t.Run("duplicate active code is rejected", func(t *testing.T) {
		_, err := app.client.Pool().Exec(ctx,
			`INSERT INTO games (code, world_id, host_id, name, public, max_players, status, created_at)
			 VALUES ('QQQQ', $1, $2, 'clone', true, 4, 'waiting', now())`,
			world.ID, host.ID)
		var pgErr *pgconn.PgError
		require.ErrorAs(t, err, &pgErr)
		assert.Equal(t, "23505", pgErr.Code)
	})

	t.Run("creation skips taken codes", func(t *testing.T) {
		out, err := app.uni.CreateGame(ctx, host.ID, world.ID, "testgame", true, 4)
		require.NoError(t, err)
		assert.NotEqual(t, "QQQQ", out.Code)
	})

	t.Run("archived games free their code", func(t *testing.T) {
		_, err := app.client.Pool().Exec(ctx,
			`UPDATE games SET status = 'archived' WHERE code = 'QQQQ' AND name = 'squatter'`)
		require.NoError(t, err)

		_, err = app.client.Pool().Exec(ctx,
			`INSERT INTO games (code, world_id, host_id, name, public, max_players, status, created_at)
			 VALUES ('QQQQ', $1, $2, 'reuse', true, 4, 'waiting', now())`,
			world.ID, host.ID)
		require.NoError(t, err)
	})
}

func lowercase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
