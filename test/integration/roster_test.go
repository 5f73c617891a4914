package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/models"
	"github.com/tabletale/tabletale/pkg/universe"
)

func TestConnectPlayerIsIdempotent(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	g, out := app.newGame(host.ID, 4)

	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))

	roster := g.GameOut().Players
	count := 0
	for _, p := range roster {
		if p.User.ID == p2.ID {
			count++
		}
	}
	assert.Equal(t, 1, count, "one roster entry despite repeated joins")

	awaitGameEvent[game.PlayerJoinedEvent](t, app.rec, out.ID, "p2 joined")
	joins := 0
	for _, ev := range app.rec.gameEvents(out.ID) {
		if je, ok := ev.(game.PlayerJoinedEvent); ok && je.Player.User.ID == p2.ID {
			joins++
		}
	}
	assert.Equal(t, 1, joins, "repeated joins emit no events")
}

func TestHostMigrationOnLeave(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	spectator := app.newUser("watcher")
	g, out := app.newGame(host.ID, 4)

	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	require.NoError(t, g.ConnectPlayer(ctx, spectator.ID))
	require.NoError(t, g.MakeSpectator(ctx, spectator.ID, true, &spectator.ID))

	require.NoError(t, g.DisconnectPlayer(ctx, host.ID, true, &host.ID))

	promoted := awaitGameEvent[game.PlayerPromotedEvent](t, app.rec, out.ID, "host migration")
	assert.Equal(t, host.ID, promoted.OldHost)
	assert.Equal(t, p2.ID, promoted.NewHost, "non-spectator preferred over spectator")
	assert.Equal(t, p2.ID, g.HostID())
}

func TestKickPlayer(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	p3 := app.newUser("player3")
	g, out := app.newGame(host.ID, 4)

	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	require.NoError(t, g.ConnectPlayer(ctx, p3.ID))

	t.Run("only the host may kick others", func(t *testing.T) {
		err := g.DisconnectPlayer(ctx, p3.ID, false, &p2.ID)
		assert.True(t, models.IsCode(err, models.CodeNotHost), "got %v", err)
	})

	t.Run("host kick emits a kicked event and removes immediately", func(t *testing.T) {
		require.NoError(t, g.DisconnectPlayer(ctx, p3.ID, true, &host.ID))
		kicked := awaitGameEvent[game.PlayerKickedEvent](t, app.rec, out.ID, "p3 kicked")
		assert.Equal(t, p3.ID, kicked.PlayerID)
		assert.False(t, g.HasPlayer(p3.ID))

		var rows int
		err := app.client.Pool().QueryRow(ctx,
			`SELECT count(*) FROM game_players WHERE game_id = $1 AND user_id = $2`,
			out.ID, p3.ID).Scan(&rows)
		require.NoError(t, err)
		assert.Zero(t, rows)
	})

	t.Run("kicking a stranger fails", func(t *testing.T) {
		err := g.DisconnectPlayer(ctx, 99999, false, &host.ID)
		assert.True(t, models.IsCode(err, models.CodePlayerNotFound), "got %v", err)
	})
}

func TestSpectatorOverflow(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	g, out := app.newGame(host.ID, 1)

	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	joined := awaitGameEvent[game.PlayerJoinedEvent](t, app.rec, out.ID, "overflow join")
	assert.True(t, joined.Player.IsSpectator, "joiner beyond max_players comes in as spectator")

	err := g.MakeSpectator(ctx, p2.ID, false, &p2.ID)
	assert.True(t, models.IsCode(err, models.CodeGameFull), "got %v", err)

	// Freeing the slot lets the spectator promote.
	require.NoError(t, g.MakeSpectator(ctx, host.ID, true, &host.ID))
	require.NoError(t, g.MakeSpectator(ctx, p2.ID, false, &p2.ID))
}

func TestRepeatedLeaveIsIdempotent(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	g, out := app.newGame(host.ID, 4)
	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))

	require.NoError(t, g.DisconnectPlayer(ctx, p2.ID, false, &p2.ID))
	require.NoError(t, g.DisconnectPlayer(ctx, p2.ID, false, &p2.ID))

	awaitGameEvent[game.PlayerLeftEvent](t, app.rec, out.ID, "p2 left")
	leaves := 0
	for _, ev := range app.rec.gameEvents(out.ID) {
		if le, ok := ev.(game.PlayerLeftEvent); ok && le.PlayerID == p2.ID {
			leaves++
		}
	}
	assert.Equal(t, 1, leaves, "repeated leaves emit no events")

	// Rejoining cancels the one armed kick task; a second leave must not
	// have armed another one that would still fire.
	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	time.Sleep(400 * time.Millisecond)
	assert.True(t, g.HasPlayer(p2.ID))
}

func TestGracePeriodKick(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	g, out := app.newGame(host.ID, 4)
	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))

	t.Run("rejoin within the grace period cancels the kick", func(t *testing.T) {
		require.NoError(t, g.DisconnectPlayer(ctx, p2.ID, false, &p2.ID))
		assert.False(t, g.HasPlayer(p2.ID))

		require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
		assert.True(t, g.HasPlayer(p2.ID))

		// Outlive the grace period; the cancelled kick must not fire.
		time.Sleep(400 * time.Millisecond)
		assert.True(t, g.HasPlayer(p2.ID))

		var rows int
		err := app.client.Pool().QueryRow(ctx,
			`SELECT count(*) FROM game_players WHERE game_id = $1 AND user_id = $2 AND is_joined`,
			out.ID, p2.ID).Scan(&rows)
		require.NoError(t, err)
		assert.Equal(t, 1, rows)
	})

	t.Run("expired grace period removes the player", func(t *testing.T) {
		require.NoError(t, g.DisconnectPlayer(ctx, p2.ID, false, &p2.ID))

		require.Eventually(t, func() bool {
			for _, p := range g.GameOut().Players {
				if p.User.ID == p2.ID {
					return false
				}
			}
			return true
		}, awaitTimeout, 10*time.Millisecond, "kick task should remove the player")
	})
}

func TestLastPlayerLeavingArchivesGame(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	g, out := app.newGame(host.ID, 4)

	require.NoError(t, g.DisconnectPlayer(ctx, host.ID, true, &host.ID))

	app.rec.await(t, "game archived", func(ev universe.Event) bool {
		ge, ok := ev.(universe.GameEvent)
		if !ok || ge.GameID() != out.ID {
			return false
		}
		st, ok := ge.Inner.(game.GameStatusEvent)
		return ok && st.Status == models.GameStatusArchived
	})

	// The universe retires archived games; looking it up again fails.
	require.Eventually(t, func() bool {
		_, err := app.uni.GetGameSystem(ctx, out.ID)
		return models.IsCode(err, models.CodeGameNotFound)
	}, awaitTimeout, 10*time.Millisecond)

	var status string
	require.NoError(t, app.client.Pool().QueryRow(ctx,
		`SELECT status FROM games WHERE id = $1`, out.ID).Scan(&status))
	assert.Equal(t, "archived", status)
}
