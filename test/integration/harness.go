// Package integration exercises the session runtime end to end against
// a real PostgreSQL database: universe, game systems, chats and the
// events they emit.
package integration

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tabletale/tabletale/pkg/database"
	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/models"
	"github.com/tabletale/tabletale/pkg/universe"
	testdb "github.com/tabletale/tabletale/test/database"
)

const awaitTimeout = 5 * time.Second

// testApp is one running universe on a private database schema.
type testApp struct {
	t      *testing.T
	client *database.Client
	uni    *universe.Universe
	rec    *eventRecorder
}

// newTestApp starts a universe with a short kick grace so the
// reconnect-window tests stay fast.
func newTestApp(t *testing.T) *testApp {
	t.Helper()

	client := testdb.NewTestClient(t)
	uni, err := universe.New(client, game.StateCharacterStore{}, 200*time.Millisecond)
	require.NoError(t, err)

	events, err := uni.Listen()
	require.NoError(t, err)

	rec := newEventRecorder()
	go rec.consume(events)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, uni.Stop(ctx))
		rec.waitClosed(t)
	})

	return &testApp{t: t, client: client, uni: uni, rec: rec}
}

func (a *testApp) newUser(name string) models.UserOut {
	a.t.Helper()
	user, err := a.uni.GetOrCreateUser(context.Background(), name)
	require.NoError(a.t, err)
	return user
}

func (a *testApp) newWorld(ownerID int64) models.WorldOut {
	a.t.Helper()
	world, err := a.uni.CreateWorld(context.Background(), ownerID, "testworld", true, nil, nil)
	require.NoError(a.t, err)
	return world
}

// newGame creates a world and a game hosted by hostID and returns the
// live system.
func (a *testApp) newGame(hostID int64, maxPlayers int) (*game.System, models.GameOut) {
	a.t.Helper()
	ctx := context.Background()

	world := a.newWorld(hostID)
	out, err := a.uni.CreateGame(ctx, hostID, world.ID, "testgame", true, maxPlayers)
	require.NoError(a.t, err)

	g, err := a.uni.GetGameSystem(ctx, out.ID)
	require.NoError(a.t, err)
	return g, out
}

// seedCharacter marks a character profile as present in the game state,
// which is what readying up checks for.
func (a *testApp) seedCharacter(gameID, userID int64) {
	a.t.Helper()
	_, err := a.client.Pool().Exec(context.Background(),
		`UPDATE games
		 SET state = state || jsonb_build_object(
		     'characters',
		     COALESCE(state -> 'characters', '{}'::jsonb) ||
		     jsonb_build_object($1::text, '{"name": "hero"}'::jsonb))
		 WHERE id = $2`,
		strconv.FormatInt(userID, 10), gameID)
	require.NoError(a.t, err)
}
