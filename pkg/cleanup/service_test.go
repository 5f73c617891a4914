package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletale/tabletale/pkg/config"
	"github.com/tabletale/tabletale/pkg/database"
	testdb "github.com/tabletale/tabletale/test/database"
)

func retentionConfig() config.RetentionConfig {
	return config.RetentionConfig{
		GameRetention:   30 * 24 * time.Hour,
		MessageTTL:      90 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// seedGame inserts a minimal user/world/game row tree and returns the
// game id.
func seedGame(t *testing.T, client *database.Client, status string, createdAt time.Time) int64 {
	t.Helper()
	ctx := context.Background()

	var userID int64
	err := client.Pool().QueryRow(ctx,
		`INSERT INTO users (name) VALUES ('host') RETURNING id`).Scan(&userID)
	require.NoError(t, err)

	var worldID int64
	err = client.Pool().QueryRow(ctx,
		`INSERT INTO worlds (name, owner_id, created_at, last_updated_at)
		 VALUES ('w', $1, now(), now()) RETURNING id`, userID).Scan(&worldID)
	require.NoError(t, err)

	var gameID int64
	err = client.Pool().QueryRow(ctx,
		`INSERT INTO games (code, world_id, host_id, name, max_players, status, created_at)
		 VALUES (substr(md5(random()::text), 1, 4), $1, $2, 'g', 4, $3, $4) RETURNING id`,
		worldID, userID, status, createdAt).Scan(&gameID)
	require.NoError(t, err)

	return gameID
}

func gameStatus(t *testing.T, client *database.Client, gameID int64) string {
	t.Helper()
	var status string
	err := client.Pool().QueryRow(context.Background(),
		`SELECT status FROM games WHERE id = $1`, gameID).Scan(&status)
	require.NoError(t, err)
	return status
}

func TestService_ArchivesOldFinishedGames(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	old := seedGame(t, client, "finished", time.Now().Add(-60*24*time.Hour))
	recent := seedGame(t, client, "finished", time.Now())

	svc := NewService(retentionConfig(), client.Pool())
	svc.runAll(ctx)

	assert.Equal(t, "archived", gameStatus(t, client, old))
	assert.Equal(t, "finished", gameStatus(t, client, recent))
}

func TestService_ArchivesAbandonedLobbies(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	abandoned := seedGame(t, client, "waiting", time.Now().Add(-60*24*time.Hour))

	svc := NewService(retentionConfig(), client.Pool())
	svc.runAll(ctx)

	assert.Equal(t, "archived", gameStatus(t, client, abandoned))
}

func TestService_PreservesPlayingGames(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	playing := seedGame(t, client, "playing", time.Now().Add(-60*24*time.Hour))

	svc := NewService(retentionConfig(), client.Pool())
	svc.runAll(ctx)

	assert.Equal(t, "playing", gameStatus(t, client, playing))
}

func TestService_PurgesOldArchivedMessages(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	gameID := seedGame(t, client, "archived", time.Now().Add(-200*24*time.Hour))

	var chatID int64
	err := client.Pool().QueryRow(ctx,
		`INSERT INTO chats (game_id, chat_type) VALUES ($1, 'room') RETURNING id`,
		gameID).Scan(&chatID)
	require.NoError(t, err)

	_, err = client.Pool().Exec(ctx,
		`INSERT INTO messages (chat_id, kind, text, sent_at)
		 VALUES ($1, 'system', 'old', $2), ($1, 'system', 'recent', now())`,
		chatID, time.Now().Add(-120*24*time.Hour))
	require.NoError(t, err)

	svc := NewService(retentionConfig(), client.Pool())
	svc.runAll(ctx)

	var count int
	err = client.Pool().QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE chat_id = $1`, chatID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "old message should be deleted, recent message preserved")
}
