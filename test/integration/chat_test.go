package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletale/tabletale/pkg/chat"
	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/models"
	"github.com/tabletale/tabletale/pkg/universe"
)

func TestRoomChatMessaging(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	g, out := app.newGame(host.ID, 4)
	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))

	state, err := g.GetState(ctx, host.ID)
	require.NoError(t, err)
	roomID := state.RoomChat.ChatID

	msg, err := g.SendMessage(ctx, p2.ID, roomID, "hello everyone", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, roomID, msg.ChatID)
	assert.Equal(t, models.MessageKindPlayer, msg.Kind)
	require.NotNil(t, msg.SenderID)
	assert.Equal(t, p2.ID, *msg.SenderID)

	// The message surfaces as a chat event forwarded through the game.
	ev := app.rec.await(t, "room chat message", func(ev universe.Event) bool {
		ge, ok := ev.(universe.GameEvent)
		if !ok || ge.GameID() != out.ID {
			return false
		}
		ce, ok := ge.Inner.(game.GameChatEvent)
		return ok && ce.ChatID == roomID && ce.InnerType == "ChatMessageSentEvent"
	})
	sent := ev.(universe.GameEvent).Inner.(game.GameChatEvent).Inner.(chat.MessageSentEvent)
	assert.Equal(t, "hello everyone", sent.Message.Text)

	// Everyone joined can read the room chat.
	seg, err := g.GetChatSegment(p2.ID, roomID, 10, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, seg.Messages)
	assert.Equal(t, "hello everyone", seg.Messages[len(seg.Messages)-1].Text)
}

func TestChatPagination(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	g, _ := app.newGame(host.ID, 4)

	state, err := g.GetState(ctx, host.ID)
	require.NoError(t, err)
	roomID := state.RoomChat.ChatID

	ids := make([]int64, 0, 9)
	for i := 0; i < 9; i++ {
		msg, err := g.SendMessage(ctx, host.ID, roomID, fmt.Sprintf("msg %d", i), nil, nil)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	t.Run("latest segment", func(t *testing.T) {
		seg, err := g.GetChatSegment(host.ID, roomID, 3, nil, nil)
		require.NoError(t, err)
		require.Len(t, seg.Messages, 3)
		assert.Equal(t, ids[6], seg.Messages[0].ID)
		assert.Equal(t, ids[8], seg.Messages[2].ID)
		require.NotNil(t, seg.PreviousID)
		assert.Equal(t, ids[5], *seg.PreviousID)
		assert.Nil(t, seg.NextID)
	})

	t.Run("walking backward covers the log exactly once", func(t *testing.T) {
		var collected []int64
		var before *int64
		for {
			seg, err := g.GetChatSegment(host.ID, roomID, 4, before, nil)
			require.NoError(t, err)
			for i := len(seg.Messages) - 1; i >= 0; i-- {
				collected = append(collected, seg.Messages[i].ID)
			}
			if seg.PreviousID == nil {
				break
			}
			before = seg.PreviousID
		}
		require.Len(t, collected, len(ids))
		for i, id := range collected {
			assert.Equal(t, ids[len(ids)-1-i], id)
		}
	})

	t.Run("both anchors rejected", func(t *testing.T) {
		_, err := g.GetChatSegment(host.ID, roomID, 4, &ids[3], &ids[5])
		assert.True(t, models.IsCode(err, models.CodeMutuallyExclusiveOpts), "got %v", err)
	})

	t.Run("unknown anchor", func(t *testing.T) {
		missing := int64(999999)
		_, err := g.GetChatSegment(host.ID, roomID, 4, &missing, nil)
		assert.True(t, models.IsCode(err, models.CodeMessageNotFound), "got %v", err)
	})
}

func TestChatAccessControl(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	p3 := app.newUser("player3")
	outsider := app.newUser("outsider")
	g, out := app.newGame(host.ID, 4)

	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))
	require.NoError(t, g.ConnectPlayer(ctx, p3.ID))
	for _, u := range []models.UserOut{host, p2, p3} {
		app.seedCharacter(out.ID, u.ID)
		require.NoError(t, g.SetReady(ctx, u.ID, true))
	}
	require.NoError(t, g.StartGame(ctx, false, &host.ID))

	// Find p3's personal game chat through p3's own state snapshot.
	state, err := g.GetState(ctx, p3.ID)
	require.NoError(t, err)
	var p3Chat int64
	for _, seg := range state.PlayerChats {
		if seg.ChatOwner != nil && *seg.ChatOwner == p3.ID {
			p3Chat = seg.ChatID
		}
	}
	require.NotZero(t, p3Chat, "p3's game chat should be in the state snapshot")

	t.Run("owner may write", func(t *testing.T) {
		_, err := g.SendMessage(ctx, p3.ID, p3Chat, "my move", nil, nil)
		require.NoError(t, err)
	})

	t.Run("host may read and write", func(t *testing.T) {
		seg, err := g.GetChatSegment(host.ID, p3Chat, 10, nil, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, seg.Messages)

		_, err = g.SendMessage(ctx, host.ID, p3Chat, "narrator reply", nil, nil)
		require.NoError(t, err)
	})

	t.Run("other players may not access", func(t *testing.T) {
		_, err := g.GetChatSegment(p2.ID, p3Chat, 10, nil, nil)
		assert.True(t, models.IsCode(err, models.CodeCannotAccessChat), "got %v", err)

		_, err = g.SendMessage(ctx, p2.ID, p3Chat, "peeking", nil, nil)
		assert.True(t, models.IsCode(err, models.CodeCannotAccessChat), "got %v", err)
	})

	t.Run("non-members may not access any chat", func(t *testing.T) {
		_, err := g.GetChatSegment(outsider.ID, p3Chat, 10, nil, nil)
		assert.True(t, models.IsCode(err, models.CodePlayerNotInGame), "got %v", err)
	})

	t.Run("unknown chat id", func(t *testing.T) {
		_, err := g.GetChatSegment(host.ID, 999999, 10, nil, nil)
		assert.True(t, models.IsCode(err, models.CodeChatNotFound), "got %v", err)
	})
}

func TestStateSnapshotShape(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	host := app.newUser("host")
	p2 := app.newUser("player2")
	g, out := app.newGame(host.ID, 4)
	require.NoError(t, g.ConnectPlayer(ctx, p2.ID))

	t.Run("waiting games expose no per-player game chats", func(t *testing.T) {
		state, err := g.GetState(ctx, host.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GameStatusWaiting, state.Status)
		assert.NotNil(t, state.CharacterCreationChat)
		assert.Empty(t, state.PlayerChats)
		assert.Empty(t, state.AdviceChats)
	})

	for _, u := range []models.UserOut{host, p2} {
		app.seedCharacter(out.ID, u.ID)
		require.NoError(t, g.SetReady(ctx, u.ID, true))
	}
	require.NoError(t, g.StartGame(ctx, false, &host.ID))

	t.Run("playing games expose everyone's chats", func(t *testing.T) {
		state, err := g.GetState(ctx, p2.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GameStatusPlaying, state.Status)
		assert.Len(t, state.PlayerChats, 2)
		assert.Len(t, state.AdviceChats, 2)
	})

	t.Run("strangers get no state", func(t *testing.T) {
		stranger := app.newUser("stranger")
		_, err := g.GetState(ctx, stranger.ID)
		assert.True(t, models.IsCode(err, models.CodePlayerNotInGame), "got %v", err)
	})
}
