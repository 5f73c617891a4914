package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/universe"
)

type stubDisconnector struct {
	mu    sync.Mutex
	calls []connKey
}

func (s *stubDisconnector) DisconnectIdlePlayer(_ context.Context, gameID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, connKey{gameID: gameID, userID: userID})
	return nil
}

func (s *stubDisconnector) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// dialTestSocket stands up an HTTP server that hands every upgrade to
// the controller under a fixed (game, user) pair and dials it.
func dialTestSocket(t *testing.T, ct *Controller, gameID, userID int64) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		ct.HandleConnection(r.Context(), gameID, userID, conn)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	waitFor(t, func() bool { return ct.ActiveConnections() > 0 })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f map[string]any
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestPingPong(t *testing.T) {
	ct := NewController(&stubDisconnector{}, 30*time.Second, 30*time.Second)
	conn := dialTestSocket(t, ct, 1, 10)

	writeFrame(t, conn, map[string]string{"type": "ping"})
	f := readFrame(t, conn)
	assert.Equal(t, "pong", f["type"])
}

func TestEventDelivery(t *testing.T) {
	ct := NewController(&stubDisconnector{}, 30*time.Second, 30*time.Second)

	events := make(chan universe.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ct.Run(ctx, events)

	conn := dialTestSocket(t, ct, 7, 42)

	writeFrame(t, conn, map[string]string{"type": "ping"})
	f := readFrame(t, conn)
	require.Equal(t, "pong", f["type"])

	events <- universe.GameEvent{Inner: game.PlayerReadyEvent{
		EventBase: game.EventBase{GameID: 7},
		PlayerID:  42,
		Ready:     true,
	}}

	f = readFrame(t, conn)
	assert.Equal(t, "PlayerReadyEvent", f["type"])
	payload, ok := f["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(7), payload["game_id"])
	assert.Equal(t, float64(42), payload["player_id"])
	assert.Equal(t, true, payload["ready"])
}

func TestEventsScopedToGame(t *testing.T) {
	ct := NewController(&stubDisconnector{}, 30*time.Second, 30*time.Second)

	events := make(chan universe.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ct.Run(ctx, events)

	conn := dialTestSocket(t, ct, 1, 10)

	// An event for a different game must not reach this socket.
	events <- universe.GameEvent{Inner: game.PlayerReadyEvent{
		EventBase: game.EventBase{GameID: 2}, PlayerID: 99, Ready: true,
	}}
	events <- universe.GameEvent{Inner: game.GameStatusEvent{
		EventBase: game.EventBase{GameID: 1}, Status: "playing",
	}}

	f := readFrame(t, conn)
	assert.Equal(t, "GameStatusEvent", f["type"])
}

func TestKickClosesSocketWithoutReconnectWindow(t *testing.T) {
	stub := &stubDisconnector{}
	ct := NewController(stub, 30*time.Second, 50*time.Millisecond)

	events := make(chan universe.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ct.Run(ctx, events)

	conn := dialTestSocket(t, ct, 3, 5)

	events <- universe.GameEvent{Inner: game.PlayerKickedEvent{
		EventBase: game.EventBase{GameID: 3}, PlayerID: 5,
	}}

	readCtx, readCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer readCancel()
	_, _, err := conn.Read(readCtx)
	require.Error(t, err)

	waitFor(t, func() bool { return ct.ActiveConnections() == 0 })
	// Purge means no delayed disconnect fires for the kicked user.
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, stub.callCount())
}

func TestDelayedDisconnectFiresAfterClose(t *testing.T) {
	stub := &stubDisconnector{}
	ct := NewController(stub, 30*time.Second, 50*time.Millisecond)

	conn := dialTestSocket(t, ct, 9, 12)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	waitFor(t, func() bool { return stub.callCount() == 1 })
	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, connKey{gameID: 9, userID: 12}, stub.calls[0])
}

func TestArchivedGameDropsBucket(t *testing.T) {
	ct := NewController(&stubDisconnector{}, 30*time.Second, 30*time.Second)

	events := make(chan universe.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ct.Run(ctx, events)

	conn := dialTestSocket(t, ct, 4, 8)

	events <- universe.GameEvent{Inner: game.GameStatusEvent{
		EventBase: game.EventBase{GameID: 4}, Status: "archived",
	}}

	// The archived status is still broadcast before the bucket goes.
	f := readFrame(t, conn)
	assert.Equal(t, "GameStatusEvent", f["type"])

	waitFor(t, func() bool { return ct.ActiveConnections() == 0 })
}
