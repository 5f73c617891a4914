// Package ws implements the WebSocketController: it delivers universe
// events to the clients watching each game and drives the connection
// lifecycle, including heartbeats and the reconnect window.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/models"
	"github.com/tabletale/tabletale/pkg/universe"
)

// receiveTimeout bounds a single read so the loop can check the
// heartbeat threshold; writeTimeout bounds a single send so one stalled
// client cannot block a broadcast.
const (
	receiveTimeout = 5 * time.Second
	writeTimeout   = 10 * time.Second
)

// GameDisconnector detaches a user from a game once their reconnect
// window lapses. Implemented by the universe.
type GameDisconnector interface {
	DisconnectIdlePlayer(ctx context.Context, gameID, userID int64) error
}

// frame is the wire shape of every server and client message.
type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type connKey struct {
	gameID int64
	userID int64
}

// connection is one client socket. A connection belongs to exactly one
// (game, user) pair; a new socket for the same pair displaces it. The
// id ties a socket's log lines together across displacements.
type connection struct {
	id     string
	conn   *websocket.Conn
	gameID int64
	userID int64
	ctx    context.Context
	cancel context.CancelFunc
}

// Controller holds the per-game connection buckets and the pending
// reconnect-window timers. The mutex guards only the two maps; sends
// happen outside it.
type Controller struct {
	disconnector     GameDisconnector
	heartbeatTimeout time.Duration
	disconnectDelay  time.Duration

	mu      sync.Mutex
	conns   map[int64]map[int64]*connection
	pending map[connKey]context.CancelFunc
}

// NewController builds a controller. heartbeatTimeout is how long a
// client may stay silent before the socket closes with 1001;
// disconnectDelay is the reconnect window before the game-level leave.
func NewController(disconnector GameDisconnector, heartbeatTimeout, disconnectDelay time.Duration) *Controller {
	return &Controller{
		disconnector:     disconnector,
		heartbeatTimeout: heartbeatTimeout,
		disconnectDelay:  disconnectDelay,
		conns:            make(map[int64]map[int64]*connection),
		pending:          make(map[connKey]context.CancelFunc),
	}
}

// Run consumes the universe stream until it closes or ctx is done.
func (ct *Controller) Run(ctx context.Context, events <-chan universe.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			ct.dispatch(ev)
		case <-ctx.Done():
			return
		}
	}
}

// dispatch routes one universe event. Game events fan out to the
// game's bucket; world events are not broadcast here.
func (ct *Controller) dispatch(ev universe.Event) {
	ge, ok := ev.(universe.GameEvent)
	if !ok {
		return
	}
	inner := ge.Inner
	gameID := inner.EventGameID()

	// Departing users lose their socket before the roster update goes
	// out, so they never observe their own removal.
	switch e := inner.(type) {
	case game.PlayerLeftEvent:
		ct.closeAndPurge(gameID, e.PlayerID, websocket.StatusNormalClosure, "left game")
	case game.PlayerKickedEvent:
		ct.closeAndPurge(gameID, e.PlayerID, websocket.StatusNormalClosure, "kicked from game")
	}

	ct.broadcast(gameID, frame{Type: inner.Name(), Payload: inner})

	if st, isStatus := inner.(game.GameStatusEvent); isStatus && st.Status == models.GameStatusArchived {
		ct.dropGame(gameID)
	}
}

func (ct *Controller) broadcast(gameID int64, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("Failed to encode websocket frame", "game_id", gameID, "type", f.Type, "error", err)
		return
	}

	ct.mu.Lock()
	bucket := ct.conns[gameID]
	targets := make([]*connection, 0, len(bucket))
	for _, c := range bucket {
		targets = append(targets, c)
	}
	ct.mu.Unlock()

	for _, c := range targets {
		if err := ct.send(c, data); err != nil {
			slog.Warn("Websocket send failed",
				"conn_id", c.id, "game_id", c.gameID, "user_id", c.userID, "error", err)
			ct.dropConnection(c, websocket.StatusInternalError, "send failed")
		}
	}
}

func (ct *Controller) send(c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// HandleConnection runs the read loop for an authorized socket. It
// blocks until the socket closes; the caller owns the HTTP request.
func (ct *Controller) HandleConnection(parentCtx context.Context, gameID, userID int64, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:     uuid.NewString(),
		conn:   conn,
		gameID: gameID,
		userID: userID,
		ctx:    ctx,
		cancel: cancel,
	}

	ct.install(c)
	defer ct.release(c)

	slog.Debug("Websocket connected", "conn_id", c.id, "game_id", gameID, "user_id", userID)

	lastFrame := time.Now()
	for {
		readCtx, readCancel := context.WithTimeout(ctx, receiveTimeout)
		_, data, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				if time.Since(lastFrame) >= ct.heartbeatTimeout {
					_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
					return
				}
				continue
			}
			return
		}

		lastFrame = time.Now()
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("Invalid websocket frame", "game_id", gameID, "user_id", userID, "error", err)
			continue
		}
		if f.Type == "ping" {
			pong, _ := json.Marshal(frame{Type: "pong"})
			if err := ct.send(c, pong); err != nil {
				return
			}
		}
	}
}

// install registers a connection, cancelling any pending disconnect for
// the pair and displacing a previous socket.
func (ct *Controller) install(c *connection) {
	key := connKey{gameID: c.gameID, userID: c.userID}

	ct.mu.Lock()
	if cancel, ok := ct.pending[key]; ok {
		cancel()
		delete(ct.pending, key)
	}
	bucket := ct.conns[c.gameID]
	if bucket == nil {
		bucket = make(map[int64]*connection)
		ct.conns[c.gameID] = bucket
	}
	prev := bucket[c.userID]
	bucket[c.userID] = c
	ct.mu.Unlock()

	if prev != nil {
		prev.cancel()
		_ = prev.conn.Close(websocket.StatusNormalClosure, "displaced by new connection")
	}
}

// release runs when a read loop exits. If the connection is still the
// one on record it is removed and the reconnect window starts; a
// displaced connection leaves no trace.
func (ct *Controller) release(c *connection) {
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")

	ct.mu.Lock()
	current := ct.conns[c.gameID][c.userID]
	if current != c {
		ct.mu.Unlock()
		return
	}
	delete(ct.conns[c.gameID], c.userID)
	if len(ct.conns[c.gameID]) == 0 {
		delete(ct.conns, c.gameID)
	}
	ct.scheduleDisconnectLocked(connKey{gameID: c.gameID, userID: c.userID})
	ct.mu.Unlock()
}

// scheduleDisconnectLocked arms the reconnect-window timer for a pair.
// Requires ct.mu.
func (ct *Controller) scheduleDisconnectLocked(key connKey) {
	if prev, ok := ct.pending[key]; ok {
		prev()
	}
	dctx, cancel := context.WithCancel(context.Background())
	ct.pending[key] = cancel

	go func() {
		timer := time.NewTimer(ct.disconnectDelay)
		defer timer.Stop()
		select {
		case <-dctx.Done():
			return
		case <-timer.C:
		}

		ct.mu.Lock()
		if dctx.Err() != nil {
			ct.mu.Unlock()
			return
		}
		delete(ct.pending, key)
		ct.mu.Unlock()

		slog.Info("Reconnect window lapsed", "game_id", key.gameID, "user_id", key.userID)
		if err := ct.disconnector.DisconnectIdlePlayer(context.Background(), key.gameID, key.userID); err != nil {
			slog.Warn("Idle disconnect failed",
				"game_id", key.gameID, "user_id", key.userID, "error", err)
		}
	}()
}

// dropConnection closes one socket after a send failure, removes it and
// starts its reconnect window. Other connections are untouched.
func (ct *Controller) dropConnection(c *connection, code websocket.StatusCode, reason string) {
	c.cancel()
	_ = c.conn.Close(code, reason)

	ct.mu.Lock()
	if ct.conns[c.gameID][c.userID] == c {
		delete(ct.conns[c.gameID], c.userID)
		if len(ct.conns[c.gameID]) == 0 {
			delete(ct.conns, c.gameID)
		}
		ct.scheduleDisconnectLocked(connKey{gameID: c.gameID, userID: c.userID})
	}
	ct.mu.Unlock()
}

// closeAndPurge removes a departing user's socket without starting a
// reconnect window; the game-level leave already happened.
func (ct *Controller) closeAndPurge(gameID, userID int64, code websocket.StatusCode, reason string) {
	key := connKey{gameID: gameID, userID: userID}

	ct.mu.Lock()
	if cancel, ok := ct.pending[key]; ok {
		cancel()
		delete(ct.pending, key)
	}
	c := ct.conns[gameID][userID]
	if c != nil {
		delete(ct.conns[gameID], userID)
		if len(ct.conns[gameID]) == 0 {
			delete(ct.conns, gameID)
		}
	}
	ct.mu.Unlock()

	if c != nil {
		c.cancel()
		_ = c.conn.Close(code, reason)
	}
}

// dropGame closes every socket of an archived game and clears its
// bucket and timers.
func (ct *Controller) dropGame(gameID int64) {
	ct.mu.Lock()
	bucket := ct.conns[gameID]
	delete(ct.conns, gameID)
	for key, cancel := range ct.pending {
		if key.gameID == gameID {
			cancel()
			delete(ct.pending, key)
		}
	}
	ct.mu.Unlock()

	for _, c := range bucket {
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "game archived")
	}
	slog.Info("Game bucket closed", "game_id", gameID, "connections", len(bucket))
}

// Shutdown closes every connection and cancels every pending timer.
func (ct *Controller) Shutdown() {
	ct.mu.Lock()
	conns := make([]*connection, 0)
	for _, bucket := range ct.conns {
		for _, c := range bucket {
			conns = append(conns, c)
		}
	}
	ct.conns = make(map[int64]map[int64]*connection)
	for key, cancel := range ct.pending {
		cancel()
		delete(ct.pending, key)
	}
	ct.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ActiveConnections reports the number of live sockets.
func (ct *Controller) ActiveConnections() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	n := 0
	for _, bucket := range ct.conns {
		n += len(bucket)
	}
	return n
}
