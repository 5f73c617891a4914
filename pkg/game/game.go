// Package game implements the GameSystem: the state machine of one game
// session. It owns the roster, the host identity, the lifecycle status
// and every chat attached to the game, and emits a typed event for each
// observable change.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tabletale/tabletale/pkg/chat"
	"github.com/tabletale/tabletale/pkg/database"
	"github.com/tabletale/tabletale/pkg/models"
	"github.com/tabletale/tabletale/pkg/system"
)

// Kind is the system-index kind for game systems.
const Kind = "GameSystem"

// stateSegmentLimit is how many trailing messages GetState returns per
// chat.
const stateSegmentLimit = 100

// playerState is the in-memory roster entry for one user. The chat
// handles are nil for spectators.
type playerState struct {
	user        models.UserOut
	isReady     bool
	isSpectator bool
	isJoined    bool
	joinedAt    time.Time

	cancelKick context.CancelFunc

	characterChat *chat.System
	gameChat      *chat.System
	adviceChat    *chat.System
}

// System is one live game session.
//
// Mutating operations lock mu once at the public entry point; internal
// helpers carry the Locked suffix and require the lock to be held. This
// replaces the reentrant locking a call chain like StartGame →
// makeSpectator would otherwise need.
type System struct {
	*system.System[Event]

	db        database.Querier
	chars     CharacterStore
	kickGrace time.Duration

	mu               sync.Mutex
	code             string
	name             string
	public           bool
	maxPlayers       int
	status           models.GameStatus
	hostID           int64
	world            models.ShortWorldOut
	createdAt        time.Time
	numNonSpectators int
	players          map[int64]*playerState
	roomChat         *chat.System
	terminating      bool
}

// CreateNew builds the live system for a persisted game row. It loads
// the room chat, hydrates the roster from the row, creates per-player
// chats for joined non-spectators and emits the initial GameStatusEvent.
func CreateNew(
	ctx context.Context,
	db database.Querier,
	chars CharacterStore,
	kickGrace time.Duration,
	out models.GameOut,
) (*System, error) {
	base, err := system.New[Event](Kind, out.ID)
	if err != nil {
		return nil, models.ServerError("game system already live", err)
	}

	s := &System{
		System:     base,
		db:         db,
		chars:      chars,
		kickGrace:  kickGrace,
		code:       out.Code,
		name:       out.Name,
		public:     out.Public,
		maxPlayers: out.MaxPlayers,
		status:     out.Status,
		hostID:     out.HostID,
		world:      out.World,
		createdAt:  out.CreatedAt,
		players:    make(map[int64]*playerState),
	}

	room, err := chat.CreateOrLoad(ctx, db, out.ID, models.ChatTypeRoom, nil, models.ChatInterfaceFull)
	if err != nil {
		_ = base.Stop(ctx)
		return nil, err
	}
	s.roomChat = room
	if err := s.forwardChat(room, nil); err != nil {
		_ = room.Stop(ctx)
		_ = base.Stop(ctx)
		return nil, models.ServerError("failed to attach room chat", err)
	}

	for _, p := range out.Players {
		ps := &playerState{
			user:        p.User,
			isReady:     p.IsReady,
			isSpectator: p.IsSpectator,
			isJoined:    p.IsJoined,
			joinedAt:    p.JoinedAt,
		}
		s.players[p.User.ID] = ps
		if !ps.isSpectator {
			s.numNonSpectators++
		}
		if err := s.updateChatsForPlayerLocked(ctx, ps); err != nil {
			_ = s.Stop(ctx)
			return nil, err
		}
	}

	slog.Info("Game system started",
		"game_id", out.ID, "code", out.Code, "status", out.Status, "players", len(out.Players))

	s.Emit(GameStatusEvent{EventBase: EventBase{GameID: out.ID}, Status: s.status})
	return s, nil
}

// forwardChat republishes every event of c as a GameChatEvent.
func (s *System) forwardChat(c *chat.System, ownerID *int64) error {
	ch, err := c.Listen()
	if err != nil {
		return err
	}
	return s.AddPipe(func(ctx context.Context) error {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return c.Err()
				}
				s.Emit(GameChatEvent{
					EventBase: EventBase{GameID: s.ID()},
					ChatID:    c.ID(),
					OwnerID:   ownerID,
					InnerType: ev.Name(),
					Inner:     ev,
				})
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// Stop stops every owned chat, then the system itself. Idempotent.
func (s *System) Stop(ctx context.Context) error {
	s.mu.Lock()
	chats := s.allChatsLocked()
	s.mu.Unlock()

	for _, c := range chats {
		if err := c.Stop(ctx); err != nil {
			slog.Warn("Failed to stop chat", "game_id", s.ID(), "chat_id", c.ID(), "error", err)
		}
	}
	return s.System.Stop(ctx)
}

func (s *System) allChatsLocked() []*chat.System {
	chats := make([]*chat.System, 0, 1+3*len(s.players))
	if s.roomChat != nil {
		chats = append(chats, s.roomChat)
	}
	for _, p := range s.players {
		for _, c := range []*chat.System{p.characterChat, p.gameChat, p.adviceChat} {
			if c != nil {
				chats = append(chats, c)
			}
		}
	}
	return chats
}

// ConnectPlayer adds a user to the roster, or rejoins them. Connecting
// an already-joined player is a no-op. Rejoining cancels any pending
// kick before returning.
func (s *System) ConnectPlayer(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectPlayerLocked(ctx, userID)
}

func (s *System) connectPlayerLocked(ctx context.Context, userID int64) error {
	if p, ok := s.players[userID]; ok {
		if p.isJoined {
			return nil
		}
		if _, err := s.db.Exec(ctx,
			`UPDATE game_players SET is_joined = true WHERE game_id = $1 AND user_id = $2`,
			s.ID(), userID,
		); err != nil {
			return models.ServerError("failed to rejoin player", err)
		}
		p.isJoined = true
		if p.cancelKick != nil {
			p.cancelKick()
			p.cancelKick = nil
		}
		slog.Info("Player rejoined", "game_id", s.ID(), "user_id", userID)
		s.Emit(PlayerJoinedEvent{EventBase: EventBase{GameID: s.ID()}, Player: s.playerOutLocked(p)})
		return nil
	}

	var user models.UserOut
	err := s.db.QueryRow(ctx,
		`SELECT id, name, created_at, deleted FROM users WHERE id = $1 AND NOT deleted`,
		userID,
	).Scan(&user.ID, &user.Name, &user.CreatedAt, &user.Deleted)
	if err != nil {
		return models.NewServiceError(models.CodeUserNotFound, "User not found")
	}

	// Late joiners and overflow joiners come in as spectators.
	spectator := s.status != models.GameStatusWaiting || s.numNonSpectators >= s.maxPlayers

	p := &playerState{
		user:        user,
		isSpectator: spectator,
		isJoined:    true,
		joinedAt:    time.Now(),
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO game_players (game_id, user_id, is_ready, is_spectator, is_joined, joined_at)
		 VALUES ($1, $2, false, $3, true, $4)`,
		s.ID(), userID, spectator, p.joinedAt,
	); err != nil {
		return models.ServerError("failed to add player", err)
	}

	s.players[userID] = p
	if !spectator {
		s.numNonSpectators++
	}
	if err := s.updateChatsForPlayerLocked(ctx, p); err != nil {
		return err
	}

	slog.Info("Player joined", "game_id", s.ID(), "user_id", userID, "spectator", spectator)
	s.Emit(PlayerJoinedEvent{EventBase: EventBase{GameID: s.ID()}, Player: s.playerOutLocked(p)})
	return nil
}

// DisconnectPlayer removes a spectator immediately, or marks a player
// as left and schedules the grace-period kick. Only the host or the
// player themself may request it. kickImmediately runs the kick inline
// instead of scheduling it.
func (s *System) DisconnectPlayer(ctx context.Context, playerID int64, kickImmediately bool, requesterID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectPlayerLocked(ctx, playerID, kickImmediately, requesterID)
}

func (s *System) disconnectPlayerLocked(ctx context.Context, playerID int64, kickImmediately bool, requesterID *int64) error {
	if requesterID != nil && *requesterID != playerID && *requesterID != s.hostID {
		return models.NewServiceError(models.CodeNotHost, "Only the host may remove other players")
	}
	p, ok := s.players[playerID]
	if !ok {
		return models.NewServiceError(models.CodePlayerNotFound, "Player not found")
	}
	// A player already in their grace window has nothing left to do
	// here; the armed kick task finishes the removal.
	if !p.isSpectator && !p.isJoined {
		return nil
	}
	hostKick := requesterID != nil && *requesterID != playerID

	if p.isSpectator {
		if err := s.removePlayerLocked(ctx, playerID); err != nil {
			return err
		}
		s.emitDepartureLocked(playerID, hostKick)
		return s.afterRemovalLocked(ctx, playerID)
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE game_players SET is_joined = false WHERE game_id = $1 AND user_id = $2`,
		s.ID(), playerID,
	); err != nil {
		return models.ServerError("failed to disconnect player", err)
	}
	p.isJoined = false
	s.emitDepartureLocked(playerID, hostKick)

	if kickImmediately {
		return s.finalizeKickLocked(ctx, playerID)
	}
	s.scheduleKickLocked(p, playerID)
	return nil
}

func (s *System) emitDepartureLocked(playerID int64, hostKick bool) {
	if hostKick {
		slog.Info("Player kicked", "game_id", s.ID(), "user_id", playerID)
		s.Emit(PlayerKickedEvent{EventBase: EventBase{GameID: s.ID()}, PlayerID: playerID})
		return
	}
	slog.Info("Player left", "game_id", s.ID(), "user_id", playerID)
	s.Emit(PlayerLeftEvent{EventBase: EventBase{GameID: s.ID()}, PlayerID: playerID})
}

// scheduleKickLocked arms the grace-period kick task for a disconnected
// player. ConnectPlayer cancels it on rejoin; cancellation is silent.
func (s *System) scheduleKickLocked(p *playerState, playerID int64) {
	kctx, cancel := context.WithCancel(context.Background())
	p.cancelKick = cancel

	go func() {
		timer := time.NewTimer(s.kickGrace)
		defer timer.Stop()
		select {
		case <-kctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		// The player may have rejoined between timer fire and lock
		// acquisition.
		if kctx.Err() != nil {
			return
		}
		if err := s.finalizeKickLocked(context.Background(), playerID); err != nil {
			slog.Error("Kick task failed", "game_id", s.ID(), "user_id", playerID, "error", err)
		}
	}()
}

// finalizeKickLocked deletes a disconnected player for good: row, chats
// and roster entry. Afterwards it terminates an empty game or migrates
// the host off the removed player.
func (s *System) finalizeKickLocked(ctx context.Context, playerID int64) error {
	p, ok := s.players[playerID]
	if !ok || p.isJoined {
		return nil
	}
	if err := s.removePlayerLocked(ctx, playerID); err != nil {
		return err
	}
	return s.afterRemovalLocked(ctx, playerID)
}

// removePlayerLocked deletes the roster row, stops the player's chats
// and drops the in-memory entry.
func (s *System) removePlayerLocked(ctx context.Context, playerID int64) error {
	p := s.players[playerID]
	if p == nil {
		return nil
	}
	tag, err := s.db.Exec(ctx,
		`DELETE FROM game_players WHERE game_id = $1 AND user_id = $2`,
		s.ID(), playerID,
	)
	if err != nil {
		return models.ServerError("failed to remove player", err)
	}
	if tag.RowsAffected() != 1 {
		return models.ServerError("player row missing on removal",
			fmt.Errorf("game %d user %d: %d rows deleted", s.ID(), playerID, tag.RowsAffected()))
	}

	if p.cancelKick != nil {
		p.cancelKick()
		p.cancelKick = nil
	}
	if !p.isSpectator {
		s.numNonSpectators--
	}
	s.stopPlayerChatsLocked(ctx, p)
	delete(s.players, playerID)
	return nil
}

// afterRemovalLocked restores the host invariant after a roster entry
// disappeared: terminate when nobody is left, promote when the host
// left.
func (s *System) afterRemovalLocked(ctx context.Context, removedID int64) error {
	if s.terminating {
		return nil
	}
	if len(s.players) == 0 {
		return s.terminateLocked(ctx)
	}
	if s.hostID != removedID {
		return nil
	}
	next, ok := pickNextHost(s.players)
	if !ok {
		return s.terminateLocked(ctx)
	}
	return s.setHostLocked(ctx, next)
}

// pickNextHost returns the joined player with the earliest join time,
// preferring non-spectators.
func pickNextHost(players map[int64]*playerState) (int64, bool) {
	var (
		bestID int64
		best   *playerState
	)
	better := func(p, q *playerState) bool {
		if q == nil {
			return true
		}
		if p.isSpectator != q.isSpectator {
			return !p.isSpectator
		}
		return p.joinedAt.Before(q.joinedAt)
	}
	for id, p := range players {
		if !p.isJoined {
			continue
		}
		if better(p, best) {
			bestID, best = id, p
		}
	}
	return bestID, best != nil
}

func (s *System) setHostLocked(ctx context.Context, newHostID int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE games SET host_id = $1 WHERE id = $2`,
		newHostID, s.ID(),
	)
	if err != nil {
		return models.ServerError("failed to move host", err)
	}
	if tag.RowsAffected() != 1 {
		return models.ServerError("game row missing on host move",
			fmt.Errorf("game %d: %d rows updated", s.ID(), tag.RowsAffected()))
	}
	old := s.hostID
	s.hostID = newHostID
	slog.Info("Host promoted", "game_id", s.ID(), "old_host", old, "new_host", newHostID)
	s.Emit(PlayerPromotedEvent{EventBase: EventBase{GameID: s.ID()}, OldHost: old, NewHost: newHostID})
	return nil
}

// MakeSpectator flips a roster entry between player and spectator. Host
// or self only. Promoting a spectator into a full game fails GameFull.
func (s *System) MakeSpectator(ctx context.Context, playerID int64, spectate bool, requesterID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.makeSpectatorLocked(ctx, playerID, spectate, requesterID)
}

func (s *System) makeSpectatorLocked(ctx context.Context, playerID int64, spectate bool, requesterID *int64) error {
	if requesterID != nil && *requesterID != playerID && *requesterID != s.hostID {
		return models.NewServiceError(models.CodeNotHost, "Only the host may change other players")
	}
	p, ok := s.players[playerID]
	if !ok {
		return models.NewServiceError(models.CodePlayerNotFound, "Player not found")
	}
	if p.isSpectator == spectate {
		return nil
	}
	if !spectate && s.numNonSpectators >= s.maxPlayers {
		return models.NewServiceError(models.CodeGameFull, "Game is full")
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE game_players SET is_spectator = $1, is_ready = false WHERE game_id = $2 AND user_id = $3`,
		spectate, s.ID(), playerID,
	); err != nil {
		return models.ServerError("failed to update spectator flag", err)
	}
	p.isSpectator = spectate
	p.isReady = false
	if spectate {
		s.numNonSpectators--
	} else {
		s.numNonSpectators++
	}
	if err := s.updateChatsForPlayerLocked(ctx, p); err != nil {
		return err
	}

	s.Emit(PlayerSpectatorEvent{EventBase: EventBase{GameID: s.ID()}, PlayerID: playerID, IsSpectator: spectate})
	return nil
}

// MakeHost transfers the host role. Host only.
func (s *System) MakeHost(ctx context.Context, newHostID int64, requesterID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requesterID != nil && *requesterID != s.hostID {
		return models.NewServiceError(models.CodeNotHost, "Only the host may promote players")
	}
	p, ok := s.players[newHostID]
	if !ok || !p.isJoined {
		return models.NewServiceError(models.CodeGameNewHostNotFound, "New host is not in the game")
	}
	if s.hostID == newHostID {
		return nil
	}
	return s.setHostLocked(ctx, newHostID)
}

// UpdateSettings changes name/public/max_players while the game is
// waiting. Shrinking max_players below the current player count fails.
func (s *System) UpdateSettings(ctx context.Context, public *bool, name *string, maxPlayers *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.GameStatusWaiting {
		return models.NewServiceError(models.CodeGameAlreadyStarted, "Game has already started")
	}
	if maxPlayers != nil && *maxPlayers < s.numNonSpectators {
		return models.NewServiceError(models.CodeGameMaxPlayersTooSmall,
			"max_players may not go below the current player count")
	}

	newName, newPublic, newMax := s.name, s.public, s.maxPlayers
	if name != nil {
		newName = *name
	}
	if public != nil {
		newPublic = *public
	}
	if maxPlayers != nil {
		newMax = *maxPlayers
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE games SET name = $1, public = $2, max_players = $3 WHERE id = $4`,
		newName, newPublic, newMax, s.ID(),
	)
	if err != nil {
		return models.ServerError("failed to update settings", err)
	}
	if tag.RowsAffected() != 1 {
		return models.ServerError("game row missing on settings update",
			fmt.Errorf("game %d: %d rows updated", s.ID(), tag.RowsAffected()))
	}

	s.name, s.public, s.maxPlayers = newName, newPublic, newMax
	s.Emit(GameSettingsUpdateEvent{
		EventBase:  EventBase{GameID: s.ID()},
		GameName:   s.name,
		Public:     s.public,
		MaxPlayers: s.maxPlayers,
	})
	return nil
}

// SetReady flips a player's ready flag. Readying up requires the
// player's character profile to exist; if it doesn't, a notice is
// posted into their character-creation chat and CharacterNotReady is
// returned.
func (s *System) SetReady(ctx context.Context, userID int64, ready bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[userID]
	if !ok || !p.isJoined || p.isSpectator {
		return models.NewServiceError(models.CodePlayerNotInGame, "Player is not in the game")
	}

	if ready {
		has, err := s.chars.HasCharacter(ctx, s.db, s.ID(), userID)
		if err != nil {
			return err
		}
		if !has {
			if p.characterChat != nil {
				if _, err := p.characterChat.SendMessage(ctx, s.db, models.MessageKindSystem,
					"Finish creating your character before readying up.", nil, nil, nil, nil); err != nil {
					slog.Warn("Failed to post ready notice", "game_id", s.ID(), "user_id", userID, "error", err)
				}
			}
			return models.NewServiceError(models.CodeCharacterNotReady, "Character is not ready")
		}
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE game_players SET is_ready = $1 WHERE game_id = $2 AND user_id = $3`,
		ready, s.ID(), userID,
	); err != nil {
		return models.ServerError("failed to update ready flag", err)
	}
	p.isReady = ready

	s.Emit(PlayerReadyEvent{EventBase: EventBase{GameID: s.ID()}, PlayerID: userID, Ready: ready})
	return nil
}

// StartGame moves the game from waiting to playing. Without force, any
// joined non-spectator who is not ready blocks the start; with force,
// each of them is demoted to spectator first.
func (s *System) StartGame(ctx context.Context, force bool, requesterID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requesterID != nil && *requesterID != s.hostID {
		return models.NewServiceError(models.CodeNotHost, "Only the host may start the game")
	}
	if s.status != models.GameStatusWaiting {
		return models.NewServiceError(models.CodeGameAlreadyStarted, "Game has already started")
	}

	var notReady []int64
	for id, p := range s.players {
		if p.isJoined && !p.isSpectator && !p.isReady {
			notReady = append(notReady, id)
		}
	}
	if len(notReady) > 0 {
		if !force {
			sort.Slice(notReady, func(i, j int) bool { return notReady[i] < notReady[j] })
			return models.NewServiceErrorWithDetails(models.CodePlayerNotReady,
				"Some players are not ready", map[string]any{"playerIds": notReady})
		}
		for _, id := range notReady {
			if err := s.makeSpectatorLocked(ctx, id, true, nil); err != nil {
				return err
			}
		}
	}

	return s.setStatusLocked(ctx, models.GameStatusPlaying)
}

// FinishGame moves the game from playing to finished. Already finished
// is a no-op.
func (s *System) FinishGame(ctx context.Context, requesterID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requesterID != nil && *requesterID != s.hostID {
		return models.NewServiceError(models.CodeNotHost, "Only the host may finish the game")
	}
	if s.status == models.GameStatusFinished {
		return nil
	}
	if s.status != models.GameStatusPlaying {
		return models.NewServiceError(models.CodeGameNotFinished, "Game is not in progress")
	}
	return s.setStatusLocked(ctx, models.GameStatusFinished)
}

func (s *System) setStatusLocked(ctx context.Context, status models.GameStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE games SET status = $1 WHERE id = $2`,
		status, s.ID(),
	)
	if err != nil {
		return models.ServerError("failed to update status", err)
	}
	if tag.RowsAffected() != 1 {
		return models.ServerError("game row missing on status update",
			fmt.Errorf("game %d: %d rows updated", s.ID(), tag.RowsAffected()))
	}
	s.status = status
	slog.Info("Game status changed", "game_id", s.ID(), "status", status)
	s.Emit(GameStatusEvent{EventBase: EventBase{GameID: s.ID()}, Status: status})
	return nil
}

// Terminate archives the game: every player is removed, the status
// moves to archived and the final GameStatusEvent is emitted.
// Idempotent.
func (s *System) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminateLocked(ctx)
}

func (s *System) terminateLocked(ctx context.Context) error {
	if s.terminating || s.status == models.GameStatusArchived {
		return nil
	}
	s.terminating = true

	for id := range s.players {
		if err := s.removePlayerLocked(ctx, id); err != nil {
			return err
		}
		s.Emit(PlayerLeftEvent{EventBase: EventBase{GameID: s.ID()}, PlayerID: id})
	}
	return s.setStatusLocked(ctx, models.GameStatusArchived)
}

// GetState snapshots the game for a joined player: the game projection,
// the trailing room-chat segment, the requester's character-creation
// chat, and (once the game is underway) everyone's game and advice
// chats.
func (s *System) GetState(ctx context.Context, requesterID int64) (models.StateOut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[requesterID]
	if !ok || !p.isJoined {
		return models.StateOut{}, models.NewServiceError(models.CodePlayerNotInGame, "Player is not in the game")
	}

	room, err := s.roomChat.GetMessages(stateSegmentLimit, nil, nil)
	if err != nil {
		return models.StateOut{}, err
	}

	out := models.StateOut{
		Game:     s.gameOutLocked(),
		Status:   s.status,
		RoomChat: room,
	}

	if p.characterChat != nil {
		seg, err := p.characterChat.GetMessages(stateSegmentLimit, nil, nil)
		if err != nil {
			return models.StateOut{}, err
		}
		out.CharacterCreationChat = &seg
	}

	if s.status != models.GameStatusWaiting {
		for _, other := range s.sortedPlayersLocked() {
			if other.isSpectator {
				continue
			}
			for _, c := range []*chat.System{other.gameChat, other.adviceChat} {
				if c == nil {
					continue
				}
				seg, err := c.GetMessages(stateSegmentLimit, nil, nil)
				if err != nil {
					return models.StateOut{}, err
				}
				if c.Type == models.ChatTypeGame {
					out.PlayerChats = append(out.PlayerChats, seg)
				} else {
					out.AdviceChats = append(out.AdviceChats, seg)
				}
			}
		}
	}
	return out, nil
}

// SendMessage posts a player message into one of the game's chats after
// access checks: the sender must be a joined player, owner-restricted
// chats accept only their owner or the host, and the chat's interface
// must be writable.
func (s *System) SendMessage(
	ctx context.Context,
	senderID, chatID int64,
	text string,
	special *string,
	metadata map[string]any,
) (models.MessageOutWithNeighbors, error) {
	s.mu.Lock()

	p, ok := s.players[senderID]
	if !ok || !p.isJoined {
		s.mu.Unlock()
		return models.MessageOutWithNeighbors{}, models.NewServiceError(models.CodePlayerNotInGame, "Player is not in the game")
	}
	c, found := s.findChatLocked(chatID)
	if !found {
		s.mu.Unlock()
		return models.MessageOutWithNeighbors{}, models.NewServiceError(models.CodeChatNotFound, "Chat not found")
	}
	if c.OwnerID != nil && *c.OwnerID != senderID && senderID != s.hostID {
		s.mu.Unlock()
		return models.MessageOutWithNeighbors{}, models.NewServiceError(models.CodeCannotAccessChat, "Cannot access this chat")
	}
	if !c.Iface.Type.Writable() {
		s.mu.Unlock()
		return models.MessageOutWithNeighbors{}, models.NewServiceError(models.CodeCannotAccessChat, "Chat is read only")
	}
	s.mu.Unlock()

	// The chat serializes its own mutations; holding the game lock
	// across the insert is not needed.
	return c.SendMessage(ctx, s.db, models.MessageKindPlayer, text, &senderID, special, metadata, nil)
}

// GetChatSegment reads a segment of one of the game's chats with the
// same access rules as SendMessage, minus writability.
func (s *System) GetChatSegment(requesterID, chatID int64, limit int, before, after *int64) (models.ChatSegmentOut, error) {
	s.mu.Lock()

	p, ok := s.players[requesterID]
	if !ok || !p.isJoined {
		s.mu.Unlock()
		return models.ChatSegmentOut{}, models.NewServiceError(models.CodePlayerNotInGame, "Player is not in the game")
	}
	c, found := s.findChatLocked(chatID)
	if !found {
		s.mu.Unlock()
		return models.ChatSegmentOut{}, models.NewServiceError(models.CodeChatNotFound, "Chat not found")
	}
	if c.OwnerID != nil && *c.OwnerID != requesterID && requesterID != s.hostID {
		s.mu.Unlock()
		return models.ChatSegmentOut{}, models.NewServiceError(models.CodeCannotAccessChat, "Cannot access this chat")
	}
	s.mu.Unlock()

	return c.GetMessages(limit, before, after)
}

func (s *System) findChatLocked(chatID int64) (*chat.System, bool) {
	if s.roomChat != nil && s.roomChat.ID() == chatID {
		return s.roomChat, true
	}
	for _, p := range s.players {
		for _, c := range []*chat.System{p.characterChat, p.gameChat, p.adviceChat} {
			if c != nil && c.ID() == chatID {
				return c, true
			}
		}
	}
	return nil, false
}

// updateChatsForPlayerLocked reconciles a roster entry's chat handles
// with their role: joined non-spectators get character-creation, game
// and advice chats; spectators lose them.
func (s *System) updateChatsForPlayerLocked(ctx context.Context, p *playerState) error {
	if p.isSpectator {
		s.stopPlayerChatsLocked(ctx, p)
		return nil
	}
	uid := p.user.ID
	kinds := []struct {
		handle **chat.System
		typ    models.ChatType
	}{
		{&p.characterChat, models.ChatTypeCharacterCreation},
		{&p.gameChat, models.ChatTypeGame},
		{&p.adviceChat, models.ChatTypeAdvice},
	}
	for _, k := range kinds {
		if *k.handle != nil {
			continue
		}
		c, err := chat.CreateOrLoad(ctx, s.db, s.ID(), k.typ, &uid, models.ChatInterfaceFull)
		if err != nil {
			return err
		}
		if err := s.forwardChat(c, &uid); err != nil {
			_ = c.Stop(ctx)
			return models.ServerError("failed to attach player chat", err)
		}
		*k.handle = c
	}
	return nil
}

func (s *System) stopPlayerChatsLocked(ctx context.Context, p *playerState) {
	for _, c := range []*chat.System{p.characterChat, p.gameChat, p.adviceChat} {
		if c == nil {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			slog.Warn("Failed to stop player chat", "game_id", s.ID(), "chat_id", c.ID(), "error", err)
		}
	}
	p.characterChat, p.gameChat, p.adviceChat = nil, nil, nil
}

// Status returns the current lifecycle status.
func (s *System) Status() models.GameStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// HostID returns the current host.
func (s *System) HostID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostID
}

// HasPlayer reports whether the user is on the roster and joined.
func (s *System) HasPlayer(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	return ok && p.isJoined
}

// GameOut snapshots the game projection.
func (s *System) GameOut() models.GameOut {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameOutLocked()
}

func (s *System) gameOutLocked() models.GameOut {
	players := make([]models.PlayerOut, 0, len(s.players))
	for _, p := range s.sortedPlayersLocked() {
		players = append(players, s.playerOutLocked(p))
	}
	return models.GameOut{
		ID:         s.ID(),
		Code:       s.code,
		Name:       s.name,
		Public:     s.public,
		MaxPlayers: s.maxPlayers,
		Status:     s.status,
		HostID:     s.hostID,
		World:      s.world,
		Players:    players,
		CreatedAt:  s.createdAt,
	}
}

func (s *System) sortedPlayersLocked() []*playerState {
	out := make([]*playerState, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].joinedAt.Before(out[j].joinedAt) })
	return out
}

func (s *System) playerOutLocked(p *playerState) models.PlayerOut {
	return models.PlayerOut{
		User:        p.user,
		IsReady:     p.isReady,
		IsHost:      p.user.ID == s.hostID,
		IsSpectator: p.isSpectator,
		IsJoined:    p.isJoined,
		JoinedAt:    p.joinedAt,
	}
}
