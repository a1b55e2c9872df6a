package server

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tetris-server/internal/protocol"
)

type LobbyStatus string

const (
	// StatusForming: one player, waiting for an opponent.
	StatusForming LobbyStatus = "forming"
	// StatusFull: two players, not everyone ready yet.
	StatusFull LobbyStatus = "full"
	// StatusInGame: game_start has been broadcast.
	StatusInGame LobbyStatus = "in_game"
)

// Lobby groups up to two players negotiating and then playing one match.
// Always accessed through LobbyManager under its lock.
type Lobby struct {
	ID        string
	Host      string
	Players   []string // join order; first is player1
	Roles     map[string]string
	Ready     map[string]bool
	Status    LobbyStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LobbyView is an immutable copy of one lobby's state, snapshotted under the
// manager lock. Handlers broadcast from views, never from live lobbies, so
// membership iteration cannot race a concurrent join/leave.
type LobbyView struct {
	ID      string
	Host    string
	Status  LobbyStatus
	Players []string
	Roles   map[string]string
	Ready   map[string]bool
}

// Membership converts the view into the wire-level maps carried by
// player_joined/ready_update/game_start/player_left events.
func (v LobbyView) Membership() protocol.Membership {
	return protocol.Membership{
		Players: append([]string(nil), v.Players...),
		Roles:   copyRoles(v.Roles),
		Ready:   copyReady(v.Ready),
	}
}

// LobbyManager owns every lobby and the transitions between lobby states.
// All read-then-write operations run under one mutex; callers never touch
// the maps directly.
type LobbyManager struct {
	lobbies map[string]*Lobby
	nextID  int64 // monotonic; dissolved ids are never handed out again
	mu      sync.RWMutex
}

func NewLobbyManager() *LobbyManager {
	return &LobbyManager{
		lobbies: make(map[string]*Lobby),
		nextID:  1,
	}
}

// Create allocates a new lobby with username as host and player1.
func (lm *LobbyManager) Create(username string) (LobbyView, error) {
	if err := ValidateUsername(username); err != nil {
		return LobbyView{}, err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	id := strconv.FormatInt(lm.nextID, 10)
	lm.nextID++

	now := time.Now()
	lobby := &Lobby{
		ID:        id,
		Host:      username,
		Players:   []string{username},
		Roles:     map[string]string{username: protocol.RolePlayer1},
		Ready:     map[string]bool{username: false},
		Status:    StatusForming,
		CreatedAt: now,
		UpdatedAt: now,
	}
	lm.lobbies[id] = lobby

	return snapshotLobby(lobby), nil
}

// Join appends username to the lobby if there is room. The joiner takes
// whichever role slot is free, so a brand-new join after a mid-lobby leave
// still ends up with exactly one player1 and one player2.
func (lm *LobbyManager) Join(lobbyID, username string) (LobbyView, error) {
	if err := ValidateUsername(username); err != nil {
		return LobbyView{}, err
	}
	lobbyID = NormalizeLobbyID(lobbyID)
	if err := ValidateLobbyID(lobbyID); err != nil {
		return LobbyView{}, err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lobby, exists := lm.lobbies[lobbyID]
	if !exists {
		return LobbyView{}, errors.New("LOBBY_NOT_FOUND: Lobby is full or does not exist")
	}
	if len(lobby.Players) >= protocol.MaxPlayers {
		return LobbyView{}, errors.New("LOBBY_FULL: Lobby is full or does not exist")
	}
	if _, taken := lobby.Roles[username]; taken {
		return LobbyView{}, errors.New("USERNAME_TAKEN: Username already in this lobby")
	}

	lobby.Players = append(lobby.Players, username)
	lobby.Roles[username] = freeRole(lobby.Roles)
	lobby.Ready[username] = false
	lobby.Status = StatusFull
	lobby.UpdatedAt = time.Now()

	return snapshotLobby(lobby), nil
}

// ToggleReady flips username's ready flag. It reports started=true exactly
// when the toggle transitions the lobby into the all-ready state with two
// players present; the caller broadcasts game_start for that transition and
// ready_update otherwise. Re-toggling after game_start never re-fires the
// start (the lobby is already in_game).
func (lm *LobbyManager) ToggleReady(lobbyID, username string) (view LobbyView, started bool, err error) {
	lobbyID = NormalizeLobbyID(lobbyID)

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lobby, exists := lm.lobbies[lobbyID]
	if !exists {
		return LobbyView{}, false, errors.New("LOBBY_NOT_FOUND: Lobby does not exist")
	}
	if _, member := lobby.Ready[username]; !member {
		return LobbyView{}, false, errors.New("NOT_IN_LOBBY: Player is not in this lobby")
	}

	lobby.Ready[username] = !lobby.Ready[username]
	lobby.UpdatedAt = time.Now()

	if lobby.Status != StatusInGame && len(lobby.Players) == protocol.MaxPlayers && allReady(lobby.Ready) {
		lobby.Status = StatusInGame
		started = true
	}

	return snapshotLobby(lobby), started, nil
}

// Leave removes username from the lobby. The same path serves explicit
// leave_lobby and disconnect cleanup. Returns dissolved=true when the last
// player left and the lobby was deleted; its id is retired for good.
func (lm *LobbyManager) Leave(lobbyID, username string) (view LobbyView, dissolved bool, err error) {
	lobbyID = NormalizeLobbyID(lobbyID)

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lobby, exists := lm.lobbies[lobbyID]
	if !exists {
		return LobbyView{}, false, errors.New("LOBBY_NOT_FOUND: Lobby does not exist")
	}
	if _, member := lobby.Roles[username]; !member {
		return LobbyView{}, false, errors.New("NOT_IN_LOBBY: Player is not in this lobby")
	}

	for i, p := range lobby.Players {
		if p == username {
			lobby.Players = append(lobby.Players[:i], lobby.Players[i+1:]...)
			break
		}
	}
	delete(lobby.Roles, username)
	delete(lobby.Ready, username)
	lobby.UpdatedAt = time.Now()

	if len(lobby.Players) == 0 {
		delete(lm.lobbies, lobbyID)
		return LobbyView{}, true, nil
	}

	// One player remains: the lobby is joinable again. A leave mid-match also
	// clears the survivor's ready flag so the ready gate can fire a fresh
	// game_start once a new opponent readies up.
	if lobby.Status == StatusInGame {
		for p := range lobby.Ready {
			lobby.Ready[p] = false
		}
	}
	lobby.Status = StatusForming
	if lobby.Host == username {
		lobby.Host = lobby.Players[0]
	}

	return snapshotLobby(lobby), false, nil
}

// Get returns a point-in-time view of one lobby.
func (lm *LobbyManager) Get(lobbyID string) (LobbyView, error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	lobby, exists := lm.lobbies[NormalizeLobbyID(lobbyID)]
	if !exists {
		return LobbyView{}, errors.New("LOBBY_NOT_FOUND: Lobby does not exist")
	}
	return snapshotLobby(lobby), nil
}

// List summarizes every lobby for the lobby browser, ordered by id.
func (lm *LobbyManager) List() []protocol.LobbySummary {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	summaries := make([]protocol.LobbySummary, 0, len(lm.lobbies))
	for _, lobby := range lm.lobbies {
		summaries = append(summaries, protocol.LobbySummary{
			ID:         lobby.ID,
			Host:       lobby.Host,
			Players:    len(lobby.Players),
			MaxPlayers: protocol.MaxPlayers,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		a, _ := strconv.ParseInt(summaries[i].ID, 10, 64)
		b, _ := strconv.ParseInt(summaries[j].ID, 10, 64)
		return a < b
	})
	return summaries
}

func snapshotLobby(lobby *Lobby) LobbyView {
	return LobbyView{
		ID:      lobby.ID,
		Host:    lobby.Host,
		Status:  lobby.Status,
		Players: append([]string(nil), lobby.Players...),
		Roles:   copyRoles(lobby.Roles),
		Ready:   copyReady(lobby.Ready),
	}
}

// freeRole picks the positional role slot not currently held. player1 when
// the lobby is empty or player1 left earlier, player2 otherwise.
func freeRole(roles map[string]string) string {
	for _, r := range roles {
		if r == protocol.RolePlayer1 {
			return protocol.RolePlayer2
		}
	}
	return protocol.RolePlayer1
}

func allReady(ready map[string]bool) bool {
	for _, ok := range ready {
		if !ok {
			return false
		}
	}
	return len(ready) > 0
}

func copyRoles(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyReady(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ValidateUsername checks username requirements.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("USERNAME_INVALID: Username cannot be empty")
	}
	if len(username) > 20 {
		return errors.New("USERNAME_INVALID: Username too long (max 20 characters)")
	}
	return nil
}
