package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"tetris-server/internal/protocol"
)

// maxChatHistory bounds the retained chat lines; older lines are dropped.
const maxChatHistory = 10

// mirror is the client-side copy of lobby and opponent state. The receive
// loop is the only writer; accessors copy out under the read lock so the
// game loop never observes a partially applied event.
type mirror struct {
	mu sync.RWMutex

	username string // this player's name, pinned by the last create/join

	lobbyID string
	role    string
	players []string
	roles   map[string]string
	ready   map[string]bool

	gameStarted bool
	opponent    *protocol.Snapshot
	gameOver    *protocol.OpponentGameOverEvent

	chat        []string
	lobbies     []protocol.LobbySummary
	leaderboard []protocol.LeaderboardEntry

	joinError string
	lastError string
}

func (m *mirror) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobbyID = ""
	m.role = ""
	m.players = nil
	m.roles = nil
	m.ready = nil
	m.gameStarted = false
	m.opponent = nil
	m.gameOver = nil
	m.chat = nil
	m.joinError = ""
}

func (m *mirror) apply(msg serverEnvelope) {
	switch msg.Type {
	case protocol.EvtLobbyCreated:
		var evt protocol.LobbyCreatedEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.mu.Lock()
		m.lobbyID = evt.LobbyID
		m.role = evt.Role
		m.gameStarted = false
		m.opponent = nil
		m.gameOver = nil
		m.mu.Unlock()

	case protocol.EvtJoinFailed:
		var evt protocol.JoinFailedEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.mu.Lock()
		m.joinError = evt.Message
		m.mu.Unlock()

	case protocol.EvtPlayerJoined:
		var evt protocol.PlayerJoinedEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.applyMembership(evt.LobbyID, evt.Membership)

	case protocol.EvtReadyUpdate:
		var evt protocol.ReadyUpdateEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.applyMembership(evt.LobbyID, evt.Membership)

	case protocol.EvtGameStart:
		var evt protocol.GameStartEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.applyMembership(evt.LobbyID, evt.Membership)
		m.mu.Lock()
		m.gameStarted = true
		m.mu.Unlock()

	case protocol.EvtPlayerLeft:
		var evt protocol.PlayerLeftEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.applyMembership(evt.LobbyID, evt.Membership)
		m.mu.Lock()
		m.gameStarted = false
		m.opponent = nil
		m.mu.Unlock()

	case protocol.EvtLobbyList:
		var evt protocol.LobbyListEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.mu.Lock()
		m.lobbies = evt.Lobbies
		m.mu.Unlock()

	case protocol.EvtChatMessage:
		var evt protocol.ChatMessageEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.mu.Lock()
		m.chat = append(m.chat, fmt.Sprintf("%s: %s", evt.Username, evt.Message))
		if len(m.chat) > maxChatHistory {
			m.chat = m.chat[len(m.chat)-maxChatHistory:]
		}
		m.mu.Unlock()

	case protocol.EvtGameUpdate:
		var evt protocol.GameUpdateEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		// Replace wholesale: the snapshot is self-contained, so a late
		// arrival simply loses to the next one.
		snap := evt.Snapshot.Clone()
		m.mu.Lock()
		m.opponent = &snap
		m.mu.Unlock()

	case protocol.EvtOpponentGameOver:
		var evt protocol.OpponentGameOverEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.mu.Lock()
		m.gameOver = &evt
		m.mu.Unlock()

	case protocol.EvtLeaderboard:
		var evt protocol.LeaderboardEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.mu.Lock()
		m.leaderboard = evt.Entries
		m.mu.Unlock()

	case protocol.EvtError:
		var evt protocol.ErrorEvent
		if json.Unmarshal(msg.Payload, &evt) != nil {
			return
		}
		m.mu.Lock()
		m.lastError = evt.Message
		m.mu.Unlock()
	}
}

func (m *mirror) applyMembership(lobbyID string, ms protocol.Membership) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobbyID = lobbyID
	m.players = append([]string(nil), ms.Players...)
	m.roles = copyStringMap(ms.Roles)
	m.ready = copyBoolMap(ms.Ready)
	// Membership events carry the authoritative roles map, so this also
	// tracks the slot handed out on a free-role rejoin.
	m.role = ms.Roles[m.username]
}

func (m *mirror) setUsername(username string) {
	m.mu.Lock()
	m.username = username
	m.mu.Unlock()
}

func (m *mirror) clearJoinError() {
	m.mu.Lock()
	m.joinError = ""
	m.mu.Unlock()
}

func (m *mirror) LobbyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lobbyID
}

func (m *mirror) Role() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

func (m *mirror) Members() protocol.Membership {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return protocol.Membership{
		Players: append([]string(nil), m.players...),
		Roles:   copyStringMap(m.roles),
		Ready:   copyBoolMap(m.ready),
	}
}

func (m *mirror) GameStarted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gameStarted
}

func (m *mirror) Opponent() (protocol.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.opponent == nil {
		return protocol.Snapshot{}, false
	}
	return m.opponent.Clone(), true
}

func (m *mirror) OpponentResult() (protocol.OpponentGameOverEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.gameOver == nil {
		return protocol.OpponentGameOverEvent{}, false
	}
	return *m.gameOver, true
}

func (m *mirror) ChatHistory() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.chat...)
}

func (m *mirror) Lobbies() []protocol.LobbySummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]protocol.LobbySummary(nil), m.lobbies...)
}

func (m *mirror) JoinError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.joinError
}

func (m *mirror) Leaderboard() []protocol.LeaderboardEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]protocol.LeaderboardEntry(nil), m.leaderboard...)
}

func (m *mirror) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyBoolMap(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
