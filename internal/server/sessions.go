package server

import (
	"errors"
	"sync"
)

// Session ties an open connection to its lobby identity. Created when the
// player enters a lobby (create_lobby/join_lobby), destroyed on
// leave_lobby or disconnect. A lobby-less connection has no session.
type Session struct {
	ConnectionID string
	Username     string
	LobbyID      string
	Role         string
}

type SessionManager struct {
	sessions map[string]Session // connectionID -> session
	mu       sync.RWMutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]Session),
	}
}

func (sm *SessionManager) Store(session Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[session.ConnectionID] = session
}

func (sm *SessionManager) Get(connectionID string) (Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[connectionID]
	if !exists {
		return Session{}, errors.New("NOT_IN_LOBBY: No active lobby session")
	}
	return session, nil
}

// Remove is used both for explicit leaves and for disconnect cleanup.
func (sm *SessionManager) Remove(connectionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, connectionID)
}

// ConnectionsInLobby returns the connection ids of every member of lobbyID.
func (sm *SessionManager) ConnectionsInLobby(lobbyID string) []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, 2)
	for connID, session := range sm.sessions {
		if session.LobbyID == lobbyID {
			ids = append(ids, connID)
		}
	}
	return ids
}

func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
