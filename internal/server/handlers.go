package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/coder/websocket"

	"tetris-server/internal/protocol"
)

// broadcastWriteTimeout bounds each per-member write during a broadcast so
// one dead socket cannot stall delivery to the other member.
const broadcastWriteTimeout = 5 * time.Second

func (s *Server) handlePing(socket *websocket.Conn, ctx context.Context, connectionID string) {
	response := protocol.ServerMessage{
		Type:    protocol.EvtPong,
		Payload: struct{}{},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send pong to %s: %v", connectionID, err)
	}
}

func (s *Server) handleCreateLobby(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req protocol.CreateLobbyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid create_lobby payload")
		return
	}

	// create_lobby is only valid outside any lobby.
	if _, err := s.sessionManager.Get(connectionID); err == nil {
		s.sendError(socket, ctx, "ALREADY_IN_LOBBY: Leave the current lobby first")
		return
	}

	view, err := s.lobbyManager.Create(req.Username)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.sessionManager.Store(Session{
		ConnectionID: connectionID,
		Username:     req.Username,
		LobbyID:      view.ID,
		Role:         view.Roles[req.Username],
	})

	response := protocol.ServerMessage{
		Type: protocol.EvtLobbyCreated,
		Payload: protocol.LobbyCreatedEvent{
			LobbyID: view.ID,
			Role:    view.Roles[req.Username],
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send lobby_created to %s: %v", connectionID, err)
	}
}

func (s *Server) handleJoinLobby(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req protocol.JoinLobbyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid join_lobby payload")
		return
	}

	if _, err := s.sessionManager.Get(connectionID); err == nil {
		s.sendJoinFailed(socket, ctx, "Already in a lobby")
		return
	}

	view, err := s.lobbyManager.Join(req.LobbyID, req.Username)
	if err != nil {
		// Capacity violation is recoverable: the requester stays connected,
		// lobby-less, and free to retry.
		s.sendJoinFailed(socket, ctx, "Lobby is full or does not exist")
		return
	}

	s.sessionManager.Store(Session{
		ConnectionID: connectionID,
		Username:     req.Username,
		LobbyID:      view.ID,
		Role:         view.Roles[req.Username],
	})

	// Everyone in the lobby, joiner included, gets the full membership maps.
	s.broadcastToLobby(view, protocol.EvtPlayerJoined, protocol.PlayerJoinedEvent{
		LobbyID:    view.ID,
		Username:   req.Username,
		Membership: view.Membership(),
	}, "")
}

func (s *Server) handleReady(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req protocol.ReadyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid ready payload")
		return
	}

	session, err := s.sessionManager.Get(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	view, started, err := s.lobbyManager.ToggleReady(session.LobbyID, session.Username)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	if started {
		// Fires exactly once per transition into the all-ready state.
		s.broadcastToLobby(view, protocol.EvtGameStart, protocol.GameStartEvent{
			LobbyID:    view.ID,
			Membership: view.Membership(),
		}, "")
		return
	}

	s.broadcastToLobby(view, protocol.EvtReadyUpdate, protocol.ReadyUpdateEvent{
		LobbyID:    view.ID,
		Membership: view.Membership(),
	}, "")
}

func (s *Server) handleLeaveLobby(socket *websocket.Conn, ctx context.Context, connectionID string) {
	session, err := s.sessionManager.Get(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	view, dissolved, err := s.lobbyManager.Leave(session.LobbyID, session.Username)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	// The connection stays open and lobby-less; only the session goes away.
	s.sessionManager.Remove(connectionID)

	if !dissolved {
		s.broadcastToLobby(view, protocol.EvtPlayerLeft, protocol.PlayerLeftEvent{
			LobbyID:    view.ID,
			Username:   session.Username,
			Membership: view.Membership(),
		}, "")
	}
}

func (s *Server) handleGetLobbies(socket *websocket.Conn, ctx context.Context, connectionID string) {
	response := protocol.ServerMessage{
		Type: protocol.EvtLobbyList,
		Payload: protocol.LobbyListEvent{
			Lobbies: s.lobbyManager.List(),
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send lobby_list to %s: %v", connectionID, err)
	}
}

func (s *Server) handleChat(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req protocol.ChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid chat payload")
		return
	}

	session, err := s.sessionManager.Get(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	view, err := s.lobbyManager.Get(session.LobbyID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.broadcastToLobby(view, protocol.EvtChatMessage, protocol.ChatMessageEvent{
		Username: session.Username,
		Message:  req.Message,
	}, "")
}

func (s *Server) handleGameUpdate(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req protocol.GameUpdateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid game_update payload")
		return
	}

	session, err := s.sessionManager.Get(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	view, err := s.lobbyManager.Get(session.LobbyID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	// Relay to every member except the sender.
	s.broadcastToLobby(view, protocol.EvtGameUpdate, protocol.GameUpdateEvent{
		Sender:   session.Username,
		Snapshot: req.Snapshot,
	}, session.Username)
}

func (s *Server) handleGameOver(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req protocol.GameOverRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid game_over payload")
		return
	}

	session, err := s.sessionManager.Get(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	if s.scoreStore != nil {
		if err := s.scoreStore.RecordScore(session.Username, req.Score, session.LobbyID); err != nil {
			log.Printf("Failed to record score for %s: %v", session.Username, err)
		}
	}

	view, err := s.lobbyManager.Get(session.LobbyID)
	if err != nil {
		return
	}

	s.broadcastToLobby(view, protocol.EvtOpponentGameOver, protocol.OpponentGameOverEvent{
		Username: session.Username,
		Score:    req.Score,
	}, session.Username)
}

func (s *Server) handleGetLeaderboard(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req protocol.LeaderboardRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid get_leaderboard payload")
			return
		}
	}

	if s.scoreStore == nil {
		s.sendError(socket, ctx, "LEADERBOARD_UNAVAILABLE: No score store configured")
		return
	}

	entries, err := s.scoreStore.TopScores(req.Limit)
	if err != nil {
		log.Printf("Failed to load leaderboard: %v", err)
		s.sendError(socket, ctx, "LEADERBOARD_UNAVAILABLE: Failed to load scores")
		return
	}

	response := protocol.ServerMessage{
		Type:    protocol.EvtLeaderboard,
		Payload: protocol.LeaderboardEvent{Entries: entries},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send leaderboard to %s: %v", connectionID, err)
	}
}

// ============================================================================
// Send / broadcast helpers
// ============================================================================

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg protocol.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return socket.Write(ctx, websocket.MessageText, data)
}

func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, msg string) {
	response := protocol.ServerMessage{
		Type:    protocol.EvtError,
		Payload: protocol.ErrorEvent{Message: msg},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send error message: %v", err)
	}
}

// sendJoinFailed reports a capacity violation to the requester only.
func (s *Server) sendJoinFailed(socket *websocket.Conn, ctx context.Context, msg string) {
	response := protocol.ServerMessage{
		Type:    protocol.EvtJoinFailed,
		Payload: protocol.JoinFailedEvent{Message: msg},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send join_failed: %v", err)
	}
}

// broadcastToLobby fans one event out to the members of the view, skipping
// excludeUsername when set. The view was snapshotted under the lobby lock,
// so membership here matches the state the triggering transition produced.
// Per-member write failures are logged and swallowed: one dead socket must
// not block delivery to the other member.
func (s *Server) broadcastToLobby(view LobbyView, eventType string, payload interface{}, excludeUsername string) {
	msg := protocol.ServerMessage{
		Type:    eventType,
		Payload: payload,
	}

	for _, connID := range s.sessionManager.ConnectionsInLobby(view.ID) {
		session, err := s.sessionManager.Get(connID)
		if err != nil {
			continue
		}
		if excludeUsername != "" && session.Username == excludeUsername {
			continue
		}
		if !memberOf(view, session.Username) {
			continue
		}

		conn := s.connectionManager.Get(connID)
		if conn == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), broadcastWriteTimeout)
		if err := s.sendMessage(conn, ctx, msg); err != nil {
			log.Printf("Failed to broadcast %s to %s: %v", eventType, session.Username, err)
		}
		cancel()
	}
}

func memberOf(view LobbyView, username string) bool {
	for _, p := range view.Players {
		if p == username {
			return true
		}
	}
	return false
}
