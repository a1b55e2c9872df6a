package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"tetris-server/internal/protocol"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ws", s.websocketHandler)

	return mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(s.buildHealth())
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) buildHealth() map[string]string {
	health := map[string]string{
		"status":      "up",
		"connections": fmt.Sprintf("%d", s.connectionManager.Count()),
		"lobbies":     fmt.Sprintf("%d", len(s.lobbyManager.List())),
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			health["status"] = "degraded"
			health["database"] = err.Error()
		} else {
			health["database"] = "up"
		}
	}
	return health
}

// websocketHandler owns one connection for its whole lifetime: accept,
// register, run the read loop, then tear down through the same cleanup path
// an explicit leave_lobby takes.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	log.Printf("New connection: %s", connectionID)
	s.connectionManager.Add(connectionID, socket)

	defer func() {
		// Disconnect runs the same lobby cleanup as an explicit leave. A
		// failure here never touches other handlers.
		s.cleanupConnection(connectionID)
		log.Printf("Connection closed: %s", connectionID)
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			log.Printf("Connection %s read error: %v", connectionID, err)
			return
		}

		if msgType != websocket.MessageText {
			log.Printf("Non-text input from %s", connectionID)
			continue
		}

		s.connectionHealth.UpdateActivity(connectionID)

		if !s.rateLimiter.Allow(connectionID) {
			log.Printf("Rate limit exceeded for %s", connectionID)
			s.sendError(socket, ctx, "RATE_LIMITED: Too many messages, slow down")
			continue
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Protocol violation: fatal for this connection, not the process.
			log.Printf("Invalid JSON from %s: %v", connectionID, err)
			s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid JSON")
			return
		}

		if err := ValidateCommand(msg.Command); err != nil {
			log.Printf("Unknown command '%s' from %s", msg.Command, connectionID)
			s.sendError(socket, ctx, err.Error())
			return
		}

		switch msg.Command {
		case protocol.CmdPing:
			s.handlePing(socket, ctx, connectionID)

		case protocol.CmdCreateLobby:
			s.handleCreateLobby(socket, ctx, connectionID, msg.Payload)

		case protocol.CmdJoinLobby:
			s.handleJoinLobby(socket, ctx, connectionID, msg.Payload)

		case protocol.CmdReady:
			s.handleReady(socket, ctx, connectionID, msg.Payload)

		case protocol.CmdLeaveLobby:
			s.handleLeaveLobby(socket, ctx, connectionID)

		case protocol.CmdGetLobbies:
			s.handleGetLobbies(socket, ctx, connectionID)

		case protocol.CmdChat:
			s.handleChat(socket, ctx, connectionID, msg.Payload)

		case protocol.CmdGameUpdate:
			s.handleGameUpdate(socket, ctx, connectionID, msg.Payload)

		case protocol.CmdGameOver:
			s.handleGameOver(socket, ctx, connectionID, msg.Payload)

		case protocol.CmdGetLeaderboard:
			s.handleGetLeaderboard(socket, ctx, connectionID, msg.Payload)
		}
	}
}

// cleanupConnection removes all per-connection state. If the connection was
// in a lobby, remaining members are told via player_left.
func (s *Server) cleanupConnection(connectionID string) {
	session, err := s.sessionManager.Get(connectionID)
	if err == nil {
		view, dissolved, leaveErr := s.lobbyManager.Leave(session.LobbyID, session.Username)
		if leaveErr != nil {
			log.Printf("Disconnect cleanup for %s: %v", connectionID, leaveErr)
		} else if !dissolved {
			s.broadcastToLobby(view, protocol.EvtPlayerLeft, protocol.PlayerLeftEvent{
				LobbyID:    view.ID,
				Username:   session.Username,
				Membership: view.Membership(),
			}, "")
		}
		s.sessionManager.Remove(connectionID)
	}

	s.connectionManager.Remove(connectionID)
	s.rateLimiter.RemoveConnection(connectionID)
	s.connectionHealth.RemoveConnection(connectionID)
}
