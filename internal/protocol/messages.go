// Package protocol defines the wire format shared by the lobby server and
// the client facade. Every message is a tagged envelope: clients send
// {"command": ..., "payload": ...}, the server sends {"type": ..., "payload": ...}.
package protocol

import "encoding/json"

// Client -> Server commands.
const (
	CmdCreateLobby    = "create_lobby"
	CmdJoinLobby      = "join_lobby"
	CmdReady          = "ready"
	CmdLeaveLobby     = "leave_lobby"
	CmdGetLobbies     = "get_lobbies"
	CmdChat           = "chat"
	CmdGameUpdate     = "game_update"
	CmdGameOver       = "game_over"
	CmdGetLeaderboard = "get_leaderboard"
	CmdPing           = "ping"
)

// Server -> Client events.
const (
	EvtLobbyCreated     = "lobby_created"
	EvtJoinFailed       = "join_failed"
	EvtPlayerJoined     = "player_joined"
	EvtReadyUpdate      = "ready_update"
	EvtGameStart        = "game_start"
	EvtPlayerLeft       = "player_left"
	EvtLobbyList        = "lobby_list"
	EvtChatMessage      = "chat_message"
	EvtGameUpdate       = "game_update"
	EvtOpponentGameOver = "opponent_game_over"
	EvtLeaderboard      = "leaderboard"
	EvtError            = "error"
	EvtPong             = "pong"
)

// Player roles. Assignment is purely positional: the first player in a lobby
// is player1, the second player2. Roles never change once assigned.
const (
	RolePlayer1 = "player1"
	RolePlayer2 = "player2"
)

// MaxPlayers is the hard cap on lobby membership.
const MaxPlayers = 2

// ClientMessage is the client->server envelope.
type ClientMessage struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is the server->client envelope.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ============================================================================
// Client -> Server payloads
// ============================================================================

type CreateLobbyRequest struct {
	Username string `json:"username"`
}

type JoinLobbyRequest struct {
	LobbyID  string `json:"lobby_id"`
	Username string `json:"username"`
}

type ReadyRequest struct {
	LobbyID  string `json:"lobby_id"`
	Username string `json:"username"`
}

type LeaveLobbyRequest struct {
	LobbyID  string `json:"lobby_id"`
	Username string `json:"username"`
}

type ChatRequest struct {
	LobbyID  string `json:"lobby_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// GameUpdateRequest carries the sender's full board snapshot. The lobby is
// implicit via the sender's session.
type GameUpdateRequest struct {
	Snapshot
}

type GameOverRequest struct {
	Score int `json:"score"`
}

type LeaderboardRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ============================================================================
// Server -> Client payloads
// ============================================================================

type LobbyCreatedEvent struct {
	LobbyID string `json:"lobby_id"`
	Role    string `json:"role"`
}

type JoinFailedEvent struct {
	Message string `json:"message"`
}

// Membership mirrors one lobby's players/roles/ready maps. Events that change
// membership or readiness always carry the full maps so receivers can replace
// their view wholesale.
type Membership struct {
	Players []string          `json:"players"`
	Roles   map[string]string `json:"roles"`
	Ready   map[string]bool   `json:"ready"`
}

type PlayerJoinedEvent struct {
	LobbyID  string `json:"lobby_id"`
	Username string `json:"username"`
	Membership
}

type ReadyUpdateEvent struct {
	LobbyID string `json:"lobby_id"`
	Membership
}

type GameStartEvent struct {
	LobbyID string `json:"lobby_id"`
	Membership
}

type PlayerLeftEvent struct {
	LobbyID  string `json:"lobby_id"`
	Username string `json:"username"`
	Membership
}

type LobbySummary struct {
	ID         string `json:"id"`
	Host       string `json:"host"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
}

type LobbyListEvent struct {
	Lobbies []LobbySummary `json:"lobbies"`
}

type ChatMessageEvent struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// GameUpdateEvent is the relayed snapshot, tagged with who sent it.
type GameUpdateEvent struct {
	Sender string `json:"sender"`
	Snapshot
}

type OpponentGameOverEvent struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

type LeaderboardEntry struct {
	Username   string `json:"username"`
	Score      int    `json:"score"`
	RecordedAt string `json:"recorded_at"`
}

type LeaderboardEvent struct {
	Entries []LeaderboardEntry `json:"entries"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
