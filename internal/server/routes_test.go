package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"

	"tetris-server/internal/protocol"
)

func setupTestServer() (*Server, string, func()) {
	// In-memory database, schema applied the same way production does it
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		panic(err)
	}

	if err := goose.SetDialect("sqlite3"); err != nil {
		panic(err)
	}
	if err := goose.Up(db, "../../db/migrations"); err != nil {
		panic(err)
	}

	s := New(db)

	server := httptest.NewServer(s.RegisterRoutes())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	cleanup := func() {
		server.Close()
		db.Close()
	}

	return s, url, cleanup
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// readEvent reads the next server message and decodes its payload into out.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, out interface{}) string {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read server message: %v", err)
	}

	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to parse server message: %v", err)
	}
	if out != nil && len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, out); err != nil {
			t.Fatalf("Failed to parse %s payload: %v", msg.Type, err)
		}
	}
	return msg.Type
}

func sendCommand(t *testing.T, ctx context.Context, conn *websocket.Conn, command string, payload interface{}) {
	t.Helper()

	msg := protocol.ClientMessage{Command: command}
	if payload != nil {
		msg.Payload = mustMarshal(payload)
	}
	if err := conn.Write(ctx, websocket.MessageText, mustMarshal(msg)); err != nil {
		t.Fatalf("Failed to send %s: %v", command, err)
	}
}

func TestHealthHandler(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	httpURL := "http" + strings.TrimPrefix(strings.TrimSuffix(url, "/ws"), "ws")
	resp, err := http.Get(httpURL + "/health")
	if err != nil {
		t.Fatalf("error making request to server. Err: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status OK; got %v", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("error reading response body. Err: %v", err)
	}

	var health map[string]string
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("error parsing health response: %v", err)
	}
	if health["status"] != "up" {
		t.Errorf("expected status up; got %v", health["status"])
	}
	if health["connections"] != "0" {
		t.Errorf("expected 0 connections; got %v", health["connections"])
	}
}

func TestWebSocketPingPong(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendCommand(t, ctx, conn, protocol.CmdPing, nil)

	evtType := readEvent(t, ctx, conn, nil)
	assert.Equal(protocol.EvtPong, evtType)
}

func TestWebSocketInvalidJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	err = conn.Write(ctx, websocket.MessageText, []byte("junk"))
	assert.NoError(err)

	// Error first, then the server drops the connection
	var errEvt protocol.ErrorEvent
	evtType := readEvent(t, ctx, conn, &errEvt)
	assert.Equal(protocol.EvtError, evtType)
	assert.Contains(errEvt.Message, "MALFORMED_MESSAGE")

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, _, err = conn.Read(readCtx)
	assert.Error(err, "connection should be closed after invalid JSON")
}

func TestWebSocketUnknownCommand(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendCommand(t, ctx, conn, "self_destruct", nil)

	var errEvt protocol.ErrorEvent
	evtType := readEvent(t, ctx, conn, &errEvt)
	assert.Equal(protocol.EvtError, evtType)
	assert.Contains(errEvt.Message, "INVALID_COMMAND")

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, _, err = conn.Read(readCtx)
	assert.Error(err, "connection should be closed after unknown command")
}

func TestWebSocketRateLimiting(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	// Stricter limit so the test doesn't have to send 30 messages
	s.rateLimiter = NewRateLimiter(2, time.Second)

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	for i := 0; i < 2; i++ {
		sendCommand(t, ctx, conn, protocol.CmdPing, nil)
		evtType := readEvent(t, ctx, conn, nil)
		assert.Equal(protocol.EvtPong, evtType, "Request %d should succeed", i+1)
	}

	sendCommand(t, ctx, conn, protocol.CmdPing, nil)

	var errEvt protocol.ErrorEvent
	evtType := readEvent(t, ctx, conn, &errEvt)
	assert.Equal(protocol.EvtError, evtType)
	assert.Contains(errEvt.Message, "RATE_LIMITED")

	// The connection survives rate limiting
	time.Sleep(1100 * time.Millisecond)
	sendCommand(t, ctx, conn, protocol.CmdPing, nil)
	evtType = readEvent(t, ctx, conn, nil)
	assert.Equal(protocol.EvtPong, evtType)
}

func TestDisconnectCleansUpLobby(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	conn1, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)
	defer conn1.Close(websocket.StatusNormalClosure, "")

	sendCommand(t, ctx, conn1, protocol.CmdCreateLobby, protocol.CreateLobbyRequest{Username: "Alice"})
	var created protocol.LobbyCreatedEvent
	readEvent(t, ctx, conn1, &created)

	conn2, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)

	sendCommand(t, ctx, conn2, protocol.CmdJoinLobby, protocol.JoinLobbyRequest{LobbyID: created.LobbyID, Username: "Bob"})
	readEvent(t, ctx, conn1, nil) // player_joined on both
	readEvent(t, ctx, conn2, nil)

	// Bob's socket dies without a leave_lobby
	conn2.Close(websocket.StatusNormalClosure, "gone")

	var left protocol.PlayerLeftEvent
	evtType := readEvent(t, ctx, conn1, &left)
	assert.Equal(protocol.EvtPlayerLeft, evtType)
	assert.Equal("Bob", left.Username)
	assert.Equal([]string{"Alice"}, left.Players)

	// The lobby is joinable again
	view, err := s.lobbyManager.Get(created.LobbyID)
	assert.NoError(err)
	assert.Equal(StatusForming, view.Status)
}

func TestDisconnectDissolvesEmptyLobby(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NoError(err)

	sendCommand(t, ctx, conn, protocol.CmdCreateLobby, protocol.CreateLobbyRequest{Username: "Alice"})
	var created protocol.LobbyCreatedEvent
	readEvent(t, ctx, conn, &created)

	conn.Close(websocket.StatusNormalClosure, "gone")

	// The handler goroutine tears the lobby down shortly after the close
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.lobbyManager.Get(created.LobbyID); err != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, err = s.lobbyManager.Get(created.LobbyID)
	assert.Error(err, "empty lobby should be dissolved")
	assert.Equal(0, s.sessionManager.Count())
}
