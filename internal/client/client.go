// Package client is the network facade the game loop talks to. It owns the
// websocket connection and a background receive goroutine that folds every
// inbound event into a locally synchronized mirror; the UI thread polls the
// mirror on its own schedule and never blocks on the network.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tetris-server/internal/auth"
	"tetris-server/internal/protocol"
)

const writeTimeout = 5 * time.Second

// Client connects to the lobby server and exposes typed commands plus a
// read-only view of the mirrored lobby/opponent state.
type Client struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	mirror mirror

	mu       sync.Mutex // guards username and readErr
	username string
	readErr  error
}

// Dial connects to url (e.g. ws://localhost:5555/ws) and starts the receive
// loop. Bound ctx with a timeout so a dead server cannot hang the caller.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lobby server: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.mirror.reset()

	go c.receiveLoop(loopCtx)
	return c, nil
}

// DialAuthenticated runs the login gate before connecting: the credential
// pair must authenticate against (or register into) the local store. The
// username is pinned so later lobby commands send it automatically.
func DialAuthenticated(ctx context.Context, url string, store *auth.Store, username, password string) (*Client, error) {
	ok, err := store.AuthenticateOrRegister(username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("CREDENTIALS_INVALID: Incorrect password")
	}

	c, err := Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	c.mirror.setUsername(username)
	return c, nil
}

// Close stops the receive loop and releases the connection. Safe to call on
// every menu exit: the loop is guaranteed to have finished when Close
// returns, so screens never leak a still-running receiver.
func (c *Client) Close() error {
	c.cancel()
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	<-c.done
	return err
}

// Err reports why the receive loop stopped, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		var msg serverEnvelope
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // tolerate garbage; the server never sends it
		}
		c.mirror.apply(msg)
	}
}

// serverEnvelope mirrors protocol.ServerMessage with the payload kept raw
// for per-type decoding.
type serverEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ============================================================================
// Outbound commands
// ============================================================================

func (c *Client) send(command string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", command, err)
		}
		raw = data
	}

	data, err := json.Marshal(protocol.ClientMessage{Command: command, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", command, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) CreateLobby(username string) error {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	c.mirror.setUsername(username)
	return c.send(protocol.CmdCreateLobby, protocol.CreateLobbyRequest{Username: username})
}

func (c *Client) JoinLobby(lobbyID, username string) error {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	c.mirror.setUsername(username)
	c.mirror.clearJoinError()
	return c.send(protocol.CmdJoinLobby, protocol.JoinLobbyRequest{LobbyID: lobbyID, Username: username})
}

// ToggleReady flips this player's ready flag in the current lobby.
func (c *Client) ToggleReady() error {
	lobbyID, username, err := c.currentIdentity()
	if err != nil {
		return err
	}
	return c.send(protocol.CmdReady, protocol.ReadyRequest{LobbyID: lobbyID, Username: username})
}

// LeaveLobby leaves the current lobby and wipes the local mirror so a stale
// opponent snapshot never survives into the next lobby.
func (c *Client) LeaveLobby() error {
	lobbyID, username, err := c.currentIdentity()
	if err != nil {
		return err
	}
	sendErr := c.send(protocol.CmdLeaveLobby, protocol.LeaveLobbyRequest{LobbyID: lobbyID, Username: username})
	c.mirror.reset()
	return sendErr
}

func (c *Client) RequestLobbies() error {
	return c.send(protocol.CmdGetLobbies, nil)
}

func (c *Client) Chat(message string) error {
	lobbyID, username, err := c.currentIdentity()
	if err != nil {
		return err
	}
	return c.send(protocol.CmdChat, protocol.ChatRequest{LobbyID: lobbyID, Username: username, Message: message})
}

// SendUpdate ships a full board snapshot; the server relays it to the
// opponent.
func (c *Client) SendUpdate(snapshot protocol.Snapshot) error {
	return c.send(protocol.CmdGameUpdate, protocol.GameUpdateRequest{Snapshot: snapshot})
}

func (c *Client) ReportGameOver(score int) error {
	return c.send(protocol.CmdGameOver, protocol.GameOverRequest{Score: score})
}

func (c *Client) RequestLeaderboard(limit int) error {
	return c.send(protocol.CmdGetLeaderboard, protocol.LeaderboardRequest{Limit: limit})
}

func (c *Client) Ping() error {
	return c.send(protocol.CmdPing, nil)
}

func (c *Client) currentIdentity() (lobbyID, username string, err error) {
	lobbyID = c.mirror.LobbyID()
	c.mu.Lock()
	username = c.username
	c.mu.Unlock()
	if lobbyID == "" || username == "" {
		return "", "", errors.New("not in a lobby")
	}
	return lobbyID, username, nil
}

// RunUpdateLoop emits a snapshot of the local board at a fixed interval,
// independent of the frame rate, until ctx is cancelled or the connection
// drops. source is called on the ticker goroutine and must be safe to call
// from off the game loop.
func (c *Client) RunUpdateLoop(ctx context.Context, interval time.Duration, source func() protocol.Snapshot) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return c.Err()
		case <-ticker.C:
			if err := c.SendUpdate(source()); err != nil {
				return err
			}
		}
	}
}

// ============================================================================
// Mirror accessors
// ============================================================================

// LobbyID returns the current lobby id, or "" outside any lobby.
func (c *Client) LobbyID() string { return c.mirror.LobbyID() }

// Role returns this player's assigned role (player1/player2).
func (c *Client) Role() string { return c.mirror.Role() }

// Members returns copies of the lobby membership maps.
func (c *Client) Members() protocol.Membership { return c.mirror.Members() }

// GameStarted reports whether game_start has been received for the current
// lobby.
func (c *Client) GameStarted() bool { return c.mirror.GameStarted() }

// Opponent returns the last opponent snapshot, if any has arrived.
func (c *Client) Opponent() (protocol.Snapshot, bool) { return c.mirror.Opponent() }

// OpponentResult reports the opponent's game_over, if received.
func (c *Client) OpponentResult() (protocol.OpponentGameOverEvent, bool) {
	return c.mirror.OpponentResult()
}

// ChatHistory returns the most recent chat lines, oldest first.
func (c *Client) ChatHistory() []string { return c.mirror.ChatHistory() }

// Lobbies returns the last lobby_list response.
func (c *Client) Lobbies() []protocol.LobbySummary { return c.mirror.Lobbies() }

// JoinError returns the last join_failed message, or "". Cleared by the next
// JoinLobby call.
func (c *Client) JoinError() string { return c.mirror.JoinError() }

// Leaderboard returns the last leaderboard response.
func (c *Client) Leaderboard() []protocol.LeaderboardEntry { return c.mirror.Leaderboard() }

// LastError returns the most recent error event from the server, or "".
func (c *Client) LastError() string { return c.mirror.LastError() }
