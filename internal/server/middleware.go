package server

import (
	"fmt"
	"sync"
	"time"

	"tetris-server/internal/protocol"
)

// RateLimiter implements per-connection rate limiting using a sliding window.
// The window has to be generous enough for snapshot traffic: an in-game
// client legitimately sends ~10 game_update messages per second on top of
// chat and lobby commands.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID -> timestamps of recent requests
	mu          sync.Mutex
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow checks if a connection may send another message.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[connectionID]

	valid := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[connectionID] = valid
		return false
	}

	valid = append(valid, now)
	r.requests[connectionID] = valid
	return true
}

// Cleanup removes connections with no activity inside the window. Called
// periodically so disconnected clients don't leave data behind.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	for connID, timestamps := range r.requests {
		allOld := true
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				allOld = false
				break
			}
		}
		if allOld {
			delete(r.requests, connID)
		}
	}
}

// RemoveConnection drops rate limit data when a socket disconnects.
func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

// ConnectionHealth tracks last activity time for each connection, separate
// from the rate limiter: health detection and abuse prevention are different
// concerns.
type ConnectionHealth struct {
	lastActivity map[string]time.Time // connectionID -> last message time
	mu           sync.RWMutex
}

func NewConnectionHealth() *ConnectionHealth {
	return &ConnectionHealth{
		lastActivity: make(map[string]time.Time),
	}
}

// UpdateActivity records that a connection is active. Called on every
// message received.
func (h *ConnectionHealth) UpdateActivity(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity[connectionID] = time.Now()
}

// IsInactive reports whether a connection has been silent longer than timeout.
func (h *ConnectionHealth) IsInactive(connectionID string, timeout time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lastActivity, exists := h.lastActivity[connectionID]
	if !exists {
		return false
	}
	return time.Since(lastActivity) > timeout
}

// GetInactiveConnections returns all connections inactive longer than timeout.
func (h *ConnectionHealth) GetInactiveConnections(timeout time.Duration) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inactive := make([]string, 0)
	now := time.Now()
	for connID, lastActivity := range h.lastActivity {
		if now.Sub(lastActivity) > timeout {
			inactive = append(inactive, connID)
		}
	}
	return inactive
}

// RemoveConnection drops health tracking when a socket disconnects.
func (h *ConnectionHealth) RemoveConnection(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastActivity, connectionID)
}

// ValidateCommand checks if a command name is recognized, so typos get a
// clear error instead of silence.
func ValidateCommand(command string) error {
	validCommands := map[string]bool{
		protocol.CmdPing:           true,
		protocol.CmdCreateLobby:    true,
		protocol.CmdJoinLobby:      true,
		protocol.CmdReady:          true,
		protocol.CmdLeaveLobby:     true,
		protocol.CmdGetLobbies:     true,
		protocol.CmdChat:           true,
		protocol.CmdGameUpdate:     true,
		protocol.CmdGameOver:       true,
		protocol.CmdGetLeaderboard: true,
	}

	if !validCommands[command] {
		return fmt.Errorf("INVALID_COMMAND: Unknown command '%s'", command)
	}
	return nil
}
