package server

import (
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(10, time.Second)
	connID := "test-conn-1"

	for i := 0; i < 10; i++ {
		if !limiter.Allow(connID) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if limiter.Allow(connID) {
		t.Error("11th request should be denied")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	limiter := NewRateLimiter(2, 100*time.Millisecond)
	connID := "test-conn-2"

	if !limiter.Allow(connID) {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow(connID) {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow(connID) {
		t.Error("Third request should be denied")
	}

	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow(connID) {
		t.Error("Request after window reset should be allowed")
	}
}

func TestRateLimiter_PerConnection(t *testing.T) {
	limiter := NewRateLimiter(1, time.Second)

	if !limiter.Allow("conn-a") {
		t.Error("conn-a's first request should be allowed")
	}
	if !limiter.Allow("conn-b") {
		t.Error("conn-b should not share conn-a's window")
	}
	if limiter.Allow("conn-a") {
		t.Error("conn-a's second request should be denied")
	}
}

func TestRateLimiter_RemoveConnection(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour)
	connID := "test-conn-3"

	limiter.Allow(connID)
	if limiter.Allow(connID) {
		t.Error("Second request should be denied")
	}

	limiter.RemoveConnection(connID)

	if !limiter.Allow(connID) {
		t.Error("Request after removal should be allowed again")
	}
}

func TestConnectionHealth_Activity(t *testing.T) {
	health := NewConnectionHealth()
	connID := "test-conn-4"

	// Unknown connections are not inactive
	if health.IsInactive(connID, time.Millisecond) {
		t.Error("Untracked connection should not be inactive")
	}

	health.UpdateActivity(connID)
	if health.IsInactive(connID, time.Minute) {
		t.Error("Fresh activity should not be inactive")
	}

	time.Sleep(20 * time.Millisecond)
	if !health.IsInactive(connID, 10*time.Millisecond) {
		t.Error("Stale connection should be inactive")
	}
}

func TestConnectionHealth_GetInactiveConnections(t *testing.T) {
	health := NewConnectionHealth()

	health.UpdateActivity("stale")
	time.Sleep(20 * time.Millisecond)
	health.UpdateActivity("fresh")

	inactive := health.GetInactiveConnections(10 * time.Millisecond)
	if len(inactive) != 1 || inactive[0] != "stale" {
		t.Errorf("Expected [stale], got %v", inactive)
	}

	health.RemoveConnection("stale")
	if got := health.GetInactiveConnections(10 * time.Millisecond); len(got) != 0 {
		t.Errorf("Removed connection still reported inactive: %v", got)
	}
}

func TestValidateCommand(t *testing.T) {
	valid := []string{
		"ping", "create_lobby", "join_lobby", "ready", "leave_lobby",
		"get_lobbies", "chat", "game_update", "game_over", "get_leaderboard",
	}
	for _, cmd := range valid {
		if err := ValidateCommand(cmd); err != nil {
			t.Errorf("Command %q should be valid: %v", cmd, err)
		}
	}

	for _, cmd := range []string{"", "Ping", "drop_tables", "create-lobby"} {
		if err := ValidateCommand(cmd); err == nil {
			t.Errorf("Command %q should be rejected", cmd)
		}
	}
}
