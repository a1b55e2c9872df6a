package server

import (
	"sync"
	"testing"
)

func TestConnectionManager_AddGetRemove(t *testing.T) {
	cm := NewConnectionManager()

	if got := cm.Get("conn-1"); got != nil {
		t.Errorf("Expected nil for unknown connection, got %v", got)
	}

	cm.Add("conn-1", nil)
	if cm.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", cm.Count())
	}

	cm.Remove("conn-1")
	if cm.Count() != 0 {
		t.Errorf("Expected 0 connections, got %d", cm.Count())
	}

	// Removing twice is harmless
	cm.Remove("conn-1")
}

func TestConnectionManager_All(t *testing.T) {
	cm := NewConnectionManager()

	if got := cm.All(); len(got) != 0 {
		t.Errorf("Expected no connections, got %d", len(got))
	}

	cm.Add("conn-1", nil)
	cm.Add("conn-2", nil)

	if got := cm.All(); len(got) != 2 {
		t.Errorf("Expected 2 connections, got %d", len(got))
	}

	cm.Remove("conn-1")
	if got := cm.All(); len(got) != 1 {
		t.Errorf("Expected 1 connection after removal, got %d", len(got))
	}
}

func TestConnectionManager_ConcurrentAccess(t *testing.T) {
	cm := NewConnectionManager()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			cm.Add(id, nil)
			cm.Get(id)
			cm.Count()
			cm.Remove(id)
		}(i)
	}
	wg.Wait()

	if cm.Count() != 0 {
		t.Errorf("Expected all connections removed, got %d", cm.Count())
	}
}
