package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ConnectionManager maps connection ids to live sockets. It only tracks the
// transport; who a connection *is* lives in SessionManager.
type ConnectionManager struct {
	connections map[string]*websocket.Conn // connectionID -> socket
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
	}
}

func (cm *ConnectionManager) Add(id string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[id] = conn
}

func (cm *ConnectionManager) Remove(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, id)
}

func (cm *ConnectionManager) Get(id string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[id]
}

// All returns the current set of live sockets.
func (cm *ConnectionManager) All() []*websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	return conns
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}
