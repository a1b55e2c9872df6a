package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/coder/websocket"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pressly/goose/v3"

	"tetris-server/internal/database"
	"tetris-server/internal/protocol"
)

const defaultPort = 5555

// Server holds the lobby state and the per-connection machinery. One Server
// serves every connection; each websocket gets its own handler goroutine.
type Server struct {
	port int
	db   *sql.DB

	connectionManager *ConnectionManager
	sessionManager    *SessionManager
	lobbyManager      *LobbyManager
	scoreStore        *ScoreStore
	rateLimiter       *RateLimiter
	connectionHealth  *ConnectionHealth

	stop chan struct{}
}

// New builds a Server around an already-open database handle. Tests pass an
// in-memory SQLite db; production wires Postgres through database.New.
func New(db *sql.DB) *Server {
	s := &Server{
		port:              defaultPort,
		db:                db,
		connectionManager: NewConnectionManager(),
		sessionManager:    NewSessionManager(),
		lobbyManager:      NewLobbyManager(),
		rateLimiter:       NewRateLimiter(30, time.Second),
		connectionHealth:  NewConnectionHealth(),
		stop:              make(chan struct{}),
	}
	if db != nil {
		s.scoreStore = NewScoreStore(db)
	}
	return s
}

// NewServer wires the full production server: env config, database,
// migrations, background tasks, and the http.Server that carries the
// websocket endpoint.
func NewServer() (*Server, *http.Server) {
	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = defaultPort
	}

	dbService, err := database.New()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := runMigrations(dbService.DB()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	s := New(dbService.DB())
	s.port = port

	go s.cleanupTask()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer
}

// runMigrations applies database migrations using goose.
func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "./db/migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Println("Database migrations applied successfully")
	return nil
}

// cleanupTask periodically prunes per-connection bookkeeping and old scores.
func (s *Server) cleanupTask() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.rateLimiter.Cleanup()

			stale := s.connectionHealth.GetInactiveConnections(10 * time.Minute)
			for _, connID := range stale {
				if conn := s.connectionManager.Get(connID); conn != nil {
					conn.Close(websocket.StatusGoingAway, "Inactive connection")
				}
			}

			if s.scoreStore != nil {
				if deleted, err := s.scoreStore.PruneScores(30 * 24 * time.Hour); err != nil {
					log.Printf("Score prune failed: %v", err)
				} else if deleted > 0 {
					log.Printf("Pruned %d old scores", deleted)
				}
			}
		case <-s.stop:
			return
		}
	}
}

// Shutdown tells connected clients the server is going away and closes every
// socket; handler goroutines then run their normal disconnect cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)

	notice := protocol.ServerMessage{
		Type:    protocol.EvtError,
		Payload: protocol.ErrorEvent{Message: "SERVER_SHUTDOWN: Server is shutting down"},
	}

	for _, conn := range s.connectionManager.All() {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = s.sendMessage(conn, writeCtx, notice)
		cancel()
		conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}

	return nil
}
