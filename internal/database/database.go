// Package database provides the production database service backed by
// Postgres via the pgx stdlib driver. Score persistence is the only thing
// stored server-side; lobbies and sessions live in memory only.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
)

// Service wraps the database handle so callers do not care which driver
// backs it. Tests substitute an in-memory SQLite handle via NewFromDB.
type Service interface {
	// DB exposes the raw handle for query layers and migrations.
	DB() *sql.DB

	// Health reports whether the database answers a ping.
	Health() map[string]string

	// Close terminates the connection pool.
	Close() error
}

type service struct {
	db *sql.DB
}

// New opens the pool described by DATABASE_URL.
func New() (Service, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &service{db: db}, nil
}

// NewFromDB wraps an already-open handle. Used by tests.
func NewFromDB(db *sql.DB) Service {
	return &service{db: db}
}

func (s *service) DB() *sql.DB {
	return s.db
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health := map[string]string{"status": "up"}
	if err := s.db.PingContext(ctx); err != nil {
		health["status"] = "down"
		health["error"] = err.Error()
	}
	return health
}

func (s *service) Close() error {
	return s.db.Close()
}
