package server

import (
	"database/sql"
	"fmt"
	"time"

	"tetris-server/internal/protocol"
)

// ScoreStore persists finished-match scores for the leaderboard. Lobbies and
// sessions are deliberately not persisted: a dropped socket ends
// participation, so there is nothing to restore on restart.
//
// SQL sticks to the SQLite/Postgres common subset ($N placeholders) so tests
// run on in-memory SQLite while production uses Postgres.
type ScoreStore struct {
	db *sql.DB
}

func NewScoreStore(db *sql.DB) *ScoreStore {
	return &ScoreStore{db: db}
}

// RecordScore saves one player's final score for a match.
func (ss *ScoreStore) RecordScore(username string, score int, lobbyID string) error {
	query := `
		INSERT INTO scores (username, score, lobby_id, recorded_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := ss.db.Exec(query, username, score, lobbyID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record score for %s: %w", username, err)
	}
	return nil
}

// TopScores returns the best scores, highest first. Ties break on recency.
func (ss *ScoreStore) TopScores(limit int) ([]protocol.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT username, score, recorded_at FROM scores
		ORDER BY score DESC, recorded_at DESC
		LIMIT $1
	`

	rows, err := ss.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top scores: %w", err)
	}
	defer rows.Close()

	var entries []protocol.LeaderboardEntry
	for rows.Next() {
		var (
			username   string
			score      int
			recordedAt time.Time
		)
		if err := rows.Scan(&username, &score, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		entries = append(entries, protocol.LeaderboardEntry{
			Username:   username,
			Score:      score,
			RecordedAt: recordedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating score rows: %w", err)
	}

	return entries, nil
}

// PruneScores deletes scores older than maxAge, returning how many rows went.
// Keeps the table bounded on long-lived servers.
func (ss *ScoreStore) PruneScores(maxAge time.Duration) (int64, error) {
	query := `DELETE FROM scores WHERE recorded_at < $1`

	res, err := ss.db.Exec(query, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune scores: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
