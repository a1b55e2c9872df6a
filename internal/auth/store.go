// Package auth is the flat-file credential store. The lobby protocol treats
// it as an external collaborator with one question: does this
// username/password pair authenticate, else register it.
package auth

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store reads and appends a line-oriented "username:password" file.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath is used when TETRIS_USERS_FILE is unset.
const DefaultPath = "users.txt"

// NewStoreFromEnv resolves the credential file from TETRIS_USERS_FILE.
func NewStoreFromEnv() *Store {
	path := os.Getenv("TETRIS_USERS_FILE")
	if path == "" {
		path = DefaultPath
	}
	return NewStore(path)
}

// AuthenticateOrRegister returns true when the pair matches an existing
// entry or when the username was unknown and has now been registered.
// A known username with the wrong password returns false.
func (s *Store) AuthenticateOrRegister(username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, errors.New("CREDENTIALS_INVALID: Username and password are required")
	}
	if strings.ContainsAny(username, ":\n") || strings.ContainsAny(password, ":\n") {
		return false, errors.New("CREDENTIALS_INVALID: ':' and newlines are not allowed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, found, err := s.lookup(username)
	if err != nil {
		return false, err
	}
	if found {
		return stored == password, nil
	}

	if err := s.appendEntry(username, password); err != nil {
		return false, err
	}
	return true, nil
}

// lookup scans the file for username. Caller holds the lock.
func (s *Store) lookup(username string) (password string, found bool, err error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to open credential file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, pass, ok := strings.Cut(line, ":")
		if !ok {
			continue // tolerate malformed lines
		}
		if name == username {
			return pass, true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("failed to read credential file: %w", err)
	}
	return "", false, nil
}

// appendEntry registers a new user. Caller holds the lock.
func (s *Store) appendEntry(username, password string) error {
	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open credential file: %w", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%s:%s\n", username, password); err != nil {
		return fmt.Errorf("failed to append credentials: %w", err)
	}
	return nil
}
