package server

import (
	"errors"
	"strings"
)

// Lobby ids are monotonically allocated int64s carried as strings on the
// wire. They are never reused: a dissolved lobby's id stays retired.

func NormalizeLobbyID(id string) string {
	return strings.TrimSpace(id)
}

func ValidateLobbyID(id string) error {
	id = NormalizeLobbyID(id)
	if id == "" {
		return errors.New("LOBBY_ID_INVALID: Lobby id cannot be empty")
	}
	for _, ch := range id {
		if ch < '0' || ch > '9' {
			return errors.New("LOBBY_ID_INVALID: Lobby id must be numeric")
		}
	}
	return nil
}
