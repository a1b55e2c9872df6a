package auth

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "users.txt"))
}

func TestAuthenticateOrRegister_NewUser(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.AuthenticateOrRegister("alice", "hunter2")
	if err != nil {
		t.Fatalf("AuthenticateOrRegister failed: %v", err)
	}
	if !ok {
		t.Error("New user should be registered and accepted")
	}
}

func TestAuthenticateOrRegister_ExistingUser(t *testing.T) {
	store := newTestStore(t)

	store.AuthenticateOrRegister("alice", "hunter2")

	ok, err := store.AuthenticateOrRegister("alice", "hunter2")
	if err != nil {
		t.Fatalf("AuthenticateOrRegister failed: %v", err)
	}
	if !ok {
		t.Error("Correct password should authenticate")
	}

	ok, err = store.AuthenticateOrRegister("alice", "wrong")
	if err != nil {
		t.Fatalf("AuthenticateOrRegister failed: %v", err)
	}
	if ok {
		t.Error("Wrong password must not authenticate")
	}
}

func TestAuthenticateOrRegister_Validation(t *testing.T) {
	store := newTestStore(t)

	cases := [][2]string{
		{"", "pass"},
		{"user", ""},
		{"a:b", "pass"},
		{"user", "pa:ss"},
		{"multi\nline", "pass"},
	}
	for _, c := range cases {
		if _, err := store.AuthenticateOrRegister(c[0], c[1]); err == nil {
			t.Errorf("Credentials (%q, %q) should be rejected", c[0], c[1])
		}
	}
}

func TestAuthenticateOrRegister_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	store := NewStore(path)

	store.AuthenticateOrRegister("alice", "hunter2")
	store.AuthenticateOrRegister("bob", "secret")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read credential file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), string(data))
	}
	if lines[0] != "alice:hunter2" || lines[1] != "bob:secret" {
		t.Errorf("Unexpected file contents: %q", string(data))
	}
}

func TestAuthenticateOrRegister_ToleratesMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	if err := os.WriteFile(path, []byte("garbage line\n\nalice:hunter2\n"), 0o600); err != nil {
		t.Fatalf("Failed to seed credential file: %v", err)
	}
	store := NewStore(path)

	ok, err := store.AuthenticateOrRegister("alice", "hunter2")
	if err != nil {
		t.Fatalf("AuthenticateOrRegister failed: %v", err)
	}
	if !ok {
		t.Error("Valid entry after malformed lines should authenticate")
	}
}

func TestAuthenticateOrRegister_Concurrent(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := "user" + string(rune('a'+n%5))
			store.AuthenticateOrRegister(name, "pass")
		}(i)
	}
	wg.Wait()

	// Every registered user authenticates with the password it registered
	for _, suffix := range []string{"a", "b", "c", "d", "e"} {
		ok, err := store.AuthenticateOrRegister("user"+suffix, "pass")
		if err != nil {
			t.Fatalf("AuthenticateOrRegister failed: %v", err)
		}
		if !ok {
			t.Errorf("user%s should authenticate after concurrent registration", suffix)
		}
	}
}
