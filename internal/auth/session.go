package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Session is the explicit credential context passed to every
// network-issuing call. The zero value is an unauthenticated session.
type Session struct {
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
}

// Authenticated reports whether the session carries a bearer token
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// BearerHeader returns the Authorization header value for the session
func (s Session) BearerHeader() string {
	return "Bearer " + s.Token
}

// Provider returns the current session. The recorder asks for it right
// before every upload so that logins and logouts take effect immediately.
type Provider interface {
	Current() Session
}

// Store persists the session in a YAML file, the client-side counterpart of
// the browser's local storage.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the file at path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted session. A missing file yields an
// unauthenticated session.
func (s *Store) Load() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session file %s: %w", s.path, err)
	}

	var sess Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("failed to parse session file %s: %w", s.path, err)
	}

	return sess, nil
}

// Save persists sess, replacing any previous session
func (s *Store) Save(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", s.path, err)
	}

	return nil
}

// Clear removes the persisted session (logout)
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file %s: %w", s.path, err)
	}

	return nil
}

// Current re-reads the session file so that a login or logout made by
// another process is seen on the next call. Read errors are treated as no
// session.
func (s *Store) Current() Session {
	sess, err := s.Load()
	if err != nil {
		return Session{}
	}
	return sess
}

// Static is a Provider that always returns the same session
type Static Session

// Current implements Provider
func (s Static) Current() Session {
	return Session(s)
}
