// Package session keeps the staff bearer token between runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Sealer protects the token at rest.
type Sealer interface {
	Encrypt(data string) (string, error)
	Decrypt(encryptedText string) (string, error)
}

// Store is a file-backed bearer token provider. The file holds the sealed
// token and the time it was issued, one per line.
type Store struct {
	mu     sync.Mutex
	path   string
	sealer Sealer
	ttl    time.Duration
	now    func() time.Time
}

// ErrExpired is returned by Token once the session is older than its TTL.
var ErrExpired = errors.New("session expired, please log in again")

// NewStore returns a Store persisting to path. A zero ttl never expires.
func NewStore(path string, sealer Sealer, ttl time.Duration) *Store {
	return &Store{path: path, sealer: sealer, ttl: ttl, now: time.Now}
}

// Save replaces the stored token.
func (s *Store) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed := token
	if s.sealer != nil {
		var err error
		if sealed, err = s.sealer.Encrypt(token); err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
	}
	content := sealed + "\n" + s.now().UTC().Format(time.RFC3339)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Token returns the stored token, or "" when nobody is logged in.
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}

	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) != 2 {
		return "", fmt.Errorf("read session: malformed file")
	}
	issued, err := time.Parse(time.RFC3339, lines[1])
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	if s.ttl > 0 && s.now().Sub(issued) > s.ttl {
		return "", ErrExpired
	}

	token := lines[0]
	if s.sealer != nil {
		if token, err = s.sealer.Decrypt(token); err != nil {
			return "", fmt.Errorf("open session: %w", err)
		}
	}
	return token, nil
}

// Clear logs out.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
