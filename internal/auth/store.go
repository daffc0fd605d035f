// Package auth holds per-platform OAuth credentials in a single JSON file,
// keyed by platform name. Writes go through a temp file and rename so a crash
// mid-write never leaves a torn token file.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/you/streamops/internal/core"
)

// Credentials is one platform's token pair.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Store maps platform name to credentials, mirrored to disk. An in-memory
// update that fails to persist is reverted so memory and disk never diverge.
type Store struct {
	path string

	mu     sync.Mutex
	tokens map[string]Credentials

	// refreshing guards against concurrent refreshes for the same platform.
	refreshing map[string]chan struct{}
}

func OpenStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("auth: token file path is empty")
	}
	s := &Store{
		path:       path,
		tokens:     make(map[string]Credentials),
		refreshing: make(map[string]chan struct{}),
	}
	if err := s.Reload(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file, replacing the in-memory map. Used at startup and
// when the file changes on disk. An unreadable or corrupt file is rewritten
// from the in-memory state, so one torn file never poisons the store.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(err, "read token file")
		}
		return s.recreate(errors.Wrap(err, "read token file"))
	}
	tokens := make(map[string]Credentials)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tokens); err != nil {
			return s.recreate(errors.Wrap(err, "decode token file"))
		}
	}
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	return nil
}

// recreate persists the in-memory map over a file that could not be read
// back. The in-memory state stays authoritative; cause is returned only when
// the rewrite itself fails.
func (s *Store) recreate(cause error) error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.tokens, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return cause
	}
	if err := atomicWrite(s.path, data, 0o600); err != nil {
		return cause
	}
	return nil
}

func (s *Store) Get(platform core.Platform) (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.tokens[string(platform)]
	return c, ok
}

// Set stores a platform's credentials and persists the whole map. If the
// write fails the previous in-memory value is restored.
func (s *Store) Set(platform core.Platform, creds Credentials) error {
	key := string(platform)

	s.mu.Lock()
	prev, had := s.tokens[key]
	s.tokens[key] = creds
	data, err := json.MarshalIndent(s.tokens, "", "  ")
	s.mu.Unlock()
	if err != nil {
		s.revert(key, prev, had)
		return errors.Wrap(err, "encode token file")
	}

	if err := atomicWrite(s.path, data, 0o600); err != nil {
		s.revert(key, prev, had)
		return errors.Wrap(err, "write token file")
	}
	return nil
}

func (s *Store) revert(key string, prev Credentials, had bool) {
	s.mu.Lock()
	if had {
		s.tokens[key] = prev
	} else {
		delete(s.tokens, key)
	}
	s.mu.Unlock()
}

// Refresh runs fn at most once per platform at a time. Concurrent callers
// wait for the in-flight refresh and then read the stored result.
func (s *Store) Refresh(platform core.Platform, fn func(Credentials) (Credentials, error)) (Credentials, error) {
	key := string(platform)

	s.mu.Lock()
	if ch, inFlight := s.refreshing[key]; inFlight {
		s.mu.Unlock()
		<-ch
		c, ok := s.Get(platform)
		if !ok {
			return Credentials{}, fmt.Errorf("auth: no credentials for %s after refresh", platform)
		}
		return c, nil
	}
	ch := make(chan struct{})
	s.refreshing[key] = ch
	cur := s.tokens[key]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.refreshing, key)
		s.mu.Unlock()
		close(ch)
	}()

	next, err := fn(cur)
	if err != nil {
		return Credentials{}, err
	}
	if err := s.Set(platform, next); err != nil {
		return Credentials{}, err
	}
	return next, nil
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Chmod(path, mode)
}
