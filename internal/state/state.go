// Package state persists reading positions keyed by book id.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	stateFileName = "reading_positions.json"
	hashBytes     = 8192
)

// ReadingState stores the position for a single book.
type ReadingState struct {
	PageIndex     int       `json:"page_index"`
	SentenceIndex int       `json:"sentence_index"`
	Title         string    `json:"title,omitempty"`
	Path          string    `json:"path,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Entry is a stored state with its book id.
type Entry struct {
	ID string `json:"id"`
	ReadingState
}

// StateStore manages persistent reading state
type StateStore struct {
	path string
	data map[string]ReadingState
	mu   sync.RWMutex
	now  func() time.Time
}

// NewStateStore creates or loads state from dir, or from DefaultDir when dir
// is empty. A corrupt state file is ignored and overwritten on the next save.
func NewStateStore(dir string) (*StateStore, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	store := &StateStore{
		path: filepath.Join(dir, stateFileName),
		data: make(map[string]ReadingState),
		now:  time.Now,
	}
	if err := store.load(); err != nil {
		store.data = make(map[string]ReadingState)
	}
	return store, nil
}

// DefaultDir returns XDG_STATE_HOME/rebook or ~/.local/state/rebook
func DefaultDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "rebook")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "rebook")
}

// ComputeHash identifies a file by the SHA-256 of its first hashBytes,
// truncated to 32 hex characters, so renamed or moved copies share an id.
func ComputeHash(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, hashBytes)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}

// Load returns the saved state for a book.
func (s *StateStore) Load(id string) (ReadingState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[id]
	return st, ok
}

// Save records the position for a book, keeping its title and path when
// the update leaves them empty.
func (s *StateStore) Save(id string, st ReadingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.data[id]; ok {
		if st.Title == "" {
			st.Title = prev.Title
		}
		if st.Path == "" {
			st.Path = prev.Path
		}
	}
	st.UpdatedAt = s.now().UTC()
	s.data[id] = st
	return s.save()
}

// Clear removes saved position for a book.
func (s *StateStore) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return nil
	}
	delete(s.data, id)
	return s.save()
}

// List returns all stored states, most recently updated first.
func (s *StateStore) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.data))
	for id, st := range s.data {
		out = append(out, Entry{ID: id, ReadingState: st})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *StateStore) load() error {
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	return json.Unmarshal(data, &s.data)
}

// save replaces the state file atomically.
func (s *StateStore) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), stateFileName+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
