package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// PersistentState is the queue snapshot written to disk.
type PersistentState struct {
	Items      []Item `json:"items"`
	Cursor     int    `json:"cursor"`
	Shuffle    bool   `json:"shuffle"`
	Order      []int  `json:"order,omitempty"`
	Repeat     string `json:"repeat"` // "off", "one", "all"
	PositionMs int64  `json:"positionMs,omitempty"`
}

// Store persists the queue to queue.json in the config directory.
type Store struct {
	mu         sync.Mutex
	filePath   string
	manager    *Manager
	positionFn func() time.Duration
	loadedPos  time.Duration
}

// NewStore creates a store bound to a manager.
func NewStore(configDir string, manager *Manager) *Store {
	return &Store{
		filePath: filepath.Join(configDir, "queue.json"),
		manager:  manager,
	}
}

// Load restores the queue from disk. A missing file is not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read queue file: %w", err)
	}

	var state PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse queue file: %w", err)
	}

	m := s.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = state.Items
	m.shuffle = state.Shuffle
	m.order = state.Order
	m.repeat = types.ParseRepeatMode(state.Repeat)

	// A stale permutation that no longer matches the item count cannot be
	// trusted; draw a new one.
	if m.shuffle && len(m.order) != len(m.items) {
		m.reshuffleLocked(-1)
	}

	m.cursor = state.Cursor
	if m.cursor < 0 || m.cursor >= len(m.items) {
		m.cursor = 0
	}
	s.loadedPos = time.Duration(state.PositionMs) * time.Millisecond
	return nil
}

// SetPositionFunc installs a callback polled on every Save so the
// snapshot carries the playback position within the current track.
func (s *Store) SetPositionFunc(fn func() time.Duration) {
	s.mu.Lock()
	s.positionFn = fn
	s.mu.Unlock()
}

// LastPosition returns the playback position restored by Load.
func (s *Store) LastPosition() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadedPos
}

// Save writes the current queue snapshot via a temp file and rename, so a
// crash mid-write cannot corrupt the previous state.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.manager
	m.mu.RLock()
	state := PersistentState{
		Items:   append([]Item(nil), m.items...),
		Cursor:  m.cursor,
		Shuffle: m.shuffle,
		Order:   append([]int(nil), m.order...),
		Repeat:  m.repeat.String(),
	}
	m.mu.RUnlock()

	if s.positionFn != nil {
		state.PositionMs = s.positionFn().Milliseconds()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}

// FilePath returns the on-disk location of the queue state.
func (s *Store) FilePath() string {
	return s.filePath
}
