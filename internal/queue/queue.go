// Package queue manages the playback queue: ordered items, a cursor,
// repeat and shuffle modes, and a bounded history for going back.
package queue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// historyLimit bounds how many played tracks Prev can walk back through.
const historyLimit = 64

// Item is one queued track. The ID is opaque and stable across reorders,
// so clients can reference items without racing index changes.
type Item struct {
	ID       string               `json:"id"`
	Path     string               `json:"path"`
	Metadata *types.TrackMetadata `json:"metadata,omitempty"`
}

// NewItem creates an item with a fresh ID.
func NewItem(path string, md *types.TrackMetadata) Item {
	return Item{ID: uuid.NewString(), Path: path, Metadata: md}
}

// ChangeCallback is invoked after any mutation, outside the lock.
type ChangeCallback func()

// Manager is the playback queue. The cursor always points at a valid item
// whenever the queue is non-empty; Current returns nil only for an empty
// queue. When shuffle is on the cursor indexes the shuffle permutation
// instead of the item list.
type Manager struct {
	mu       sync.RWMutex
	items    []Item
	cursor   int
	shuffle  bool
	order    []int // permutation of item indices, shuffle only
	repeat   types.RepeatMode
	history  []string // item IDs in play order, oldest first
	rng      *rand.Rand
	onChange ChangeCallback
}

// NewManager creates an empty queue.
func NewManager() *Manager {
	return &Manager{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetOnChange registers a callback fired after every mutation.
func (m *Manager) SetOnChange(cb ChangeCallback) {
	m.mu.Lock()
	m.onChange = cb
	m.mu.Unlock()
}

func (m *Manager) notify() {
	m.mu.RLock()
	cb := m.onChange
	m.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

// Set replaces the queue. The cursor lands on the first track.
func (m *Manager) Set(items []Item) {
	m.mu.Lock()
	m.items = append([]Item(nil), items...)
	m.cursor = 0
	m.history = nil
	if m.shuffle {
		m.reshuffleLocked(-1)
	}
	m.mu.Unlock()
	m.notify()
}

// SetPaths replaces the queue with bare paths.
func (m *Manager) SetPaths(paths []string) {
	items := make([]Item, len(paths))
	for i, p := range paths {
		items[i] = NewItem(p, nil)
	}
	m.Set(items)
}

// Append adds items to the end of the queue.
func (m *Manager) Append(items []Item) {
	m.mu.Lock()
	wasEmpty := len(m.items) == 0
	m.items = append(m.items, items...)
	if wasEmpty {
		m.cursor = 0
	}
	if m.shuffle {
		m.reshuffleLocked(m.currentItemLocked())
	}
	m.mu.Unlock()
	m.notify()
}

// AppendPaths adds bare paths to the end of the queue.
func (m *Manager) AppendPaths(paths []string) {
	items := make([]Item, len(paths))
	for i, p := range paths {
		items[i] = NewItem(p, nil)
	}
	m.Append(items)
}

// Clear empties the queue.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.items = nil
	m.order = nil
	m.history = nil
	m.cursor = 0
	m.mu.Unlock()
	m.notify()
}

// Current returns the track under the cursor, nil iff the queue is empty.
func (m *Manager) Current() *Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.itemAtLocked(m.currentItemLocked())
}

// Next advances the cursor and returns the new current track, or nil when
// the queue end is reached with repeat off. RepeatOne stays in place;
// RepeatAll wraps, drawing a fresh shuffle permutation when shuffled so a
// second pass has its own order.
func (m *Manager) Next() *Item {
	m.mu.Lock()
	if len(m.items) == 0 {
		m.mu.Unlock()
		return nil
	}

	if m.repeat == types.RepeatOne {
		item := m.itemAtLocked(m.currentItemLocked())
		m.mu.Unlock()
		return item
	}

	if m.cursor+1 >= len(m.items) {
		if m.repeat != types.RepeatAll {
			// Stay on the last track; playback stops here. No history
			// entry either, Prev must still reach the track before.
			m.mu.Unlock()
			m.notify()
			return nil
		}
		m.pushHistoryLocked()
		if m.shuffle {
			m.wrapShuffleLocked()
		}
		m.cursor = 0
	} else {
		m.pushHistoryLocked()
		m.cursor++
	}

	item := m.itemAtLocked(m.currentItemLocked())
	m.mu.Unlock()
	m.notify()
	return item
}

// Prev steps back through the play history when there is one, otherwise
// just moves the cursor back, wrapping only under RepeatAll. The returned
// track is never nil for a non-empty queue.
func (m *Manager) Prev() *Item {
	m.mu.Lock()
	if len(m.items) == 0 {
		m.mu.Unlock()
		return nil
	}

	if m.repeat == types.RepeatOne {
		item := m.itemAtLocked(m.currentItemLocked())
		m.mu.Unlock()
		return item
	}

	if idx, ok := m.popHistoryLocked(); ok {
		m.cursorToItemLocked(idx)
	} else if m.cursor > 0 {
		m.cursor--
	} else if m.repeat == types.RepeatAll {
		m.cursor = len(m.items) - 1
	}
	// At the start with repeat off the cursor stays put.

	item := m.itemAtLocked(m.currentItemLocked())
	m.mu.Unlock()
	m.notify()
	return item
}

// Jump moves the cursor to the item at index i in the item list.
func (m *Manager) Jump(i int) *Item {
	m.mu.Lock()
	if i < 0 || i >= len(m.items) {
		m.mu.Unlock()
		return nil
	}
	m.pushHistoryLocked()
	m.cursorToItemLocked(i)
	item := m.itemAtLocked(i)
	m.mu.Unlock()
	m.notify()
	return item
}

// Remove deletes the item at index i. Removing the current track leaves
// the cursor on the following one, clamped at the end of the queue.
func (m *Manager) Remove(i int) bool {
	m.mu.Lock()
	if i < 0 || i >= len(m.items) {
		m.mu.Unlock()
		return false
	}

	cur := m.currentItemLocked()
	m.items = append(m.items[:i], m.items[i+1:]...)

	switch {
	case len(m.items) == 0:
		m.cursor = 0
		m.order = nil
	case i < cur:
		cur--
		m.setCursorAfterMutationLocked(cur)
	case i == cur:
		if cur >= len(m.items) {
			cur = len(m.items) - 1
		}
		m.setCursorAfterMutationLocked(cur)
	default:
		m.setCursorAfterMutationLocked(cur)
	}

	m.mu.Unlock()
	m.notify()
	return true
}

// Insert places an item at index i, shifting the rest down.
func (m *Manager) Insert(i int, item Item) bool {
	m.mu.Lock()
	if i < 0 || i > len(m.items) {
		m.mu.Unlock()
		return false
	}

	cur := m.currentItemLocked()
	m.items = append(m.items[:i], append([]Item{item}, m.items[i:]...)...)
	if cur >= 0 && i <= cur {
		cur++
	}
	if cur < 0 {
		cur = 0
	}
	m.setCursorAfterMutationLocked(cur)

	m.mu.Unlock()
	m.notify()
	return true
}

// InsertNext places an item directly after the current track.
func (m *Manager) InsertNext(item Item) {
	m.mu.Lock()
	cur := m.currentItemLocked()
	pos := cur + 1
	if pos > len(m.items) {
		pos = len(m.items)
	}
	m.items = append(m.items[:pos], append([]Item{item}, m.items[pos:]...)...)
	if cur < 0 {
		cur = 0
	}
	m.setCursorAfterMutationLocked(cur)
	m.mu.Unlock()
	m.notify()
}

// Move relocates the item at from to position to, keeping the cursor on
// the same track.
func (m *Manager) Move(from, to int) bool {
	m.mu.Lock()
	n := len(m.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		m.mu.Unlock()
		return false
	}
	if from == to {
		m.mu.Unlock()
		return true
	}

	cur := m.currentItemLocked()
	item := m.items[from]
	m.items = append(m.items[:from], m.items[from+1:]...)
	m.items = append(m.items[:to], append([]Item{item}, m.items[to:]...)...)

	switch {
	case cur == from:
		cur = to
	case from < cur && to >= cur:
		cur--
	case from > cur && to <= cur:
		cur++
	}
	m.setCursorAfterMutationLocked(cur)

	m.mu.Unlock()
	m.notify()
	return true
}

// Items returns a copy of the queue in item order.
func (m *Manager) Items() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Item(nil), m.items...)
}

// Index returns the item-list index of the current track, -1 when empty,
// along with the queue length.
func (m *Manager) Index() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentItemLocked(), len(m.items)
}

// SetShuffle toggles shuffle. Enabling draws a permutation with the
// current track first, so playback continues seamlessly; disabling maps
// the cursor back to the item list.
func (m *Manager) SetShuffle(enabled bool) {
	m.mu.Lock()
	if enabled == m.shuffle {
		m.mu.Unlock()
		return
	}
	if enabled {
		m.shuffle = true
		m.reshuffleLocked(m.cursorItemIndexUnshuffledLocked())
	} else {
		cur := m.currentItemLocked()
		m.shuffle = false
		m.order = nil
		if cur >= 0 {
			m.cursor = cur
		} else {
			m.cursor = 0
		}
	}
	m.mu.Unlock()
	m.notify()
}

// Shuffle reports whether shuffle is on.
func (m *Manager) Shuffle() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shuffle
}

// SetRepeat sets the repeat mode.
func (m *Manager) SetRepeat(mode types.RepeatMode) {
	m.mu.Lock()
	m.repeat = mode
	m.mu.Unlock()
	m.notify()
}

// Repeat returns the repeat mode.
func (m *Manager) Repeat() types.RepeatMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repeat
}

// currentItemLocked returns the item-list index under the cursor, -1 when
// the queue is empty.
func (m *Manager) currentItemLocked() int {
	if len(m.items) == 0 {
		return -1
	}
	if m.shuffle && m.cursor < len(m.order) {
		return m.order[m.cursor]
	}
	if m.cursor >= len(m.items) {
		return len(m.items) - 1
	}
	return m.cursor
}

// cursorItemIndexUnshuffledLocked reads the cursor as a plain item index,
// for use at the moment shuffle turns on.
func (m *Manager) cursorItemIndexUnshuffledLocked() int {
	if len(m.items) == 0 {
		return -1
	}
	if m.cursor >= len(m.items) {
		return len(m.items) - 1
	}
	return m.cursor
}

func (m *Manager) itemAtLocked(idx int) *Item {
	if idx < 0 || idx >= len(m.items) {
		return nil
	}
	item := m.items[idx]
	return &item
}

// cursorToItemLocked points the cursor at the given item-list index,
// translating through the permutation when shuffled.
func (m *Manager) cursorToItemLocked(idx int) {
	if !m.shuffle {
		m.cursor = idx
		return
	}
	for pos, it := range m.order {
		if it == idx {
			m.cursor = pos
			return
		}
	}
	m.cursor = 0
}

// setCursorAfterMutationLocked restores the cursor onto item idx after the
// item list changed, regenerating the shuffle permutation so it covers the
// new list. The current track stays first in the fresh permutation.
func (m *Manager) setCursorAfterMutationLocked(idx int) {
	if m.shuffle {
		m.reshuffleLocked(idx)
		return
	}
	m.cursor = idx
}

// reshuffleLocked draws a fresh Fisher-Yates permutation. When keepFirst
// names a valid item it is swapped to the front and the cursor set there.
func (m *Manager) reshuffleLocked(keepFirst int) {
	n := len(m.items)
	m.order = make([]int, n)
	for i := range m.order {
		m.order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := m.rng.Intn(i + 1)
		m.order[i], m.order[j] = m.order[j], m.order[i]
	}
	m.cursor = 0
	if keepFirst < 0 || keepFirst >= n {
		return
	}
	for pos, it := range m.order {
		if it == keepFirst {
			m.order[0], m.order[pos] = m.order[pos], m.order[0]
			return
		}
	}
}

// wrapShuffleLocked reshuffles for a new pass under RepeatAll, avoiding an
// immediate repeat of the track that just finished when possible.
func (m *Manager) wrapShuffleLocked() {
	last := m.currentItemLocked()
	m.reshuffleLocked(-1)
	if len(m.order) > 1 && m.order[0] == last {
		other := 1 + m.rng.Intn(len(m.order)-1)
		m.order[0], m.order[other] = m.order[other], m.order[0]
	}
}

// pushHistoryLocked records the current track for Prev.
func (m *Manager) pushHistoryLocked() {
	idx := m.currentItemLocked()
	if idx < 0 {
		return
	}
	m.history = append(m.history, m.items[idx].ID)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

// popHistoryLocked returns the item index of the most recent history entry
// still present in the queue.
func (m *Manager) popHistoryLocked() (int, bool) {
	for len(m.history) > 0 {
		id := m.history[len(m.history)-1]
		m.history = m.history[:len(m.history)-1]
		for i, item := range m.items {
			if item.ID == id {
				return i, true
			}
		}
	}
	return 0, false
}
