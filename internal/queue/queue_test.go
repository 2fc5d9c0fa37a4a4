package queue

import (
	"fmt"
	"testing"

	"github.com/tonearm-audio/tonearm/internal/types"
)

func setABC(m *Manager) {
	m.SetPaths([]string{"/music/a.mp3", "/music/b.mp3", "/music/c.mp3"})
}

func TestNewManagerEmpty(t *testing.T) {
	m := NewManager()

	if m.Current() != nil {
		t.Error("Current on empty queue should be nil")
	}
	idx, size := m.Index()
	if idx != -1 {
		t.Errorf("Expected index -1 on empty queue, got %d", idx)
	}
	if size != 0 {
		t.Errorf("Expected size 0, got %d", size)
	}
}

func TestSetCursorOnFirst(t *testing.T) {
	m := NewManager()
	setABC(m)

	cur := m.Current()
	if cur == nil {
		t.Fatal("Current nil on non-empty queue")
	}
	if cur.Path != "/music/a.mp3" {
		t.Errorf("Expected /music/a.mp3 first, got %s", cur.Path)
	}
	if cur.ID == "" {
		t.Error("Item has empty ID")
	}
}

func TestAppendToEmpty(t *testing.T) {
	m := NewManager()
	m.AppendPaths([]string{"/music/a.mp3"})

	cur := m.Current()
	if cur == nil || cur.Path != "/music/a.mp3" {
		t.Errorf("Expected current /music/a.mp3 after append to empty, got %v", cur)
	}
}

func TestRepeatOffStopsAtEnd(t *testing.T) {
	m := NewManager()
	setABC(m)

	if it := m.Next(); it == nil || it.Path != "/music/b.mp3" {
		t.Fatalf("First Next = %v, want b", it)
	}
	if it := m.Next(); it == nil || it.Path != "/music/c.mp3" {
		t.Fatalf("Second Next = %v, want c", it)
	}
	if it := m.Next(); it != nil {
		t.Errorf("Next past end with repeat off = %v, want nil", it)
	}
	// Cursor stays on the last track.
	if cur := m.Current(); cur == nil || cur.Path != "/music/c.mp3" {
		t.Errorf("Current after end = %v, want c", cur)
	}
}

func TestRepeatAllWraps(t *testing.T) {
	m := NewManager()
	setABC(m)
	m.SetRepeat(types.RepeatAll)

	m.Next()
	m.Next()
	if it := m.Next(); it == nil || it.Path != "/music/a.mp3" {
		t.Errorf("Next past end with repeat all = %v, want a", it)
	}
}

func TestRepeatOneStays(t *testing.T) {
	m := NewManager()
	setABC(m)
	m.Next() // on b
	m.SetRepeat(types.RepeatOne)

	for i := 0; i < 3; i++ {
		if it := m.Next(); it == nil || it.Path != "/music/b.mp3" {
			t.Fatalf("Next %d with repeat one = %v, want b", i, it)
		}
	}
}

func TestPrevWalksHistory(t *testing.T) {
	m := NewManager()
	setABC(m)

	m.Next() // a -> b
	m.Next() // b -> c

	if it := m.Prev(); it == nil || it.Path != "/music/b.mp3" {
		t.Errorf("First Prev = %v, want b", it)
	}
	if it := m.Prev(); it == nil || it.Path != "/music/a.mp3" {
		t.Errorf("Second Prev = %v, want a", it)
	}
	// At the start with repeat off, Prev stays on the first track.
	if it := m.Prev(); it == nil || it.Path != "/music/a.mp3" {
		t.Errorf("Prev at start = %v, want a", it)
	}
}

func TestPrevAfterFailedNextSkipsCurrent(t *testing.T) {
	// A Next that hits the end with repeat off does not advance, so it
	// must not leave a history entry either. Prev afterwards goes to the
	// track before the current one, not back onto the current one.
	m := NewManager()
	setABC(m)

	m.Next() // a -> b
	m.Next() // b -> c
	if it := m.Next(); it != nil {
		t.Fatalf("Next past end = %v, want nil", it)
	}

	if it := m.Prev(); it == nil || it.Path != "/music/b.mp3" {
		t.Errorf("Prev after failed Next = %v, want b", it)
	}
}

func TestPrevWrapsWithRepeatAll(t *testing.T) {
	m := NewManager()
	setABC(m)
	m.SetRepeat(types.RepeatAll)

	if it := m.Prev(); it == nil || it.Path != "/music/c.mp3" {
		t.Errorf("Prev at start with repeat all = %v, want c", it)
	}
}

func TestJump(t *testing.T) {
	m := NewManager()
	setABC(m)

	if it := m.Jump(2); it == nil || it.Path != "/music/c.mp3" {
		t.Errorf("Jump(2) = %v, want c", it)
	}
	if it := m.Jump(5); it != nil {
		t.Errorf("Jump out of range = %v, want nil", it)
	}
	// Prev after a jump returns to where we were.
	if it := m.Prev(); it == nil || it.Path != "/music/a.mp3" {
		t.Errorf("Prev after jump = %v, want a", it)
	}
}

func TestRemoveCurrentClampsCursor(t *testing.T) {
	m := NewManager()
	setABC(m)
	m.Next() // on b

	if !m.Remove(1) {
		t.Fatal("Remove(1) failed")
	}
	// Cursor lands on the following track.
	if cur := m.Current(); cur == nil || cur.Path != "/music/c.mp3" {
		t.Errorf("Current after removing current = %v, want c", cur)
	}

	// Removing the last item clamps to the new end.
	m.Remove(1) // removes c, leaving only a
	if cur := m.Current(); cur == nil || cur.Path != "/music/a.mp3" {
		t.Errorf("Current after clamp = %v, want a", cur)
	}
}

func TestRemoveAllEmptiesQueue(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/music/a.mp3"})
	m.Remove(0)

	if m.Current() != nil {
		t.Error("Current non-nil after removing everything")
	}
}

func TestRemoveBeforeCurrentKeepsTrack(t *testing.T) {
	m := NewManager()
	setABC(m)
	m.Next() // on b

	m.Remove(0)
	if cur := m.Current(); cur == nil || cur.Path != "/music/b.mp3" {
		t.Errorf("Current after removing earlier item = %v, want b", cur)
	}
}

func TestMoveKeepsCursorOnTrack(t *testing.T) {
	m := NewManager()
	setABC(m)
	m.Next() // on b

	if !m.Move(1, 0) {
		t.Fatal("Move failed")
	}
	if cur := m.Current(); cur == nil || cur.Path != "/music/b.mp3" {
		t.Errorf("Current after moving current = %v, want b", cur)
	}

	items := m.Items()
	if items[0].Path != "/music/b.mp3" || items[1].Path != "/music/a.mp3" {
		t.Errorf("Item order after move = %s, %s", items[0].Path, items[1].Path)
	}
}

func TestInsertNext(t *testing.T) {
	m := NewManager()
	setABC(m)

	m.InsertNext(NewItem("/music/x.mp3", nil))
	if it := m.Next(); it == nil || it.Path != "/music/x.mp3" {
		t.Errorf("Next after InsertNext = %v, want x", it)
	}
}

func TestShuffleKeepsCurrentFirst(t *testing.T) {
	m := NewManager()
	paths := make([]string, 20)
	for i := range paths {
		paths[i] = fmt.Sprintf("/music/track%02d.mp3", i)
	}
	m.SetPaths(paths)
	m.Next() // now on track index 1

	before := m.Current().Path
	m.SetShuffle(true)
	if cur := m.Current(); cur == nil || cur.Path != before {
		t.Errorf("Current changed across shuffle toggle: %v, want %s", cur, before)
	}

	m.SetShuffle(false)
	if cur := m.Current(); cur == nil || cur.Path != before {
		t.Errorf("Current changed across shuffle disable: %v, want %s", cur, before)
	}
}

func TestShuffleCoversAllTracks(t *testing.T) {
	m := NewManager()
	setABC(m)
	m.SetShuffle(true)

	seen := map[string]bool{m.Current().Path: true}
	for i := 0; i < 2; i++ {
		it := m.Next()
		if it == nil {
			t.Fatalf("Next %d = nil mid-shuffle", i)
		}
		seen[it.Path] = true
	}
	if len(seen) != 3 {
		t.Errorf("Shuffle pass visited %d distinct tracks, want 3", len(seen))
	}
}

func TestShuffleWrapAvoidsImmediateRepeat(t *testing.T) {
	m := NewManager()
	paths := make([]string, 10)
	for i := range paths {
		paths[i] = fmt.Sprintf("/music/track%02d.mp3", i)
	}
	m.SetPaths(paths)
	m.SetRepeat(types.RepeatAll)
	m.SetShuffle(true)

	// Run several full passes; at each wrap the first track of the new
	// pass must differ from the last track of the old pass.
	for pass := 0; pass < 20; pass++ {
		var last string
		for i := 0; i < len(paths)-1; i++ {
			last = m.Next().Path
		}
		first := m.Next() // wraps
		if first.Path == last {
			t.Fatalf("Pass %d: wrap repeated %s immediately", pass, last)
		}
	}
}

func TestSingleTrackShuffleWrap(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/music/only.mp3"})
	m.SetRepeat(types.RepeatAll)
	m.SetShuffle(true)

	// With one track an immediate repeat is the only possibility.
	if it := m.Next(); it == nil || it.Path != "/music/only.mp3" {
		t.Errorf("Next on single-track shuffle = %v, want the track", it)
	}
}

func TestOnChangeFires(t *testing.T) {
	m := NewManager()
	calls := 0
	m.SetOnChange(func() { calls++ })

	setABC(m)
	m.Next()
	m.Remove(0)

	if calls != 3 {
		t.Errorf("Expected 3 change callbacks, got %d", calls)
	}
}
