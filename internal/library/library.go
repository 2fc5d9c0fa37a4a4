// Package library provides the minimal track catalog the player needs:
// a flat listing of audio file paths under the configured roots, uniform
// random sampling for auto-populated queues, and a directory watch that
// keeps the listing fresh. Tag reading and deeper scanning live elsewhere.
package library

import (
	"context"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// supportedExtensions are the audio file extensions collected by the walk.
var supportedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
	".oga":  true,
	".wav":  true,
	".aiff": true,
	".aif":  true,
	".wma":  true,
	".alac": true,
	".opus": true,
}

// refreshDebounce coalesces bursts of filesystem events into one rescan.
const refreshDebounce = 2 * time.Second

// Provider supplies random tracks for "just press play" on an empty queue.
type Provider interface {
	RandomTracks(n int) []string
}

// Library is a filesystem-backed Provider over one or more root
// directories.
type Library struct {
	mu     sync.RWMutex
	roots  []string
	tracks []string
	rng    *rand.Rand

	watcher *fsnotify.Watcher
	kick    chan struct{}
}

// New creates a library over roots and performs the initial walk.
func New(roots []string) *Library {
	l := &Library{
		roots: append([]string(nil), roots...),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		kick:  make(chan struct{}, 1),
	}
	l.Refresh()
	return l
}

// Refresh rescans every root synchronously.
func (l *Library) Refresh() {
	var tracks []string
	for _, root := range l.roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtrees are skipped, not fatal.
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				// Hidden directories tend to hold caches, not music. A
				// root the user explicitly configured is exempt even when
				// its own name starts with a dot.
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if supportedExtensions[strings.ToLower(filepath.Ext(path))] {
				tracks = append(tracks, path)
			}
			return nil
		})
		if err != nil {
			log.Printf("[LIBRARY] walk %s: %v", root, err)
		}
	}
	sort.Strings(tracks)

	l.mu.Lock()
	l.tracks = tracks
	l.mu.Unlock()

	log.Printf("[LIBRARY] %d tracks across %d roots", len(tracks), len(l.roots))
}

// Size returns the number of known tracks.
func (l *Library) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tracks)
}

// Tracks returns a copy of the full listing.
func (l *Library) Tracks() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.tracks...)
}

// RandomTracks samples up to n distinct tracks uniformly.
func (l *Library) RandomTracks(n int) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || len(l.tracks) == 0 {
		return nil
	}
	if n >= len(l.tracks) {
		out := append([]string(nil), l.tracks...)
		l.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}

	// Partial Fisher-Yates over an index permutation; picks n without
	// replacement in O(n) extra space.
	idx := make([]int, len(l.tracks))
	for i := range idx {
		idx[i] = i
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		j := i + l.rng.Intn(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
		out[i] = l.tracks[idx[i]]
	}
	return out
}

// Watch refreshes the listing when files under the roots change. Events
// are debounced so a large copy or deletion triggers a single rescan.
// Blocks until ctx is cancelled; run it on its own goroutine.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	l.watcher = watcher

	for _, root := range l.roots {
		if err := l.watchTree(root); err != nil {
			log.Printf("[LIBRARY] watch %s: %v", root, err)
		}
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				// New directories need their own watch.
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					l.watchTree(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(refreshDebounce)
				timerC = timer.C
			} else {
				timer.Reset(refreshDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[LIBRARY] watcher: %v", err)

		case <-timerC:
			timer = nil
			timerC = nil
			l.Refresh()

		case <-l.kick:
			l.Refresh()
		}
	}
}

// Kick requests an out-of-band refresh from the watch goroutine.
func (l *Library) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// watchTree adds root and every subdirectory to the watcher.
func (l *Library) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := l.watcher.Add(path); err != nil {
			log.Printf("[LIBRARY] watch %s: %v", path, err)
		}
		return nil
	})
}
