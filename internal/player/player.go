// Package player orchestrates the playback queue and the decode engine.
// It is the only component that sends Load commands, owns the
// event-projected playback state, and fans engine events out to IPC
// subscribers and the OS media session.
package player

import (
	"errors"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tonearm-audio/tonearm/internal/audio"
	"github.com/tonearm-audio/tonearm/internal/library"
	"github.com/tonearm-audio/tonearm/internal/media"
	"github.com/tonearm-audio/tonearm/internal/queue"
	"github.com/tonearm-audio/tonearm/internal/types"
)

// ErrChannelClosed is returned when the decode engine has shut down and
// can no longer accept commands.
var ErrChannelClosed = errors.New("player command channel closed")

// ErrQueueEmpty is returned by transport commands that need a current
// track when the queue has none and none could be auto-populated.
var ErrQueueEmpty = errors.New("queue is empty")

const (
	// Previous restarts the current track instead of going back once
	// this much has played.
	previousRestartThreshold = 3 * time.Second

	// Play on an empty queue pulls this many random library tracks.
	autoPopulateCount = 25

	subscriberQueueSize = 16
)

// State is the orchestrator's projection of playback, derived purely
// from the engine's confirmed event stream plus live queue counters.
type State struct {
	Status   types.PlaybackStatus `json:"status"`
	Path     string               `json:"path,omitempty"`
	Metadata *types.TrackMetadata `json:"metadata,omitempty"`
	Position time.Duration        `json:"position"`
	Duration time.Duration        `json:"duration"`
	Format   types.FormatInfo     `json:"format"`
	Volume   float64              `json:"volume"`

	QueueIndex int              `json:"queueIndex"`
	QueueLen   int              `json:"queueLen"`
	Shuffle    bool             `json:"shuffle"`
	Repeat     types.RepeatMode `json:"repeat"`
}

// Player drives the engine from queue state and user commands.
type Player struct {
	engine *audio.Engine
	queue  *queue.Manager
	lib    library.Provider

	mu       sync.Mutex
	session  media.Session
	status   types.PlaybackStatus
	path     string
	position time.Duration
	duration time.Duration
	format   types.FormatInfo
	volume   float64
	resumeAt time.Duration

	subscribers map[int]chan audio.Event
	nextSubID   int
}

// New wires the orchestrator. lib may be nil; auto-populate is then
// disabled.
func New(engine *audio.Engine, q *queue.Manager, lib library.Provider) *Player {
	return &Player{
		engine:      engine,
		queue:       q,
		lib:         lib,
		session:     media.NewNoOpSession(),
		status:      types.StatusStopped,
		volume:      1.0,
		subscribers: make(map[int]chan audio.Event),
	}
}

// SetMediaSession swaps in an OS media session and registers the player
// as its command handler.
func (p *Player) SetMediaSession(s media.Session) {
	if s == nil {
		s = media.NewNoOpSession()
	}
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
	s.SetCommandHandler(p)
	s.UpdateShuffle(p.queue.Shuffle())
	s.UpdateRepeat(p.queue.Repeat())
}

// Queue exposes the queue manager for IPC queue mutations.
func (p *Player) Queue() *queue.Manager { return p.queue }

// PlayFile replaces the queue with a single track and starts it.
func (p *Player) PlayFile(path string) error {
	p.queue.SetPaths([]string{path})
	return p.loadAndPlayCurrent()
}

// SetQueue replaces the queue. When play is true the first effective
// track starts immediately.
func (p *Player) SetQueue(paths []string, play bool) error {
	p.queue.SetPaths(paths)
	if !play {
		return nil
	}
	return p.loadAndPlayCurrent()
}

// Play resumes paused playback, restarts a stopped current track, or
// auto-populates an empty queue from the library.
func (p *Player) Play() error {
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()

	switch status {
	case types.StatusPlaying, types.StatusLoading:
		return nil
	case types.StatusPaused:
		return p.send(audio.Command{Type: audio.CmdPlay})
	}

	if p.queue.Current() == nil {
		if p.lib == nil {
			return ErrQueueEmpty
		}
		tracks := p.lib.RandomTracks(autoPopulateCount)
		if len(tracks) == 0 {
			return ErrQueueEmpty
		}
		log.Printf("[PLAYER] empty queue, picked %d random tracks", len(tracks))
		p.queue.SetPaths(tracks)
	}
	return p.loadAndPlayCurrent()
}

// Pause halts output without losing position.
func (p *Player) Pause() error {
	return p.send(audio.Command{Type: audio.CmdPause})
}

// Stop tears down the current track.
func (p *Player) Stop() error {
	return p.send(audio.Command{Type: audio.CmdStop})
}

// Next advances the queue. At the end with repeat off playback stops
// and the cursor stays on the last track.
func (p *Player) Next() error {
	if p.queue.Next() == nil {
		return p.Stop()
	}
	return p.loadAndPlayCurrent()
}

// Previous restarts the current track when more than a few seconds have
// played, otherwise steps back through play history.
func (p *Player) Previous() error {
	p.mu.Lock()
	pos := p.position
	status := p.status
	p.mu.Unlock()

	if pos > previousRestartThreshold && status != types.StatusStopped {
		return p.Seek(0)
	}
	if p.queue.Prev() == nil {
		return ErrQueueEmpty
	}
	return p.loadAndPlayCurrent()
}

// JumpTo starts playback at queue position i.
func (p *Player) JumpTo(i int) error {
	if p.queue.Jump(i) == nil {
		return ErrQueueEmpty
	}
	return p.loadAndPlayCurrent()
}

// Seek moves to a fraction (0..1) of the current track.
func (p *Player) Seek(frac float64) error {
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	if err := p.send(audio.Command{Type: audio.CmdSeek, Seek: frac}); err != nil {
		return err
	}

	p.mu.Lock()
	target := time.Duration(frac * float64(p.duration))
	session := p.session
	p.mu.Unlock()
	session.NotifySeeked(target)
	return nil
}

// SetVolume sets output volume 0..1. Volume has no engine event, so the
// projection updates eagerly.
func (p *Player) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	if err := p.send(audio.Command{Type: audio.CmdSetVolume, Volume: v}); err != nil {
		return err
	}

	p.mu.Lock()
	p.volume = v
	session := p.session
	p.mu.Unlock()
	session.UpdateVolume(v)
	return nil
}

// SetShuffle toggles queue shuffle.
func (p *Player) SetShuffle(enabled bool) {
	p.queue.SetShuffle(enabled)
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	session.UpdateShuffle(enabled)
}

// SetRepeat sets the repeat mode.
func (p *Player) SetRepeat(mode types.RepeatMode) {
	p.queue.SetRepeat(mode)
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	session.UpdateRepeat(mode)
}

// ResumeAt seeks to d once the next track load completes. Used to
// restore a remembered position across daemon restarts.
func (p *Player) ResumeAt(d time.Duration) {
	p.mu.Lock()
	p.resumeAt = d
	p.mu.Unlock()
}

// Shutdown asks the engine to exit. Safe to call more than once.
func (p *Player) Shutdown() {
	p.send(audio.Command{Type: audio.CmdShutdown})
}

// State returns the current projected playback state.
func (p *Player) State() State {
	idx, n := p.queue.Index()
	var md *types.TrackMetadata
	if item := p.queue.Current(); item != nil {
		md = item.Metadata
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Status:     p.status,
		Path:       p.path,
		Metadata:   md,
		Position:   p.position,
		Duration:   p.duration,
		Format:     p.format,
		Volume:     p.volume,
		QueueIndex: idx,
		QueueLen:   n,
		Shuffle:    p.queue.Shuffle(),
		Repeat:     p.queue.Repeat(),
	}
}

// PollEvents drains up to max pending engine events without blocking,
// applying each to the projection and fanning it out to subscribers.
// This is the single consumer of the engine event channel; exactly one
// goroutine may call it.
func (p *Player) PollEvents(max int) []audio.Event {
	var out []audio.Event
	for len(out) < max {
		select {
		case ev, ok := <-p.engine.Events():
			if !ok {
				return out
			}
			p.applyEvent(ev)
			p.fanOut(ev)
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}

// Spectra exposes the engine's spectrum channel for the IPC push path.
func (p *Player) Spectra() <-chan audio.Spectrum { return p.engine.Spectra() }

// Subscribe registers a bounded event queue. Slow subscribers lose the
// oldest event rather than blocking playback, except a PlaybackFinished
// is never displaced by a lesser event.
func (p *Player) Subscribe() (int, <-chan audio.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan audio.Event, subscriberQueueSize)
	p.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber queue.
func (p *Player) Unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.subscribers[id]; ok {
		delete(p.subscribers, id)
		close(ch)
	}
}

// OnMediaCommand translates OS media-key commands into player calls.
func (p *Player) OnMediaCommand(cmd media.Command, data interface{}) error {
	switch cmd {
	case media.CmdPlay:
		return p.Play()
	case media.CmdPause:
		return p.Pause()
	case media.CmdPlayPause:
		p.mu.Lock()
		playing := p.status == types.StatusPlaying || p.status == types.StatusLoading
		p.mu.Unlock()
		if playing {
			return p.Pause()
		}
		return p.Play()
	case media.CmdStop:
		return p.Stop()
	case media.CmdNext:
		return p.Next()
	case media.CmdPrevious:
		return p.Previous()
	case media.CmdSeek:
		offset, ok := data.(time.Duration)
		if !ok {
			return nil
		}
		p.mu.Lock()
		pos, dur := p.position, p.duration
		p.mu.Unlock()
		if dur <= 0 {
			return nil
		}
		return p.Seek(float64(pos+offset) / float64(dur))
	case media.CmdSetVolume:
		if v, ok := data.(float64); ok {
			return p.SetVolume(v)
		}
	case media.CmdSetShuffle:
		if enabled, ok := data.(bool); ok {
			p.SetShuffle(enabled)
		}
	case media.CmdSetRepeat:
		if mode, ok := data.(types.RepeatMode); ok {
			p.SetRepeat(mode)
		}
	}
	return nil
}

func (p *Player) loadAndPlayCurrent() error {
	item := p.queue.Current()
	if item == nil {
		return ErrQueueEmpty
	}
	if err := p.send(audio.Command{Type: audio.CmdLoad, Path: item.Path}); err != nil {
		return err
	}
	return p.send(audio.Command{Type: audio.CmdPlay})
}

func (p *Player) send(cmd audio.Command) error {
	err := p.engine.Send(cmd)
	if errors.Is(err, audio.ErrEngineStopped) {
		p.mu.Lock()
		p.status = types.StatusStopped
		p.mu.Unlock()
		return ErrChannelClosed
	}
	return err
}

func (p *Player) applyEvent(ev audio.Event) {
	p.mu.Lock()
	session := p.session

	switch ev.Type {
	case audio.EventStatusChanged:
		p.status = ev.Status
		pos := p.position
		p.mu.Unlock()
		session.UpdatePlayback(ev.Status, pos)
		return

	case audio.EventTrackLoaded:
		p.path = ev.Path
		p.duration = ev.Duration
		p.format = ev.Format
		p.position = 0
		resume := p.resumeAt
		p.resumeAt = 0
		p.mu.Unlock()
		session.UpdateMetadata(p.mediaMetadata(ev.Path, ev.Duration))
		if resume > 0 && ev.Duration > 0 && resume < ev.Duration {
			if err := p.Seek(float64(resume) / float64(ev.Duration)); err != nil {
				log.Printf("[PLAYER] position resume failed: %v", err)
			}
		}
		return

	case audio.EventPositionChanged:
		p.position = ev.Position
		p.mu.Unlock()
		return

	case audio.EventPlaybackFinished:
		p.position = p.duration
		p.mu.Unlock()
		// Advance past the finished track. RepeatOne makes Next return
		// the same item, which reloads it from the top.
		if p.queue.Next() != nil {
			if err := p.loadAndPlayCurrent(); err != nil && !errors.Is(err, ErrChannelClosed) {
				log.Printf("[PLAYER] auto-advance failed: %v", err)
			}
		}
		return

	case audio.EventError:
		p.mu.Unlock()
		log.Printf("[PLAYER] playback error: %v", ev.Err)
		return
	}
	p.mu.Unlock()
}

func (p *Player) fanOut(ev audio.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Queue full. Displace the oldest unless it is a finish marker
		// the newcomer is not.
		keep := ev
		select {
		case old := <-ch:
			if old.Type == audio.EventPlaybackFinished && ev.Type != audio.EventPlaybackFinished {
				keep = old
			}
		default:
		}
		select {
		case ch <- keep:
		default:
		}
	}
}

// mediaMetadata builds what the OS shows. Explicit metadata from the
// control surface wins; otherwise the file name stands in for a title.
func (p *Player) mediaMetadata(path string, duration time.Duration) media.Metadata {
	md := media.Metadata{Duration: duration}
	if item := p.queue.Current(); item != nil && item.Metadata != nil {
		md.Title = item.Metadata.Title
		md.Artist = item.Metadata.Artist
		md.Album = item.Metadata.Album
		md.ArtPath = item.Metadata.ArtPath
	}
	if md.Title == "" {
		base := filepath.Base(path)
		md.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return md
}
