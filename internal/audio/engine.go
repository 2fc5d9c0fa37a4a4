package audio

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/tonearm-audio/tonearm/internal/decode"
	"github.com/tonearm-audio/tonearm/internal/resample"
	"github.com/tonearm-audio/tonearm/internal/ring"
	"github.com/tonearm-audio/tonearm/internal/types"
)

const (
	commandQueueSize  = 32
	eventQueueSize    = 64
	spectrumQueueSize = 4

	// decodeBlockFrames is how many source frames one decode step reads.
	decodeBlockFrames = 1024

	// ringFullBackoff bounds the sleep between push retries when the ring
	// has no room. Short enough that a seek lands within a frame or two.
	ringFullBackoff = 2 * time.Millisecond

	// drainPoll is the wait between ring-empty checks at end of stream.
	drainPoll = 5 * time.Millisecond

	// positionInterval throttles PositionChanged events.
	positionInterval = 250 * time.Millisecond
)

// Engine is the decode goroutine. It owns the decoder source and the
// producer side of the ring buffer, accepts commands, and reports confirmed
// state changes as events. Commands are processed between decode blocks
// while playing and block the goroutine while idle.
type Engine struct {
	cmds     chan Command
	events   chan Event
	spectrum chan Spectrum
	done     chan struct{}

	buf      *ring.Buffer
	state    *State
	registry *decode.Registry
	analyzer *Analyzer

	outRate     int
	outChannels int

	// decode session, owned by the run goroutine
	src       decode.Source
	conv      *resample.Converter
	path      string
	duration  time.Duration
	posFrames int64
	srcRate   int
	srcCh     int
	readBuf   []float32
	mixBuf    []float32
	carry     []float32
	carryBuf  []float32
	eos       bool

	lastPosEvent time.Time
}

// NewEngine creates an engine producing into buf at the device rate and
// channel layout. Call Start to launch the goroutine.
func NewEngine(registry *decode.Registry, buf *ring.Buffer, state *State, outRate, outChannels int) *Engine {
	return &Engine{
		cmds:        make(chan Command, commandQueueSize),
		events:      make(chan Event, eventQueueSize),
		spectrum:    make(chan Spectrum, spectrumQueueSize),
		done:        make(chan struct{}),
		buf:         buf,
		state:       state,
		registry:    registry,
		analyzer:    NewAnalyzer(outRate),
		outRate:     outRate,
		outChannels: outChannels,
	}
}

// Start launches the decode goroutine. It exits on ctx cancellation or a
// Shutdown command, closing Done.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

// Send queues a command without blocking. It fails when the engine has
// stopped or the command queue is saturated.
func (e *Engine) Send(cmd Command) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.cmds <- cmd:
		return nil
	case <-e.done:
		return ErrEngineStopped
	default:
		return ErrCommandQueueFull
	}
}

// Events returns the confirmed-state-change channel.
func (e *Engine) Events() <-chan Event { return e.events }

// Spectra returns the visualization frame channel.
func (e *Engine) Spectra() <-chan Spectrum { return e.spectrum }

// Done is closed when the decode goroutine has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer e.closeSource()

	for {
		if e.src != nil && (e.state.Playing() || len(e.carry) > 0) {
			// Poll between blocks so commands stay responsive.
			select {
			case <-ctx.Done():
				return
			case cmd := <-e.cmds:
				if e.handle(cmd) {
					return
				}
			default:
				e.step()
			}
			continue
		}

		// Idle: block until something to do.
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmds:
			if e.handle(cmd) {
				return
			}
		}
	}
}

// handle applies one command, reporting whether to shut down.
func (e *Engine) handle(cmd Command) bool {
	switch cmd.Type {
	case CmdLoad:
		return e.handleLoad(cmd)

	case CmdPlay:
		if e.src != nil && !e.state.Playing() {
			e.state.SetPlaying(true)
			e.emit(Event{Type: EventStatusChanged, Status: types.StatusPlaying})
		}

	case CmdPause:
		if e.state.Playing() {
			e.state.SetPlaying(false)
			e.emit(Event{Type: EventStatusChanged, Status: types.StatusPaused})
		}

	case CmdStop:
		e.stop()

	case CmdSeek:
		e.seek(cmd.Seek)

	case CmdSetVolume:
		e.state.SetVolume(float32(cmd.Volume))

	case CmdShutdown:
		return true
	}
	return false
}

// handleLoad implements latest-generation-wins: loads queued behind this
// one supersede it, both before and after the file is opened, so rapid
// track changes surface exactly one TrackLoaded for the final target.
// Commands queued behind the winning load are replayed in order once it
// settles, so a Load immediately followed by Play still starts playback.
// Commands between two loads addressed a superseded track and are
// dropped with it.
func (e *Engine) handleLoad(cmd Command) bool {
	var pending []Command
	for {
		latest, rest, shutdown := e.drainLoads()
		if shutdown {
			return true
		}
		if latest != nil {
			cmd = *latest
			pending = rest
		} else {
			pending = append(pending, rest...)
		}

		e.state.StartFlush()
		e.state.SetPlaying(false)
		e.state.SetPosition(0)
		e.closeSource()
		e.carry = nil
		e.eos = false
		e.analyzer.Reset()

		e.emit(Event{Type: EventStatusChanged, Status: types.StatusLoading})

		src, err := e.registry.Open(cmd.Path)

		// A load that arrived while the file was opening wins; discard
		// this session before it produces anything.
		latest, rest, shutdown = e.drainLoads()
		if shutdown {
			if src != nil {
				src.Close()
			}
			return true
		}
		if latest != nil {
			if src != nil {
				src.Close()
			}
			cmd = *latest
			pending = rest
			continue
		}
		pending = append(pending, rest...)

		if err != nil {
			log.Printf("[ENGINE] load failed: %v", err)
			e.emit(Event{Type: EventError, Err: err})
			e.emit(Event{Type: EventStatusChanged, Status: types.StatusStopped})
			e.state.StopFlush()
			return e.replay(pending)
		}

		e.commitLoad(cmd.Path, src)
		return e.replay(pending)
	}
}

// drainLoads empties queued commands, returning the newest Load plus, in
// arrival order, the commands queued after it. A Load discards earlier
// non-Load commands: they were aimed at a superseded track.
func (e *Engine) drainLoads() (latest *Command, rest []Command, shutdown bool) {
	for {
		select {
		case c := <-e.cmds:
			switch c.Type {
			case CmdLoad:
				c := c
				latest = &c
				rest = rest[:0]
			case CmdShutdown:
				return nil, nil, true
			case CmdSetVolume:
				// Volume is track-independent, apply it right away.
				e.state.SetVolume(float32(c.Volume))
			default:
				rest = append(rest, c)
			}
		default:
			return latest, rest, false
		}
	}
}

// replay applies commands that were queued behind a load, preserving
// their order. Reports whether one of them was a shutdown.
func (e *Engine) replay(cmds []Command) bool {
	for _, c := range cmds {
		if e.handle(c) {
			return true
		}
	}
	return false
}

// commitLoad adopts an opened source as the current session. The flush
// protocol completes here: flushing was raised before teardown and is
// cleared only once fresh samples are staged, so the output callback never
// mixes old and new audio.
func (e *Engine) commitLoad(path string, src decode.Source) {
	e.src = src
	e.path = path
	e.duration = src.Duration()
	e.posFrames = 0
	e.srcRate = src.SampleRate()
	e.srcCh = src.Channels()
	e.conv = resample.New(e.srcRate, e.outRate, e.srcCh)
	e.readBuf = make([]float32, decodeBlockFrames*e.srcCh)

	format := src.Format()
	log.Printf("[ENGINE] loaded %s (%s %dHz %dch, %s)",
		path, format.Codec, e.srcRate, e.srcCh, types.FormatDuration(e.duration))

	// Stage the first block before lifting the flush so the callback
	// cannot discard fresh audio.
	e.primeBlock()
	e.state.StopFlush()

	e.emit(Event{
		Type:     EventTrackLoaded,
		Path:     path,
		Duration: e.duration,
		Format:   format,
	})
}

// stop tears down the current source. The ring drains via the flush flag,
// which stays raised until the next load primes new audio; with playing
// false the callback streams silence either way.
func (e *Engine) stop() {
	if e.src == nil && !e.state.Playing() {
		return
	}
	e.state.StartFlush()
	e.state.SetPlaying(false)
	e.state.SetPosition(0)
	e.closeSource()
	e.carry = nil
	e.eos = false
	e.emit(Event{Type: EventStatusChanged, Status: types.StatusStopped})
}

// seek repositions the source to frac of its duration, flushing buffered
// audio so no pre-seek samples reach the device.
func (e *Engine) seek(frac float64) {
	if e.src == nil || e.duration <= 0 {
		return
	}
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}

	frame := int64(frac * e.duration.Seconds() * float64(e.srcRate))

	e.state.StartFlush()
	e.carry = nil
	e.eos = false
	e.conv.Reset()
	e.analyzer.Reset()

	if err := e.src.SeekFrame(frame); err != nil {
		log.Printf("[ENGINE] seek failed: %v", err)
		e.emit(Event{Type: EventError, Err: err})
		e.state.StopFlush()
		return
	}

	e.posFrames = frame
	pos := e.framePosition()
	e.state.SetPosition(pos)

	e.primeBlock()
	e.state.StopFlush()

	e.emit(Event{Type: EventPositionChanged, Position: pos})
	e.lastPosEvent = time.Now()
}

// step advances the decode session by one unit of work: push staged
// samples, decode the next block, or drive end-of-stream.
func (e *Engine) step() {
	if len(e.carry) > 0 {
		n := e.buf.Write(e.carry)
		e.carry = e.carry[n:]
		if len(e.carry) > 0 {
			time.Sleep(ringFullBackoff)
			return
		}
	}

	if !e.state.Playing() {
		return
	}

	if e.eos {
		if e.buf.Len() > 0 {
			time.Sleep(drainPoll)
			return
		}
		e.finishTrack()
		return
	}

	n, err := e.src.ReadSamples(e.readBuf)
	if n > 0 {
		e.stage(e.readBuf[:n])
		e.posFrames += int64(n / e.srcCh)
		pos := e.framePosition()
		e.state.SetPosition(pos)
		if time.Since(e.lastPosEvent) >= positionInterval {
			e.emit(Event{Type: EventPositionChanged, Position: pos})
			e.lastPosEvent = time.Now()
		}
	}

	if err == io.EOF || errors.Is(err, io.EOF) {
		if tail := e.conv.Flush(); len(tail) > 0 {
			e.stage(tail)
		}
		e.eos = true
		return
	}
	if err != nil {
		log.Printf("[ENGINE] decode error: %v", err)
		e.emit(Event{Type: EventError, Err: err})
		e.stop()
	}
}

// primeBlock decodes one block into the staging buffer without touching the
// ring, for use under an active flush.
func (e *Engine) primeBlock() {
	n, err := e.src.ReadSamples(e.readBuf)
	if n > 0 {
		e.stage(e.readBuf[:n])
		e.posFrames += int64(n / e.srcCh)
	}
	if err == io.EOF || errors.Is(err, io.EOF) {
		if tail := e.conv.Flush(); len(tail) > 0 {
			e.stage(tail)
		}
		e.eos = true
	}
}

// stage resamples and channel-converts a block, feeds the analyzer, and
// appends the result to the staging buffer for the ring.
func (e *Engine) stage(in []float32) {
	out := e.conv.Process(in)
	out = e.mix(out)
	if len(out) == 0 {
		return
	}

	for _, frame := range e.analyzer.Push(out, e.outChannels) {
		select {
		case e.spectrum <- frame:
		default:
			// Visualization frames are disposable.
		}
	}

	if len(e.carry) == 0 {
		e.carryBuf = e.carryBuf[:0]
	}
	e.carryBuf = append(e.carryBuf, out...)
	e.carry = e.carryBuf
}

// mix converts interleaved samples from the source channel layout to the
// device layout: mono duplicates, surplus channels fold into an average.
func (e *Engine) mix(in []float32) []float32 {
	if e.srcCh == e.outChannels {
		return in
	}
	frames := len(in) / e.srcCh
	need := frames * e.outChannels
	if cap(e.mixBuf) < need {
		e.mixBuf = make([]float32, need)
	}
	e.mixBuf = e.mixBuf[:need]

	for f := 0; f < frames; f++ {
		src := in[f*e.srcCh : (f+1)*e.srcCh]
		dst := e.mixBuf[f*e.outChannels : (f+1)*e.outChannels]
		switch {
		case e.srcCh == 1:
			for ch := range dst {
				dst[ch] = src[0]
			}
		case e.outChannels == 1:
			var sum float32
			for _, v := range src {
				sum += v
			}
			dst[0] = sum / float32(e.srcCh)
		default:
			for ch := range dst {
				if ch < e.srcCh {
					dst[ch] = src[ch]
				} else {
					dst[ch] = src[e.srcCh-1]
				}
			}
		}
	}
	return e.mixBuf
}

// finishTrack runs after the last sample has left the ring.
func (e *Engine) finishTrack() {
	e.state.SetPlaying(false)
	if e.duration > 0 {
		e.state.SetPosition(e.duration)
	}
	e.closeSource()
	e.eos = false
	e.emit(Event{Type: EventPlaybackFinished})
	e.emit(Event{Type: EventStatusChanged, Status: types.StatusStopped})
}

func (e *Engine) framePosition() time.Duration {
	if e.srcRate <= 0 {
		return 0
	}
	return time.Duration(e.posFrames) * time.Second / time.Duration(e.srcRate)
}

func (e *Engine) closeSource() {
	if e.src != nil {
		e.src.Close()
		e.src = nil
	}
	e.conv = nil
}

// emit sends an event without blocking. When the queue is full the oldest
// event is dropped to make room, except a pending PlaybackFinished, which
// survives at the expense of the newcomer.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
		return
	default:
	}

	select {
	case old := <-e.events:
		if old.Type == EventPlaybackFinished && ev.Type != EventPlaybackFinished {
			ev = old
		}
	default:
	}

	select {
	case e.events <- ev:
	default:
	}
}
