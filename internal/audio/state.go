package audio

import (
	"math"
	"sync/atomic"
	"time"
)

// State is the lock-free shared state between the decode goroutine, the
// real-time output callback, and diagnostic readers.
//
// Every field is an independent atomic cell; there is no cross-field
// transaction. The output callback reads volume/playing/flushing with plain
// atomic loads and never touches a mutex.
//
// Write ownership:
//   - volume: command side
//   - playing, flushing, position: decode side
//   - underruns, callback counters, fill percent: output callback
type State struct {
	volumeBits atomic.Uint32
	playing    atomic.Bool
	flushing   atomic.Bool
	position   atomic.Int64 // nanoseconds

	underruns     atomic.Uint32
	callbackCount atomic.Uint64
	samplesOut    atomic.Uint64
	peakCallback  atomic.Uint32 // microseconds
	bufferFill    atomic.Uint32 // 0-100
}

// NewState returns a State with volume at full scale.
func NewState() *State {
	s := &State{}
	s.SetVolume(1.0)
	return s
}

// Volume returns the current volume, 0.0-1.0.
func (s *State) Volume() float32 {
	return math.Float32frombits(s.volumeBits.Load())
}

// SetVolume stores the volume, clamped to 0.0-1.0.
func (s *State) SetVolume(v float32) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.volumeBits.Store(math.Float32bits(v))
}

// Playing reports whether playback is active.
func (s *State) Playing() bool {
	return s.playing.Load()
}

// SetPlaying sets the playing flag.
func (s *State) SetPlaying(p bool) {
	s.playing.Store(p)
}

// Flushing reports whether a buffer flush has been requested.
func (s *State) Flushing() bool {
	return s.flushing.Load()
}

// StartFlush asks the output callback to drain buffered samples and emit
// silence until the decode side has primed fresh data.
func (s *State) StartFlush() {
	s.flushing.Store(true)
}

// StopFlush resumes normal playback. Called by the decode side only, after
// new samples have been pushed.
func (s *State) StopFlush() {
	s.flushing.Store(false)
}

// Position returns the current playback position.
func (s *State) Position() time.Duration {
	return time.Duration(s.position.Load())
}

// SetPosition stores the playback position.
func (s *State) SetPosition(d time.Duration) {
	s.position.Store(int64(d))
}

// Underruns returns the number of starved callback invocations.
func (s *State) Underruns() uint32 {
	return s.underruns.Load()
}

// AddUnderrun increments the underrun counter and returns the new value.
func (s *State) AddUnderrun() uint32 {
	return s.underruns.Add(1)
}

// RecordCallback accounts one output callback invocation: samples written
// and elapsed wall time. The peak duration is kept via CAS so concurrent
// slower callbacks cannot regress it.
func (s *State) RecordCallback(samples int, elapsed time.Duration) {
	s.callbackCount.Add(1)
	s.samplesOut.Add(uint64(samples))

	us := uint32(elapsed.Microseconds())
	for {
		peak := s.peakCallback.Load()
		if us <= peak || s.peakCallback.CompareAndSwap(peak, us) {
			return
		}
	}
}

// SetBufferFill stores the ring buffer fill level, 0-100.
func (s *State) SetBufferFill(percent int) {
	if percent > 100 {
		percent = 100
	} else if percent < 0 {
		percent = 0
	}
	s.bufferFill.Store(uint32(percent))
}

// PerformanceStats is a diagnostic snapshot of the output path.
type PerformanceStats struct {
	CallbackCount     uint64 `json:"callbackCount"`
	SamplesOut        uint64 `json:"samplesOut"`
	PeakCallbackUs    uint32 `json:"peakCallbackUs"`
	Underruns         uint32 `json:"underruns"`
	BufferFillPercent uint32 `json:"bufferFillPercent"`
}

// Healthy reports whether the output path is keeping up: few underruns
// relative to callbacks and no pathological callback durations.
func (p PerformanceStats) Healthy() bool {
	if p.CallbackCount == 0 {
		return true
	}
	if p.PeakCallbackUs > 10000 {
		return false
	}
	return uint64(p.Underruns)*100 < p.CallbackCount
}

// Stats returns a point-in-time performance snapshot. Fields are read
// independently; the snapshot is not transactionally consistent.
func (s *State) Stats() PerformanceStats {
	return PerformanceStats{
		CallbackCount:     s.callbackCount.Load(),
		SamplesOut:        s.samplesOut.Load(),
		PeakCallbackUs:    s.peakCallback.Load(),
		Underruns:         s.underruns.Load(),
		BufferFillPercent: s.bufferFill.Load(),
	}
}

// ResetStats zeroes the diagnostic counters. Volume, playing, flushing and
// position are untouched.
func (s *State) ResetStats() {
	s.underruns.Store(0)
	s.callbackCount.Store(0)
	s.samplesOut.Store(0)
	s.peakCallback.Store(0)
}
