package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tonearm-audio/tonearm/internal/decode"
	"github.com/tonearm-audio/tonearm/internal/ring"
	"github.com/tonearm-audio/tonearm/internal/types"
)

// fakeSource produces a fixed number of frames of a constant value at the
// device rate, so no resampling or channel mixing gets in the way.
type fakeSource struct {
	rate   int
	ch     int
	frames int64
	pos    int64
	value  float32
	failAt int64 // decode error at this frame, 0 = never
}

func (s *fakeSource) SampleRate() int { return s.rate }
func (s *fakeSource) Channels() int   { return s.ch }

func (s *fakeSource) ReadSamples(dst []float32) (int, error) {
	if s.failAt > 0 && s.pos >= s.failAt {
		return 0, errors.New("bitstream corrupt")
	}
	if s.pos >= s.frames {
		return 0, io.EOF
	}
	want := int64(len(dst) / s.ch)
	if want > s.frames-s.pos {
		want = s.frames - s.pos
	}
	for i := int64(0); i < want*int64(s.ch); i++ {
		dst[i] = s.value
	}
	s.pos += want
	return int(want) * s.ch, nil
}

func (s *fakeSource) SeekFrame(frame int64) error {
	s.pos = frame
	return nil
}

func (s *fakeSource) Duration() time.Duration {
	return time.Duration(s.frames) * time.Second / time.Duration(s.rate)
}

func (s *fakeSource) Format() types.FormatInfo {
	return types.FormatInfo{Codec: "FAKE", SampleRate: s.rate, Channels: s.ch, BitDepth: 16}
}

func (s *fakeSource) Close() error { return nil }

// testEngine wires an engine to a registry that decodes ".fake" files into
// fakeSources. The path encodes nothing; every open yields the same stream.
func testEngine(t *testing.T, frames int64, failAt int64) (*Engine, *ring.Buffer, *State, string) {
	t.Helper()
	return testEngineOpener(t, func(path string) (decode.Source, error) {
		return &fakeSource{rate: 44100, ch: 2, frames: frames, value: 0.5, failAt: failAt}, nil
	})
}

func testEngineOpener(t *testing.T, open decode.Opener) (*Engine, *ring.Buffer, *State, string) {
	t.Helper()

	reg := decode.NewRegistry()
	reg.Register(".fake", open)

	buf := ring.New(8192)
	state := NewState()
	e := NewEngine(reg, buf, state, 44100, 2)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e.Start(ctx)

	path := filepath.Join(t.TempDir(), "track.fake")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return e, buf, state, path
}

// waitEvent pulls events until one of type want arrives or the deadline
// passes, returning every event seen on the way.
func waitEvent(t *testing.T, e *Engine, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-e.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for event type %d", want)
		}
	}
}

func drainRing(buf *ring.Buffer) {
	scratch := make([]float32, 4096)
	for buf.Len() > 0 {
		buf.Read(scratch)
	}
}

func TestLoadEmitsTrackLoaded(t *testing.T) {
	e, _, _, path := testEngine(t, 44100, 0)

	if err := e.Send(Command{Type: CmdLoad, Path: path}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := waitEvent(t, e, EventTrackLoaded)
	if ev.Path != path {
		t.Errorf("TrackLoaded path = %q, want %q", ev.Path, path)
	}
	if ev.Duration != time.Second {
		t.Errorf("TrackLoaded duration = %v, want 1s", ev.Duration)
	}
	if ev.Format.Codec != "FAKE" {
		t.Errorf("TrackLoaded codec = %q, want FAKE", ev.Format.Codec)
	}
}

func TestRapidLoadsCoalesce(t *testing.T) {
	// A slow opener widens the window in which follow-up loads arrive,
	// which is exactly when supersession matters.
	e, _, _, path := testEngineOpener(t, func(path string) (decode.Source, error) {
		time.Sleep(20 * time.Millisecond)
		return &fakeSource{rate: 44100, ch: 2, frames: 44100, value: 0.5}, nil
	})

	// Fire several loads back to back; only the last should produce a
	// TrackLoaded.
	dir := filepath.Dir(path)
	var last string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, fmt.Sprintf("t%d.fake", i))
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := e.Send(Command{Type: CmdLoad, Path: p}); err != nil {
			t.Fatalf("Send load %d: %v", i, err)
		}
		last = p
	}

	ev := waitEvent(t, e, EventTrackLoaded)
	if ev.Path != last {
		t.Errorf("First TrackLoaded path = %q, want the last queued %q", ev.Path, last)
	}

	// No further TrackLoaded should follow.
	settle := time.After(200 * time.Millisecond)
	for {
		select {
		case ev := <-e.Events():
			if ev.Type == EventTrackLoaded {
				t.Fatalf("Unexpected second TrackLoaded for %q", ev.Path)
			}
		case <-settle:
			return
		}
	}
}

func TestLoadThenPlayBackToBack(t *testing.T) {
	// The orchestrator always queues Play right behind Load, so both sit
	// in the command queue when the load is picked up. The Play must
	// survive load coalescing and start playback.
	e, _, state, path := testEngine(t, 441000, 0)

	if err := e.Send(Command{Type: CmdLoad, Path: path}); err != nil {
		t.Fatalf("Send load: %v", err)
	}
	if err := e.Send(Command{Type: CmdPlay}); err != nil {
		t.Fatalf("Send play: %v", err)
	}

	waitEvent(t, e, EventTrackLoaded)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-e.Events():
			if ev.Type == EventStatusChanged && ev.Status == types.StatusPlaying {
				if !state.Playing() {
					t.Error("StatusChanged(playing) but shared state not playing")
				}
				return
			}
		case <-deadline:
			t.Fatalf("No StatusChanged(playing) after Load+Play, state.Playing=%v", state.Playing())
		}
	}
}

func TestCoalescedLoadsKeepTrailingPlay(t *testing.T) {
	// Several Load+Play pairs queued at once: only the last track loads,
	// and its Play still takes effect.
	e, _, state, path := testEngineOpener(t, func(path string) (decode.Source, error) {
		time.Sleep(10 * time.Millisecond)
		return &fakeSource{rate: 44100, ch: 2, frames: 441000, value: 0.5}, nil
	})

	dir := filepath.Dir(path)
	var last string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, fmt.Sprintf("t%d.fake", i))
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := e.Send(Command{Type: CmdLoad, Path: p}); err != nil {
			t.Fatalf("Send load %d: %v", i, err)
		}
		if err := e.Send(Command{Type: CmdPlay}); err != nil {
			t.Fatalf("Send play %d: %v", i, err)
		}
		last = p
	}

	ev := waitEvent(t, e, EventTrackLoaded)
	if ev.Path != last {
		t.Errorf("TrackLoaded path = %q, want the last queued %q", ev.Path, last)
	}

	deadline := time.After(2 * time.Second)
	for !state.Playing() {
		select {
		case <-deadline:
			t.Fatal("Engine never started playing after coalesced Load+Play pairs")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPlayPauseIdempotent(t *testing.T) {
	e, _, _, path := testEngine(t, 441000, 0)

	e.Send(Command{Type: CmdLoad, Path: path})
	waitEvent(t, e, EventTrackLoaded)

	e.Send(Command{Type: CmdPlay})
	ev := waitEvent(t, e, EventStatusChanged)
	if ev.Status != types.StatusPlaying {
		t.Fatalf("Status = %v, want playing", ev.Status)
	}

	// Redundant Play and Pause pairs: exactly one Paused must come out.
	e.Send(Command{Type: CmdPlay})
	e.Send(Command{Type: CmdPause})
	e.Send(Command{Type: CmdPause})

	statusEvents := 0
	settle := time.After(300 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-e.Events():
			if ev.Type == EventStatusChanged {
				statusEvents++
				if ev.Status != types.StatusPaused {
					t.Errorf("Unexpected status %v", ev.Status)
				}
			}
		case <-settle:
			done = true
		}
	}
	if statusEvents != 1 {
		t.Errorf("Got %d StatusChanged events, want 1 (paused)", statusEvents)
	}
}

func TestPlaybackFinishedAfterDrain(t *testing.T) {
	e, buf, state, path := testEngine(t, 2048, 0)

	e.Send(Command{Type: CmdLoad, Path: path})
	waitEvent(t, e, EventTrackLoaded)
	e.Send(Command{Type: CmdPlay})

	// Consume the ring like the output callback would.
	stop := make(chan struct{})
	go func() {
		scratch := make([]float32, 512)
		for {
			select {
			case <-stop:
				return
			default:
				buf.Read(scratch)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer close(stop)

	waitEvent(t, e, EventPlaybackFinished)
	ev := waitEvent(t, e, EventStatusChanged)
	if ev.Status != types.StatusStopped {
		t.Errorf("Status after finish = %v, want stopped", ev.Status)
	}
	if state.Playing() {
		t.Error("Playing still true after finish")
	}
}

func TestDecodeErrorEmitsErrorEvent(t *testing.T) {
	e, buf, _, path := testEngine(t, 441000, 4096)

	e.Send(Command{Type: CmdLoad, Path: path})
	waitEvent(t, e, EventTrackLoaded)
	e.Send(Command{Type: CmdPlay})

	stop := make(chan struct{})
	go func() {
		scratch := make([]float32, 512)
		for {
			select {
			case <-stop:
				return
			default:
				buf.Read(scratch)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer close(stop)

	ev := waitEvent(t, e, EventError)
	if ev.Err == nil {
		t.Error("Error event with nil Err")
	}
	ev = waitEvent(t, e, EventStatusChanged)
	if ev.Status != types.StatusStopped {
		t.Errorf("Status after decode error = %v, want stopped", ev.Status)
	}
}

func TestSetVolumeCommand(t *testing.T) {
	e, _, state, _ := testEngine(t, 44100, 0)

	e.Send(Command{Type: CmdSetVolume, Volume: 0.3})

	deadline := time.After(time.Second)
	for {
		if v := state.Volume(); v > 0.29 && v < 0.31 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("Volume = %v, want 0.3", state.Volume())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSeekEmitsPosition(t *testing.T) {
	e, buf, state, path := testEngine(t, 441000, 0) // 10s track

	e.Send(Command{Type: CmdLoad, Path: path})
	waitEvent(t, e, EventTrackLoaded)
	drainRing(buf)

	e.Send(Command{Type: CmdSeek, Seek: 0.5})
	ev := waitEvent(t, e, EventPositionChanged)
	if ev.Position < 4900*time.Millisecond || ev.Position > 5100*time.Millisecond {
		t.Errorf("Position after seek = %v, want about 5s", ev.Position)
	}
	if p := state.Position(); p < 4900*time.Millisecond {
		t.Errorf("Shared-state position = %v, want about 5s", p)
	}
}

func TestShutdownClosesDone(t *testing.T) {
	e, _, _, _ := testEngine(t, 44100, 0)

	if err := e.Send(Command{Type: CmdShutdown}); err != nil {
		t.Fatalf("Send shutdown: %v", err)
	}
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after shutdown")
	}

	if err := e.Send(Command{Type: CmdPlay}); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Send after shutdown = %v, want ErrEngineStopped", err)
	}
}
