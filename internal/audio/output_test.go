package audio

import (
	"testing"

	"github.com/tonearm-audio/tonearm/internal/ring"
)

// testDevice builds a Device without an audio context; Read never touches
// the oto side.
func testDevice(samples int) (*Device, *ring.Buffer, *State) {
	buf := ring.New(samples)
	state := NewState()
	d := &Device{
		buf:        buf,
		state:      state,
		sampleRate: 44100,
		channels:   2,
		scratch:    make([]float32, callbackScratch),
	}
	return d, buf, state
}

func readInt16(p []byte, i int) int16 {
	return int16(uint16(p[2*i]) | uint16(p[2*i+1])<<8)
}

func TestReadSilenceWhenNotPlaying(t *testing.T) {
	d, buf, _ := testDevice(1024)
	buf.Write([]float32{0.5, 0.5, 0.5, 0.5})

	p := make([]byte, 64)
	for i := range p {
		p[i] = 0xAA
	}
	n, err := d.Read(p)
	if err != nil || n != len(p) {
		t.Fatalf("Read = (%d, %v), want (%d, nil)", n, err, len(p))
	}
	for i, b := range p {
		if b != 0 {
			t.Fatalf("Expected silence while stopped, byte %d = %02X", i, b)
		}
	}
	if got := buf.Len(); got != 4 {
		t.Errorf("ring consumed while not playing: Len = %d, want 4", got)
	}
}

func TestReadFlushingDiscardsAndSilences(t *testing.T) {
	d, buf, state := testDevice(1024)
	buf.Write([]float32{0.5, -0.5, 0.25, -0.25})
	state.SetPlaying(true)
	state.StartFlush()

	p := make([]byte, 32)
	if _, err := d.Read(p); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected ring drained during flush, Len = %d", buf.Len())
	}
	for i, b := range p {
		if b != 0 {
			t.Fatalf("Expected silence during flush, byte %d = %02X", i, b)
		}
	}
	if state.Underruns() != 0 {
		t.Errorf("Flush counted as underrun: %d", state.Underruns())
	}
}

func TestReadConvertsAndScales(t *testing.T) {
	d, buf, state := testDevice(1024)
	state.SetPlaying(true)
	state.SetVolume(0.5)
	buf.Write([]float32{1.0, -1.0, 0.5, 0.0})

	p := make([]byte, 8)
	if _, err := d.Read(p); err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := []int16{16383, -16383, 8191, 0}
	for i, w := range want {
		got := readInt16(p, i)
		if got < w-1 || got > w+1 {
			t.Errorf("Sample %d = %d, want about %d", i, got, w)
		}
	}
}

func TestReadClampsHotSamples(t *testing.T) {
	d, buf, state := testDevice(1024)
	state.SetPlaying(true)
	buf.Write([]float32{1.5, -1.5})

	p := make([]byte, 4)
	if _, err := d.Read(p); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := readInt16(p, 0); got != 32767 {
		t.Errorf("Positive clip = %d, want 32767", got)
	}
	if got := readInt16(p, 1); got != -32767 {
		t.Errorf("Negative clip = %d, want -32767", got)
	}
}

func TestReadUnderrunCountsOncePerCallback(t *testing.T) {
	d, buf, state := testDevice(1024)
	state.SetPlaying(true)
	buf.Write([]float32{0.1, 0.2}) // 2 samples for an 8-sample request

	p := make([]byte, 16)
	if _, err := d.Read(p); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := state.Underruns(); got != 1 {
		t.Errorf("Underruns = %d, want 1", got)
	}
	// The starved tail must be silence.
	for i := 2; i < 8; i++ {
		if got := readInt16(p, i); got != 0 {
			t.Errorf("Starved sample %d = %d, want 0", i, got)
		}
	}

	// A second starved callback adds exactly one more.
	if _, err := d.Read(p); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := state.Underruns(); got != 2 {
		t.Errorf("Underruns after second starved read = %d, want 2", got)
	}
}

func TestReadLargerThanScratch(t *testing.T) {
	d, buf, state := testDevice(callbackScratch * 4)
	state.SetPlaying(true)

	in := make([]float32, callbackScratch*2)
	for i := range in {
		in[i] = 0.25
	}
	buf.Write(in)

	p := make([]byte, len(in)*2)
	if _, err := d.Read(p); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := state.Underruns(); got != 0 {
		t.Errorf("Underruns = %d, want 0", got)
	}
	want := int16(0.25 * 32767)
	for i := 0; i < len(in); i++ {
		got := readInt16(p, i)
		if got < want-1 || got > want+1 {
			t.Fatalf("Sample %d = %d, want about %d", i, got, want)
		}
	}
}
