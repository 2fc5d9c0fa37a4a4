package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/oto/v2"

	"github.com/tonearm-audio/tonearm/internal/ring"
)

const (
	defaultSampleRate = 44100
	defaultChannels   = 2
	bytesPerSample    = 2 // int16 LE

	// callbackScratch bounds how many samples one ring pop handles; larger
	// callbacks loop over it in chunks so the scratch never reallocates.
	callbackScratch = 4096
)

// ErrDevice wraps audio device failures surfaced at open time.
var ErrDevice = errors.New("audio device error")

// Device binds the ring buffer to the OS audio device through oto. Oto
// pulls samples by calling Read from its own real-time thread; that path
// does atomic loads and ring pops only, no locks, no allocation, no I/O.
type Device struct {
	otoCtx *oto.Context
	player oto.Player

	buf   *ring.Buffer
	state *State

	sampleRate int
	channels   int

	scratch []float32
}

// OpenDevice opens the output device at the requested rate and channel
// count. The stream starts silent; Start attaches the puller.
func OpenDevice(sampleRate, channels int, buf *ring.Buffer, state *State) (*Device, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if channels <= 0 {
		channels = defaultChannels
	}

	otoCtx, ready, err := oto.NewContext(sampleRate, channels, bytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	<-ready

	return &Device{
		otoCtx:     otoCtx,
		buf:        buf,
		state:      state,
		sampleRate: sampleRate,
		channels:   channels,
		scratch:    make([]float32, callbackScratch),
	}, nil
}

// Start begins pulling. The oto player stays running for the lifetime of
// the device; idle periods stream silence, which keeps device latency
// stable across pause and track changes.
func (d *Device) Start() {
	d.player = d.otoCtx.NewPlayer(d)
	d.player.Play()
}

func (d *Device) SampleRate() int { return d.sampleRate }
func (d *Device) Channels() int   { return d.channels }

// Read is the real-time callback. It must not block, lock, or allocate.
func (d *Device) Read(p []byte) (int, error) {
	start := time.Now()

	if d.state.Flushing() {
		d.buf.Discard()
		zeroFill(p)
		d.state.SetBufferFill(0)
		d.state.RecordCallback(0, time.Since(start))
		return len(p), nil
	}

	if !d.state.Playing() {
		zeroFill(p)
		d.state.RecordCallback(0, time.Since(start))
		return len(p), nil
	}

	samples := len(p) / bytesPerSample
	vol := d.state.Volume()

	written := 0
	for written < samples {
		n := samples - written
		if n > len(d.scratch) {
			n = len(d.scratch)
		}
		got := d.buf.Read(d.scratch[:n])
		for i := 0; i < got; i++ {
			v := d.scratch[i] * vol
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			s := int16(v * 32767)
			p[bytesPerSample*(written+i)] = byte(s)
			p[bytesPerSample*(written+i)+1] = byte(s >> 8)
		}
		written += got
		if got < n {
			break
		}
	}

	if written < samples {
		// Starved: one underrun per invocation, silence for the rest.
		zeroFill(p[written*bytesPerSample:])
		d.state.AddUnderrun()
	}

	d.state.SetBufferFill(d.buf.FillPercent())
	d.state.RecordCallback(written, time.Since(start))
	return len(p), nil
}

func zeroFill(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

// Close stops pulling and releases the device.
func (d *Device) Close() error {
	if d.player != nil {
		if err := d.player.Close(); err != nil {
			return fmt.Errorf("%w: %v", ErrDevice, err)
		}
		d.player = nil
	}
	return nil
}

var _ io.Reader = (*Device)(nil)
