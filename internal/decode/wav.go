package decode

import (
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// wavSource decodes RIFF/WAVE PCM via go-audio. The decoder has no frame
// seek, so SeekFrame reopens the file and skips forward from the data chunk.
type wavSource struct {
	path     string
	f        *os.File
	dec      *wav.Decoder
	intBuf   *goaudio.IntBuffer
	bitDepth int
	duration time.Duration
}

func openWAV(path string) (Source, error) {
	f, dec, err := openWAVDecoder(path)
	if err != nil {
		return nil, err
	}

	dur, err := dec.Duration()
	if err != nil {
		dur = 0
	}

	return &wavSource{
		path:     path,
		f:        f,
		dec:      dec,
		bitDepth: int(dec.BitDepth),
		duration: dur,
	}, nil
}

func openWAVDecoder(path string) (*os.File, *wav.Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, nil, fmt.Errorf("wav: not a valid RIFF/WAVE file")
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("wav: %w", err)
	}
	return f, dec, nil
}

func (s *wavSource) SampleRate() int { return int(s.dec.SampleRate) }
func (s *wavSource) Channels() int   { return int(s.dec.NumChans) }

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if s.intBuf == nil || cap(s.intBuf.Data) < len(dst) {
		s.intBuf = &goaudio.IntBuffer{
			Data:   make([]int, len(dst)),
			Format: s.dec.Format(),
		}
	}
	s.intBuf.Data = s.intBuf.Data[:len(dst)]

	n, err := s.dec.PCMBuffer(s.intBuf)
	if n == 0 {
		if err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	scale := pcmScale(s.bitDepth)
	if s.bitDepth == 8 {
		// 8-bit WAV PCM is unsigned, centered on 128.
		for i := 0; i < n; i++ {
			dst[i] = (float32(s.intBuf.Data[i]) - 128) / scale
		}
	} else {
		for i := 0; i < n; i++ {
			dst[i] = float32(s.intBuf.Data[i]) / scale
		}
	}
	return n, err
}

func (s *wavSource) SeekFrame(frame int64) error {
	f, dec, err := openWAVDecoder(s.path)
	if err != nil {
		return fmt.Errorf("wav seek: %w", err)
	}
	if err := skipFrames(dec, frame, int(dec.NumChans)); err != nil {
		f.Close()
		return fmt.Errorf("wav seek: %w", err)
	}
	s.f.Close()
	s.f, s.dec = f, dec
	return nil
}

func (s *wavSource) Duration() time.Duration { return s.duration }

func (s *wavSource) Format() types.FormatInfo {
	return types.FormatInfo{
		Codec:      "PCM",
		SampleRate: int(s.dec.SampleRate),
		Channels:   int(s.dec.NumChans),
		BitDepth:   s.bitDepth,
		Lossless:   true,
	}
}

func (s *wavSource) Close() error { return s.f.Close() }

// pcmScale returns the normalization divisor for a signed PCM bit depth.
func pcmScale(bits int) float32 {
	switch bits {
	case 8:
		return 128.0
	case 16:
		return 32768.0
	case 24:
		return 8388608.0
	case 32:
		return 2147483648.0
	default:
		return 32768.0
	}
}

// pcmReader is the subset of the go-audio decoders used for frame skipping.
type pcmReader interface {
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

// skipFrames discards whole frames from a freshly opened decoder.
func skipFrames(dec pcmReader, frames int64, channels int) error {
	if frames <= 0 || channels <= 0 {
		return nil
	}
	remaining := frames * int64(channels)
	scratch := &goaudio.IntBuffer{Data: make([]int, 4096)}
	for remaining > 0 {
		want := int64(cap(scratch.Data))
		if want > remaining {
			want = remaining
		}
		scratch.Data = scratch.Data[:want]
		n, err := dec.PCMBuffer(scratch)
		if n == 0 {
			if err != nil {
				return err
			}
			return nil // past end of stream, land at EOF
		}
		remaining -= int64(n)
	}
	return nil
}
