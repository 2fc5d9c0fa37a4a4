package decode

import (
	"fmt"
	"io"
	"os"
	"time"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// mp3BytesPerFrame is one stereo frame of 16-bit PCM, go-mp3's fixed output.
const mp3BytesPerFrame = 4

// mp3Source decodes MP3 via hajimehoshi/go-mp3, which always emits 16-bit
// stereo regardless of the source layout.
type mp3Source struct {
	f   *os.File
	dec *gomp3.Decoder
	buf []byte
}

func openMP3(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mp3: %w", err)
	}
	return &mp3Source{f: f, dec: dec, buf: make([]byte, 8192)}, nil
}

func (s *mp3Source) SampleRate() int { return s.dec.SampleRate() }
func (s *mp3Source) Channels() int   { return 2 }

func (s *mp3Source) ReadSamples(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]

	n, err := s.dec.Read(s.buf)
	if n == 0 {
		if err != nil {
			return 0, err
		}
		return 0, nil
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8)
		dst[i] = float32(v) / 32768.0
	}
	return samples, err
}

func (s *mp3Source) SeekFrame(frame int64) error {
	_, err := s.dec.Seek(frame*mp3BytesPerFrame, io.SeekStart)
	if err != nil {
		return fmt.Errorf("mp3 seek: %w", err)
	}
	return nil
}

func (s *mp3Source) Duration() time.Duration {
	total := s.dec.Length() // decoded byte count, 0 if unknown
	if total <= 0 {
		return 0
	}
	frames := total / mp3BytesPerFrame
	return time.Duration(frames) * time.Second / time.Duration(s.dec.SampleRate())
}

func (s *mp3Source) Format() types.FormatInfo {
	return types.FormatInfo{
		Codec:      "MP3",
		SampleRate: s.dec.SampleRate(),
		Channels:   2,
		BitDepth:   16,
		Lossless:   false,
	}
}

func (s *mp3Source) Close() error { return s.f.Close() }
