package decode

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// aiffSource decodes AIFF PCM via go-audio. Seeking works like the WAV
// source: reopen and skip frames, since the decoder is forward only.
type aiffSource struct {
	path     string
	f        *os.File
	dec      *aiff.Decoder
	intBuf   *goaudio.IntBuffer
	bitDepth int
	frames   int64
}

func openAIFF(path string) (Source, error) {
	f, dec, err := openAIFFDecoder(path)
	if err != nil {
		return nil, err
	}
	return &aiffSource{
		path:     path,
		f:        f,
		dec:      dec,
		bitDepth: int(dec.BitDepth),
		frames:   int64(dec.NumSampleFrames),
	}, nil
}

func openAIFFDecoder(path string) (*os.File, *aiff.Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec := aiff.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, nil, fmt.Errorf("aiff: not a valid AIFF file")
	}
	dec.ReadInfo()
	if dec.Format() == nil {
		f.Close()
		return nil, nil, fmt.Errorf("aiff: missing COMM chunk")
	}
	return f, dec, nil
}

func (s *aiffSource) SampleRate() int { return int(s.dec.SampleRate) }
func (s *aiffSource) Channels() int   { return int(s.dec.NumChans) }

func (s *aiffSource) ReadSamples(dst []float32) (int, error) {
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
	for i := 0; i < n; i++ {
		dst[i] = float32(s.intBuf.Data[i]) / scale
	}
	return n, err
}

func (s *aiffSource) SeekFrame(frame int64) error {
	f, dec, err := openAIFFDecoder(s.path)
	if err != nil {
		return fmt.Errorf("aiff seek: %w", err)
	}
	if err := skipFrames(dec, frame, int(dec.NumChans)); err != nil {
		f.Close()
		return fmt.Errorf("aiff seek: %w", err)
	}
	s.f.Close()
	s.f, s.dec = f, dec
	return nil
}

func (s *aiffSource) Duration() time.Duration {
	if s.frames <= 0 || s.dec.SampleRate == 0 {
		return 0
	}
	return time.Duration(s.frames) * time.Second / time.Duration(s.dec.SampleRate)
}

func (s *aiffSource) Format() types.FormatInfo {
	return types.FormatInfo{
		Codec:      "PCM",
		SampleRate: int(s.dec.SampleRate),
		Channels:   int(s.dec.NumChans),
		BitDepth:   s.bitDepth,
		Lossless:   true,
	}
}

func (s *aiffSource) Close() error { return s.f.Close() }
