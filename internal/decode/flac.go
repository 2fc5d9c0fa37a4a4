package decode

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// flacSource decodes FLAC via beep's streamer, which exposes native frame
// seeking. beep streams frames as [2]float64 pairs; mono files carry the
// same value in both slots, so we emit only the left one.
type flacSource struct {
	stream beep.StreamSeekCloser
	format beep.Format
	frames [][2]float64
}

func openFLAC(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stream, format, err := flac.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flac: %w", err)
	}
	return &flacSource{
		stream: stream,
		format: format,
		frames: make([][2]float64, 2048),
	}, nil
}

func (s *flacSource) SampleRate() int { return int(s.format.SampleRate) }
func (s *flacSource) Channels() int   { return s.format.NumChannels }

func (s *flacSource) ReadSamples(dst []float32) (int, error) {
	ch := s.format.NumChannels
	want := len(dst) / ch
	if want == 0 {
		return 0, nil
	}
	if want > len(s.frames) {
		want = len(s.frames)
	}

	n, ok := s.stream.Stream(s.frames[:want])
	if n == 0 {
		if err := s.stream.Err(); err != nil {
			return 0, fmt.Errorf("flac: %w", err)
		}
		if !ok {
			return 0, io.EOF
		}
		return 0, nil
	}

	if ch == 1 {
		for i := 0; i < n; i++ {
			dst[i] = float32(s.frames[i][0])
		}
		return n, nil
	}
	for i := 0; i < n; i++ {
		dst[2*i] = float32(s.frames[i][0])
		dst[2*i+1] = float32(s.frames[i][1])
	}
	return n * 2, nil
}

func (s *flacSource) SeekFrame(frame int64) error {
	if err := s.stream.Seek(int(frame)); err != nil {
		return fmt.Errorf("flac seek: %w", err)
	}
	return nil
}

func (s *flacSource) Duration() time.Duration {
	return s.format.SampleRate.D(s.stream.Len())
}

func (s *flacSource) Format() types.FormatInfo {
	return types.FormatInfo{
		Codec:      "FLAC",
		SampleRate: int(s.format.SampleRate),
		Channels:   s.format.NumChannels,
		BitDepth:   s.format.Precision * 8,
		Lossless:   true,
	}
}

func (s *flacSource) Close() error { return s.stream.Close() }
