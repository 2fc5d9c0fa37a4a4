package decode

import (
	"fmt"
	"os"
	"time"

	"github.com/jfreymuth/oggvorbis"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// vorbisSource decodes Ogg Vorbis via jfreymuth/oggvorbis, which hands back
// float32 samples directly.
type vorbisSource struct {
	f   *os.File
	dec *oggvorbis.Reader
}

func openVorbis(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vorbis: %w", err)
	}
	return &vorbisSource{f: f, dec: dec}, nil
}

func (s *vorbisSource) SampleRate() int { return s.dec.SampleRate() }
func (s *vorbisSource) Channels() int   { return s.dec.Channels() }

func (s *vorbisSource) ReadSamples(dst []float32) (int, error) {
	return s.dec.Read(dst)
}

func (s *vorbisSource) SeekFrame(frame int64) error {
	if err := s.dec.SetPosition(frame); err != nil {
		return fmt.Errorf("vorbis seek: %w", err)
	}
	return nil
}

func (s *vorbisSource) Duration() time.Duration {
	frames := s.dec.Length()
	if frames <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(s.dec.SampleRate())
}

func (s *vorbisSource) Format() types.FormatInfo {
	return types.FormatInfo{
		Codec:      "Vorbis",
		SampleRate: s.dec.SampleRate(),
		Channels:   s.dec.Channels(),
		BitDepth:   16,
		Lossless:   false,
	}
}

func (s *vorbisSource) Close() error { return s.f.Close() }
