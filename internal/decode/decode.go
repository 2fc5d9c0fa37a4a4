// Package decode turns audio files into interleaved float32 sample streams.
// Each supported container/codec gets its own Source implementation; the
// Registry picks one by file extension and falls back to FFmpeg for anything
// it does not handle natively.
package decode

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonearm-audio/tonearm/internal/types"
)

var (
	// ErrUnsupportedFormat is returned when no decoder can handle the file.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrFileNotFound is returned when the path does not exist.
	ErrFileNotFound = errors.New("audio file not found")
)

// Source is a single open audio stream. Implementations are owned by the
// decode goroutine and are not safe for concurrent use.
type Source interface {
	// SampleRate returns the stream's native sample rate in Hz.
	SampleRate() int

	// Channels returns the interleaved channel count.
	Channels() int

	// ReadSamples fills dst with interleaved samples in the -1..1 range and
	// returns how many values were written. io.EOF marks end of stream.
	ReadSamples(dst []float32) (int, error)

	// SeekFrame repositions the stream to the given frame (sample per channel).
	SeekFrame(frame int64) error

	// Duration returns the total stream duration, zero if unknown.
	Duration() time.Duration

	// Format describes the source codec for TrackLoaded events.
	Format() types.FormatInfo

	Close() error
}

// Opener creates a Source for a path.
type Opener func(path string) (Source, error)

// Registry maps file extensions to decoders.
type Registry struct {
	openers  map[string]Opener
	fallback Opener
}

// NewRegistry returns a registry with every built-in codec registered:
// MP3, Ogg Vorbis, FLAC, WAV and AIFF natively, FFmpeg as the fallback for
// everything else (AAC, M4A, WMA, Opus, ...) when the binary is available.
func NewRegistry() *Registry {
	r := &Registry{openers: make(map[string]Opener)}
	r.Register(".mp3", openMP3)
	r.Register(".ogg", openVorbis)
	r.Register(".oga", openVorbis)
	r.Register(".flac", openFLAC)
	r.Register(".wav", openWAV)
	r.Register(".aiff", openAIFF)
	r.Register(".aif", openAIFF)

	if ff, err := newFFmpegOpener(); err == nil {
		r.fallback = ff
	} else {
		log.Printf("[DECODE] FFmpeg unavailable, no fallback decoder: %v", err)
	}
	return r
}

// Register binds an extension (with leading dot, lower case) to an opener.
func (r *Registry) Register(ext string, open Opener) {
	r.openers[ext] = open
}

// Open probes path by extension and returns an open Source.
func (r *Registry) Open(path string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if open, ok := r.openers[ext]; ok {
		src, err := open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
		}
		return src, nil
	}

	if r.fallback != nil {
		src, err := r.fallback(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
		}
		return src, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// Supported reports whether Open has any chance of decoding the extension.
func (r *Registry) Supported(ext string) bool {
	if _, ok := r.openers[strings.ToLower(ext)]; ok {
		return true
	}
	return r.fallback != nil
}
