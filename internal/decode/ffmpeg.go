package decode

import (
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// ffmpegSource shells out to ffmpeg for formats without a native decoder.
// It streams signed 16-bit little-endian PCM at the file's own rate and
// channel layout over a pipe; SeekFrame restarts the process with -ss since the
// pipe cannot rewind.
type ffmpegSource struct {
	ffmpegPath string
	path       string

	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte

	codec      string
	sampleRate int
	channels   int
	duration   time.Duration
}

// newFFmpegOpener probes PATH for ffmpeg and ffprobe once and returns an
// Opener bound to them.
func newFFmpegOpener() (Opener, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return func(path string) (Source, error) {
		info, err := probeStream(ffprobePath, path)
		if err != nil {
			return nil, err
		}
		s := &ffmpegSource{
			ffmpegPath: ffmpegPath,
			path:       path,
			codec:      info.codec,
			sampleRate: info.sampleRate,
			channels:   info.channels,
			duration:   info.duration,
		}
		if err := s.start(0); err != nil {
			return nil, err
		}
		return s, nil
	}, nil
}

// start launches (or relaunches) the decode process at the given frame.
func (s *ffmpegSource) start(frame int64) error {
	s.stop()

	args := []string{"-v", "error"}
	if frame > 0 {
		startSec := float64(frame) / float64(s.sampleRate)
		args = append(args, "-ss", fmt.Sprintf("%.3f", startSec))
	}
	args = append(args,
		"-i", s.path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(s.channels),
		"-ar", strconv.Itoa(s.sampleRate),
		"-",
	)

	cmd := exec.Command(s.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	return nil
}

// stop kills and reaps the current process, if any.
func (s *ffmpegSource) stop() {
	if s.cmd == nil {
		return
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	s.cmd = nil
	s.stdout = nil
}

func (s *ffmpegSource) SampleRate() int { return s.sampleRate }
func (s *ffmpegSource) Channels() int   { return s.channels }

func (s *ffmpegSource) ReadSamples(dst []float32) (int, error) {
	if s.stdout == nil {
		return 0, io.EOF
	}

	need := len(dst) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]

	n, err := io.ReadFull(s.stdout, s.buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF // partial tail, convert what arrived
	}
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8)
		dst[i] = float32(v) / 32768.0
	}
	if samples == 0 && err != nil {
		return 0, err
	}
	return samples, nil
}

func (s *ffmpegSource) SeekFrame(frame int64) error {
	if err := s.start(frame); err != nil {
		return fmt.Errorf("ffmpeg seek: %w", err)
	}
	return nil
}

func (s *ffmpegSource) Duration() time.Duration { return s.duration }

func (s *ffmpegSource) Format() types.FormatInfo {
	return types.FormatInfo{
		Codec:      s.codec,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		BitDepth:   16,
		Lossless:   false,
	}
}

func (s *ffmpegSource) Close() error {
	s.stop()
	return nil
}

type streamInfo struct {
	codec      string
	sampleRate int
	channels   int
	duration   time.Duration
}

// probeStream asks ffprobe for the first audio stream's parameters.
func probeStream(ffprobePath, path string) (*streamInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "a:0",
		path,
	}

	out, err := exec.Command(ffprobePath, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Streams []struct {
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("%w: no audio stream", ErrUnsupportedFormat)
	}

	st := probe.Streams[0]
	info := &streamInfo{
		codec:    strings.ToUpper(st.CodecName),
		channels: st.Channels,
	}
	if info.channels <= 0 {
		info.channels = 2
	}
	if rate, err := strconv.Atoi(st.SampleRate); err == nil && rate > 0 {
		info.sampleRate = rate
	} else {
		info.sampleRate = 44100
	}
	if probe.Format.Duration != "" {
		if sec, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.duration = time.Duration(sec * float64(time.Second))
		}
	}
	return info, nil
}
