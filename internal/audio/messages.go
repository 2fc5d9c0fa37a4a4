package audio

import (
	"errors"
	"time"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// ErrEngineStopped is returned by Send after the engine goroutine has exited.
var ErrEngineStopped = errors.New("audio engine stopped")

// ErrCommandQueueFull is returned when the command channel is saturated.
var ErrCommandQueueFull = errors.New("audio command queue full")

// CommandType identifies an engine command.
type CommandType int

const (
	CmdLoad CommandType = iota
	CmdPlay
	CmdPause
	CmdStop
	CmdSeek
	CmdSetVolume
	CmdShutdown
)

// Command is a message to the decode engine. Fields beyond Type are used
// depending on the command: Path for Load, Seek (fraction 0..1) for Seek,
// Volume (0..1) for SetVolume.
type Command struct {
	Type   CommandType
	Path   string
	Seek   float64
	Volume float64
}

// EventType identifies an engine event.
type EventType int

const (
	EventStatusChanged EventType = iota
	EventTrackLoaded
	EventPositionChanged
	EventPlaybackFinished
	EventError
)

// Event is a confirmed state change emitted by the decode engine. Status is
// set for StatusChanged; Path, Duration and Format for TrackLoaded;
// Position for PositionChanged; Err for Error.
type Event struct {
	Type     EventType
	Status   types.PlaybackStatus
	Path     string
	Duration time.Duration
	Format   types.FormatInfo
	Position time.Duration
	Err      error
}

// Spectrum is one visualization frame from the analyzer.
type Spectrum struct {
	Bands []float32 `json:"bands"`
	Peak  float32   `json:"peak"`
	RMS   float32   `json:"rms"`
}
