// Package media bridges playback state to the OS media-control surface:
// MPRIS over D-Bus on Linux, a no-op elsewhere. The bridge is strictly
// command/event side; nothing here touches the audio path.
package media

import (
	"time"

	"github.com/tonearm-audio/tonearm/internal/types"
)

// Metadata is the track information surfaced to the OS.
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
	ArtPath  string
}

// Session pushes player state out to the OS and feeds media-key commands
// back in. Implementations must tolerate being called from the player's
// event loop.
type Session interface {
	UpdateMetadata(md Metadata) error
	UpdatePlayback(status types.PlaybackStatus, position time.Duration) error
	UpdateVolume(v float64) error
	UpdateShuffle(enabled bool) error
	UpdateRepeat(mode types.RepeatMode) error
	NotifySeeked(position time.Duration) error

	// SetCommandHandler registers the receiver for inbound media commands.
	SetCommandHandler(h CommandHandler)

	Close() error
}

// Command is an inbound media-control action.
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdNext
	CmdPrevious
	CmdSeek       // data: time.Duration offset from current position
	CmdSetVolume  // data: float64 0..1
	CmdSetShuffle // data: bool
	CmdSetRepeat  // data: types.RepeatMode
)

func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "Play"
	case CmdPause:
		return "Pause"
	case CmdPlayPause:
		return "PlayPause"
	case CmdStop:
		return "Stop"
	case CmdNext:
		return "Next"
	case CmdPrevious:
		return "Previous"
	case CmdSeek:
		return "Seek"
	case CmdSetVolume:
		return "SetVolume"
	case CmdSetShuffle:
		return "SetShuffle"
	case CmdSetRepeat:
		return "SetRepeat"
	default:
		return "Unknown"
	}
}

// CommandHandler receives inbound media commands.
type CommandHandler interface {
	OnMediaCommand(cmd Command, data interface{}) error
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(cmd Command, data interface{}) error

func (f CommandHandlerFunc) OnMediaCommand(cmd Command, data interface{}) error {
	return f(cmd, data)
}

// NoOpSession keeps the daemon running when no OS integration is
// available, for example headless systems without a session bus.
type NoOpSession struct{}

func NewNoOpSession() *NoOpSession { return &NoOpSession{} }

func (s *NoOpSession) UpdateMetadata(Metadata) error                            { return nil }
func (s *NoOpSession) UpdatePlayback(types.PlaybackStatus, time.Duration) error { return nil }
func (s *NoOpSession) UpdateVolume(float64) error                               { return nil }
func (s *NoOpSession) UpdateShuffle(bool) error                                 { return nil }
func (s *NoOpSession) UpdateRepeat(types.RepeatMode) error                      { return nil }
func (s *NoOpSession) NotifySeeked(time.Duration) error                         { return nil }
func (s *NoOpSession) SetCommandHandler(CommandHandler)                         {}
func (s *NoOpSession) Close() error                                             { return nil }
