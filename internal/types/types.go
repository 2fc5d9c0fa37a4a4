// Package types provides shared type definitions used across the tonearm daemon.
package types

import (
	"fmt"
	"time"
)

// PlaybackStatus represents the transport state of the player
type PlaybackStatus string

const (
	StatusStopped PlaybackStatus = "stopped"
	StatusLoading PlaybackStatus = "loading"
	StatusPlaying PlaybackStatus = "playing"
	StatusPaused  PlaybackStatus = "paused"
)

// String returns the string representation of the playback status
func (s PlaybackStatus) String() string {
	return string(s)
}

// TrackMetadata contains display metadata for a track, supplied by the
// control surface (the daemon itself never reads tags)
type TrackMetadata struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Duration int64  `json:"duration,omitempty"` // milliseconds
	ArtPath  string `json:"artPath,omitempty"`
}

// FormatInfo describes the source audio format of a loaded track
type FormatInfo struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bitDepth"`
	Lossless   bool   `json:"lossless"`
}

// QualityLabel returns a human-readable quality tier for the format
func (f FormatInfo) QualityLabel() string {
	switch {
	case f.Lossless && f.BitDepth >= 24 && f.SampleRate >= 96000:
		return "Hi-Res Lossless"
	case f.Lossless && f.BitDepth >= 24:
		return "Lossless 24-bit"
	case f.Lossless:
		return "Lossless"
	default:
		return "Lossy"
	}
}

// RepeatMode represents the repeat behavior
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

// String returns the string representation of the repeat mode
func (r RepeatMode) String() string {
	switch r {
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "off"
	}
}

// ParseRepeatMode parses a string into a RepeatMode
func ParseRepeatMode(s string) RepeatMode {
	switch s {
	case "one":
		return RepeatOne
	case "all":
		return RepeatAll
	default:
		return RepeatOff
	}
}

// FormatDuration renders a duration as M:SS or H:MM:SS for logs and
// status displays
func FormatDuration(d time.Duration) string {
	secs := int64(d.Seconds())
	hours := secs / 3600
	mins := (secs % 3600) / 60
	secs = secs % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, mins, secs)
	}
	return fmt.Sprintf("%d:%02d", mins, secs)
}
