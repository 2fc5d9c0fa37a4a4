// Package ipc implements the daemon's control surface: newline-delimited
// JSON requests over a unix socket, plus server-initiated push messages
// for playback events and spectrum frames.
package ipc

import (
	"encoding/json"
	"fmt"
)

// CommandType identifies a client request.
type CommandType string

const (
	CmdPair   CommandType = "pair"
	CmdPlay   CommandType = "play"
	CmdPause  CommandType = "pause"
	CmdResume CommandType = "resume"
	CmdStop   CommandType = "stop"
	CmdNext   CommandType = "next"
	CmdPrev   CommandType = "prev"
	CmdSeek   CommandType = "seek"
	CmdVolume CommandType = "volume"
	CmdStatus CommandType = "status"
	CmdStats  CommandType = "stats"

	CmdQueue       CommandType = "queue"
	CmdGetQueue    CommandType = "getQueue"
	CmdQueueJump   CommandType = "queueJump"
	CmdQueueRemove CommandType = "queueRemove"
	CmdQueueMove   CommandType = "queueMove"
	CmdSetRepeat   CommandType = "setRepeat"
	CmdSetShuffle  CommandType = "setShuffle"

	CmdGetConfig CommandType = "getConfig"
	CmdSetConfig CommandType = "setConfig"

	CmdSubscribeEvents     CommandType = "subscribeEvents"
	CmdUnsubscribeEvents   CommandType = "unsubscribeEvents"
	CmdSubscribeSpectrum   CommandType = "subscribeSpectrum"
	CmdUnsubscribeSpectrum CommandType = "unsubscribeSpectrum"
)

// Push message types.
const (
	PushEvent    = "event"
	PushSpectrum = "spectrum"
)

// Request is a client command.
type Request struct {
	Cmd   CommandType     `json:"cmd"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Response answers a single request.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PushMessage is a server-initiated message to a subscribed client.
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PairRequest asks for a new client token.
type PairRequest struct {
	ClientName string `json:"clientName"`
}

// PairResponse carries the freshly issued credentials.
type PairResponse struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId"`
	Notified bool   `json:"notified"`
}

// TrackMetadata is display metadata supplied by the control surface.
type TrackMetadata struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Duration int64  `json:"duration,omitempty"` // milliseconds
	ArtPath  string `json:"artPath,omitempty"`
}

// PlayRequest starts a single track, replacing the queue when the path
// is not already queued. Without a path it resumes or starts the queue.
type PlayRequest struct {
	Path     string         `json:"path,omitempty"`
	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// QueueItem is one queue entry on the wire.
type QueueItem struct {
	ID       string         `json:"id,omitempty"`
	Path     string         `json:"path"`
	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// QueueRequest replaces or extends the queue. Play starts the first
// effective track after a replace.
type QueueRequest struct {
	Items  []QueueItem `json:"items"`
	Append bool        `json:"append"`
	Play   bool        `json:"play"`
}

// SeekRequest targets a fraction of the current track.
type SeekRequest struct {
	Fraction float64 `json:"fraction"` // 0.0 - 1.0
}

// VolumeRequest sets the output level.
type VolumeRequest struct {
	Level float64 `json:"level"` // 0.0 - 1.0
}

// SetRepeatRequest sets the repeat mode: "off", "one" or "all".
type SetRepeatRequest struct {
	Mode string `json:"mode"`
}

// SetShuffleRequest toggles queue shuffle.
type SetShuffleRequest struct {
	Enabled bool `json:"enabled"`
}

// QueueJumpRequest jumps playback to a queue index.
type QueueJumpRequest struct {
	Index int `json:"index"`
}

// QueueRemoveRequest removes a queue index.
type QueueRemoveRequest struct {
	Index int `json:"index"`
}

// QueueMoveRequest reorders the queue.
type QueueMoveRequest struct {
	FromIndex int `json:"fromIndex"`
	ToIndex   int `json:"toIndex"`
}

// FormatInfo mirrors the decoded source format for clients.
type FormatInfo struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bitDepth"`
	Lossless   bool   `json:"lossless"`
	Quality    string `json:"quality"`
}

// StatusResponse reports the orchestrator's projected playback state.
type StatusResponse struct {
	State      string         `json:"state"`
	Path       string         `json:"path,omitempty"`
	Position   int64          `json:"position"` // milliseconds
	Duration   int64          `json:"duration"` // milliseconds
	Volume     float64        `json:"volume"`
	Metadata   *TrackMetadata `json:"metadata,omitempty"`
	Format     *FormatInfo    `json:"format,omitempty"`
	QueueIndex int            `json:"queueIndex"`
	QueueSize  int            `json:"queueSize"`
	RepeatMode string         `json:"repeatMode"`
	Shuffle    bool           `json:"shuffle"`
}

// StatsResponse reports output-path health counters.
type StatsResponse struct {
	Callbacks       uint64  `json:"callbacks"`
	SamplesRendered uint64  `json:"samplesRendered"`
	Underruns       uint32  `json:"underruns"`
	BufferFill      int     `json:"bufferFill"` // percent
	PeakCallbackUs  int64   `json:"peakCallbackUs"`
	Healthy         bool    `json:"healthy"`
	Volume          float64 `json:"volume"`
}

// GetQueueResponse lists the queue in presentation order.
type GetQueueResponse struct {
	Items      []QueueItem `json:"items"`
	Index      int         `json:"index"`
	RepeatMode string      `json:"repeatMode"`
	Shuffle    bool        `json:"shuffle"`
}

// ConfigRequest patches the daemon configuration; nil fields are left
// untouched.
type ConfigRequest struct {
	LibraryPaths     *[]string `json:"libraryPaths,omitempty"`
	SampleRate       *int      `json:"sampleRate,omitempty"`
	BufferSizeMs     *int      `json:"bufferSizeMs,omitempty"`
	DefaultVolume    *float64  `json:"defaultVolume,omitempty"`
	ResumeOnStart    *bool     `json:"resumeOnStart,omitempty"`
	RememberQueue    *bool     `json:"rememberQueue,omitempty"`
	RememberPosition *bool     `json:"rememberPosition,omitempty"`
	EventPollMs      *int      `json:"eventPollMs,omitempty"`
}

// ConfigResponse is the full current configuration.
type ConfigResponse struct {
	ConfigPath       string   `json:"configPath"`
	LibraryPaths     []string `json:"libraryPaths"`
	SampleRate       int      `json:"sampleRate"`
	BufferSizeMs     int      `json:"bufferSizeMs"`
	DefaultVolume    float64  `json:"defaultVolume"`
	ResumeOnStart    bool     `json:"resumeOnStart"`
	RememberQueue    bool     `json:"rememberQueue"`
	RememberPosition bool     `json:"rememberPosition"`
	EventPollMs      int      `json:"eventPollMs"`
}

// EventMessage is the wire form of a playback event push.
type EventMessage struct {
	Event    string `json:"event"`
	State    string `json:"state,omitempty"`
	Path     string `json:"path,omitempty"`
	Position int64  `json:"position,omitempty"` // milliseconds
	Duration int64  `json:"duration,omitempty"` // milliseconds
	Error    string `json:"error,omitempty"`
}

// SpectrumMessage is the wire form of a visualization frame.
type SpectrumMessage struct {
	Bands    []float32 `json:"bands"`
	Peak     float32   `json:"peak"`
	RMS      float32   `json:"rms"`
	Position int64     `json:"position"` // milliseconds
}

// DecodeRequest parses a request line.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse serializes a response.
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse parses a response line, for client implementations.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse wraps data in a successful response.
func NewSuccessResponse(data interface{}) (*Response, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{Success: true, Data: raw}, nil
}

// NewErrorResponse wraps an error message.
func NewErrorResponse(msg string) *Response {
	return &Response{Success: false, Error: msg}
}

// NewPushMessage serializes a push message ready for the wire (without
// the trailing newline).
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(PushMessage{Type: msgType, Data: raw})
}
