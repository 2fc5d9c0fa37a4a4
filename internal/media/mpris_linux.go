//go:build linux

package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/tonearm-audio/tonearm/internal/types"
)

const (
	mprisInterface       = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	mprisBusName         = "org.mpris.MediaPlayer2.tonearm"
	mprisObjectPath      = "/org/mpris/MediaPlayer2"
)

// MPRISSession exposes the player on the session bus under the standard
// MPRIS interfaces. D-Bus method calls arrive on godbus goroutines, so
// all mutable state sits behind the mutex.
type MPRISSession struct {
	conn *dbus.Conn

	mu       sync.Mutex
	handler  CommandHandler
	metadata Metadata
	status   types.PlaybackStatus
	position time.Duration
	volume   float64
	shuffle  bool
	repeat   types.RepeatMode
	trackSeq uint64
}

// NewSession connects to the session bus and claims the tonearm MPRIS
// name. Fails if another tonearm instance already owns it.
func NewSession() (Session, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(mprisBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", mprisBusName)
	}

	s := &MPRISSession{
		conn:   conn,
		status: types.StatusStopped,
		volume: 1.0,
		repeat: types.RepeatOff,
	}

	if err := s.exportInterfaces(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export interfaces: %w", err)
	}

	return s, nil
}

func (s *MPRISSession) exportInterfaces() error {
	path := dbus.ObjectPath(mprisObjectPath)
	if err := s.conn.Export(s, path, mprisInterface); err != nil {
		return err
	}
	if err := s.conn.Export(s, path, mprisPlayerInterface); err != nil {
		return err
	}
	return s.conn.Export(s, path, "org.freedesktop.DBus.Properties")
}

// UpdateMetadata publishes new track metadata.
func (s *MPRISSession) UpdateMetadata(md Metadata) error {
	s.mu.Lock()
	s.metadata = md
	s.trackSeq++
	props := map[string]dbus.Variant{
		"Metadata": dbus.MakeVariant(s.metadataMapLocked()),
	}
	s.mu.Unlock()

	return s.emitPropertiesChanged(props)
}

// UpdatePlayback publishes the playback status. Position is cached for
// property reads; clients interpolate it themselves at rate 1.0, so only
// PlaybackStatus is signalled.
func (s *MPRISSession) UpdatePlayback(status types.PlaybackStatus, position time.Duration) error {
	s.mu.Lock()
	resumed := s.status != status && status == types.StatusPlaying
	s.status = status
	s.position = position
	props := map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(mprisStatus(status)),
	}
	s.mu.Unlock()

	// Re-anchor client position tracking on every stopped/paused to
	// playing transition.
	if resumed {
		s.emitSeeked(position)
	}

	return s.emitPropertiesChanged(props)
}

// UpdateVolume publishes the output volume.
func (s *MPRISSession) UpdateVolume(v float64) error {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()

	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"Volume": dbus.MakeVariant(v),
	})
}

// UpdateShuffle publishes the shuffle state.
func (s *MPRISSession) UpdateShuffle(enabled bool) error {
	s.mu.Lock()
	s.shuffle = enabled
	s.mu.Unlock()

	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"Shuffle": dbus.MakeVariant(enabled),
	})
}

// UpdateRepeat publishes the repeat mode as an MPRIS LoopStatus.
func (s *MPRISSession) UpdateRepeat(mode types.RepeatMode) error {
	s.mu.Lock()
	s.repeat = mode
	s.mu.Unlock()

	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"LoopStatus": dbus.MakeVariant(loopStatus(mode)),
	})
}

// NotifySeeked tells clients the position jumped discontinuously.
func (s *MPRISSession) NotifySeeked(position time.Duration) error {
	s.mu.Lock()
	s.position = position
	s.mu.Unlock()

	return s.emitSeeked(position)
}

// SetCommandHandler registers the receiver for media-key commands.
func (s *MPRISSession) SetCommandHandler(h CommandHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Close releases the bus name and connection.
func (s *MPRISSession) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *MPRISSession) dispatch(cmd Command, data interface{}) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h.OnMediaCommand(cmd, data)
	}
}

// org.mpris.MediaPlayer2 methods

func (s *MPRISSession) Raise() *dbus.Error { return nil }
func (s *MPRISSession) Quit() *dbus.Error  { return nil }

// org.mpris.MediaPlayer2.Player methods

func (s *MPRISSession) Play() *dbus.Error {
	s.dispatch(CmdPlay, nil)
	return nil
}

func (s *MPRISSession) Pause() *dbus.Error {
	s.dispatch(CmdPause, nil)
	return nil
}

func (s *MPRISSession) PlayPause() *dbus.Error {
	s.dispatch(CmdPlayPause, nil)
	return nil
}

func (s *MPRISSession) Stop() *dbus.Error {
	s.dispatch(CmdStop, nil)
	return nil
}

func (s *MPRISSession) Next() *dbus.Error {
	s.dispatch(CmdNext, nil)
	return nil
}

func (s *MPRISSession) Previous() *dbus.Error {
	s.dispatch(CmdPrevious, nil)
	return nil
}

func (s *MPRISSession) Seek(offset int64) *dbus.Error {
	s.dispatch(CmdSeek, time.Duration(offset)*time.Microsecond)
	return nil
}

func (s *MPRISSession) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	s.mu.Lock()
	cur := s.position
	s.mu.Unlock()
	// SetPosition is absolute; reuse the relative seek command.
	s.dispatch(CmdSeek, time.Duration(position)*time.Microsecond-cur)
	return nil
}

// org.freedesktop.DBus.Properties methods

func (s *MPRISSession) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		if v, ok := s.rootProperties()[prop]; ok {
			return v, nil
		}
	case mprisPlayerInterface:
		s.mu.Lock()
		v, ok := s.playerPropertiesLocked()[prop]
		s.mu.Unlock()
		if ok {
			return v, nil
		}
	default:
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
	}
	return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
}

func (s *MPRISSession) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return s.rootProperties(), nil
	case mprisPlayerInterface:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.playerPropertiesLocked(), nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (s *MPRISSession) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerInterface {
		return nil
	}

	switch prop {
	case "Volume":
		v, ok := value.Value().(float64)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Volume"))
		}
		s.dispatch(CmdSetVolume, v)
	case "Shuffle":
		enabled, ok := value.Value().(bool)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Shuffle"))
		}
		s.dispatch(CmdSetShuffle, enabled)
	case "LoopStatus":
		str, ok := value.Value().(string)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for LoopStatus"))
		}
		s.dispatch(CmdSetRepeat, repeatMode(str))
	}

	return nil
}

func (s *MPRISSession) rootProperties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant("tonearm"),
		"DesktopEntry":        dbus.MakeVariant("tonearm"),
		"SupportedUriSchemes": dbus.MakeVariant([]string{"file"}),
		"SupportedMimeTypes": dbus.MakeVariant([]string{
			"audio/mpeg", "audio/flac", "audio/ogg", "audio/x-wav", "audio/x-aiff",
		}),
	}
}

func (s *MPRISSession) playerPropertiesLocked() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(mprisStatus(s.status)),
		"LoopStatus":     dbus.MakeVariant(loopStatus(s.repeat)),
		"Metadata":       dbus.MakeVariant(s.metadataMapLocked()),
		"Position":       dbus.MakeVariant(s.position.Microseconds()),
		"Rate":           dbus.MakeVariant(1.0),
		"MinimumRate":    dbus.MakeVariant(1.0),
		"MaximumRate":    dbus.MakeVariant(1.0),
		"Volume":         dbus.MakeVariant(s.volume),
		"Shuffle":        dbus.MakeVariant(s.shuffle),
		"CanGoNext":      dbus.MakeVariant(true),
		"CanGoPrevious":  dbus.MakeVariant(true),
		"CanPlay":        dbus.MakeVariant(true),
		"CanPause":       dbus.MakeVariant(true),
		"CanSeek":        dbus.MakeVariant(true),
		"CanControl":     dbus.MakeVariant(true),
	}
}

func (s *MPRISSession) metadataMapLocked() map[string]dbus.Variant {
	m := map[string]dbus.Variant{
		// Track id must change when the track changes so clients reset
		// their position estimate.
		"mpris:trackid": dbus.MakeVariant(dbus.ObjectPath(
			fmt.Sprintf("/org/tonearm/track/%d", s.trackSeq))),
	}

	if s.metadata.Title != "" {
		m["xesam:title"] = dbus.MakeVariant(s.metadata.Title)
	}
	if s.metadata.Artist != "" {
		m["xesam:artist"] = dbus.MakeVariant([]string{s.metadata.Artist})
	}
	if s.metadata.Album != "" {
		m["xesam:album"] = dbus.MakeVariant(s.metadata.Album)
	}
	if s.metadata.Duration > 0 {
		m["mpris:length"] = dbus.MakeVariant(s.metadata.Duration.Microseconds())
	}
	if s.metadata.ArtPath != "" {
		m["mpris:artUrl"] = dbus.MakeVariant("file://" + s.metadata.ArtPath)
	}

	return m
}

func (s *MPRISSession) emitSeeked(position time.Duration) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		mprisPlayerInterface+".Seeked",
		position.Microseconds(),
	)
}

func (s *MPRISSession) emitPropertiesChanged(props map[string]dbus.Variant) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		"org.freedesktop.DBus.Properties.PropertiesChanged",
		mprisPlayerInterface,
		props,
		[]string{},
	)
}

func mprisStatus(status types.PlaybackStatus) string {
	switch status {
	case types.StatusPlaying, types.StatusLoading:
		return "Playing"
	case types.StatusPaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

func loopStatus(mode types.RepeatMode) string {
	switch mode {
	case types.RepeatOne:
		return "Track"
	case types.RepeatAll:
		return "Playlist"
	default:
		return "None"
	}
}

func repeatMode(loop string) types.RepeatMode {
	switch loop {
	case "Track":
		return types.RepeatOne
	case "Playlist":
		return types.RepeatAll
	default:
		return types.RepeatOff
	}
}
