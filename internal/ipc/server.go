package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tonearm-audio/tonearm/internal/audio"
	"github.com/tonearm-audio/tonearm/internal/auth"
	"github.com/tonearm-audio/tonearm/internal/config"
	"github.com/tonearm-audio/tonearm/internal/player"
	"github.com/tonearm-audio/tonearm/internal/queue"
	"github.com/tonearm-audio/tonearm/internal/types"
)

// eventBatchSize bounds how many engine events one pump tick drains.
const eventBatchSize = 32

// client wraps a connection with a write lock, since responses and
// pushes come from different goroutines.
type client struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *client) writeLine(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(append(data, '\n'))
	return err
}

// Server exposes the player over a unix socket.
type Server struct {
	socketPath   string
	authMgr      *auth.Manager
	configMgr    *config.Manager
	player       *player.Player
	state        *audio.State
	pollInterval time.Duration

	listener net.Listener

	mu           sync.Mutex
	clients      map[net.Conn]*client
	eventSubs    map[net.Conn]*client
	spectrumSubs map[net.Conn]*client
}

// NewServer wires the control surface. state feeds the stats command;
// pollInterval paces the event pump.
func NewServer(
	socketPath string,
	authMgr *auth.Manager,
	configMgr *config.Manager,
	p *player.Player,
	state *audio.State,
	pollInterval time.Duration,
) *Server {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &Server{
		socketPath:   socketPath,
		authMgr:      authMgr,
		configMgr:    configMgr,
		player:       p,
		state:        state,
		pollInterval: pollInterval,
		clients:      make(map[net.Conn]*client),
		eventSubs:    make(map[net.Conn]*client),
		spectrumSubs: make(map[net.Conn]*client),
	}
}

// Start serves until ctx is cancelled, then tears down the socket.
func (s *Server) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	log.Printf("[IPC] Listening on %s", s.socketPath)

	go s.acceptLoop(ctx)
	go s.eventPump(ctx)
	go s.spectrumPump(ctx)

	<-ctx.Done()

	s.mu.Lock()
	n := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	listener.Close()
	os.RemoveAll(s.socketPath)
	log.Printf("[IPC] Server stopped, closed %d client connections", n)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("[IPC] Accept error: %v", err)
				continue
			}
		}

		c := &client{conn: conn}
		s.mu.Lock()
		s.clients[conn] = c
		total := len(s.clients)
		s.mu.Unlock()
		log.Printf("[IPC] Client connected (%d active)", total)

		go s.handleConnection(ctx, c)
	}
}

// eventPump is the sole consumer of the orchestrator's event stream. It
// drains on a fixed interval and forwards each event to subscribers.
func (s *Server) eventPump(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range s.player.PollEvents(eventBatchSize) {
				s.pushEvent(ev)
			}
		}
	}
}

func (s *Server) spectrumPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sp := <-s.player.Spectra():
			s.pushSpectrum(sp)
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	peer := c.conn.RemoteAddr().String()
	if peer == "" {
		peer = "local"
	}

	defer func() {
		c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c.conn)
		delete(s.eventSubs, c.conn)
		delete(s.spectrumSubs, c.conn)
		total := len(s.clients)
		s.mu.Unlock()
		log.Printf("[IPC] Client disconnected (%d active)", total)
	}()

	reader := bufio.NewReader(c.conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				log.Printf("[IPC] Read error: %v", err)
			}
			return
		}

		req, err := DecodeRequest(line)
		if err != nil {
			log.Printf("[IPC] Invalid request: %v", err)
			s.sendResponse(c, NewErrorResponse("invalid request format"))
			continue
		}

		if req.Cmd != CmdStatus && req.Cmd != CmdStats {
			log.Printf("[IPC] Command: %s", req.Cmd)
		}

		resp := s.handleRequest(c, peer, req)
		if err := s.sendResponse(c, resp); err != nil {
			log.Printf("[IPC] Send error: %v", err)
			return
		}
	}
}

func (s *Server) handleRequest(c *client, peer string, req *Request) *Response {
	if s.authMgr.IsLockedOut(peer) {
		return NewErrorResponse("locked out")
	}

	if req.Cmd == CmdPair {
		return s.handlePair(req)
	}

	if !s.authMgr.ValidateToken(req.Token) {
		s.authMgr.RecordAuthFailure(peer)
		return NewErrorResponse("unauthorized")
	}

	switch req.Cmd {
	case CmdPlay:
		return s.handlePlay(req)
	case CmdPause:
		return s.playerCall(s.player.Pause)
	case CmdResume:
		return s.playerCall(s.player.Play)
	case CmdStop:
		return s.playerCall(s.player.Stop)
	case CmdNext:
		return s.playerCall(s.player.Next)
	case CmdPrev:
		return s.playerCall(s.player.Previous)
	case CmdSeek:
		return s.handleSeek(req)
	case CmdVolume:
		return s.handleVolume(req)
	case CmdStatus:
		return s.handleStatus()
	case CmdStats:
		return s.handleStats()
	case CmdQueue:
		return s.handleQueue(req)
	case CmdGetQueue:
		return s.handleGetQueue()
	case CmdQueueJump:
		return s.handleQueueJump(req)
	case CmdQueueRemove:
		return s.handleQueueRemove(req)
	case CmdQueueMove:
		return s.handleQueueMove(req)
	case CmdSetRepeat:
		return s.handleSetRepeat(req)
	case CmdSetShuffle:
		return s.handleSetShuffle(req)
	case CmdGetConfig:
		return s.handleGetConfig()
	case CmdSetConfig:
		return s.handleSetConfig(req)
	case CmdSubscribeEvents:
		return s.subscribe(c, s.eventSubs, true)
	case CmdUnsubscribeEvents:
		return s.subscribe(c, s.eventSubs, false)
	case CmdSubscribeSpectrum:
		return s.subscribe(c, s.spectrumSubs, true)
	case CmdUnsubscribeSpectrum:
		return s.subscribe(c, s.spectrumSubs, false)
	default:
		return NewErrorResponse("unknown command")
	}
}

// playerCall runs a transport command and answers with fresh status.
func (s *Server) playerCall(fn func() error) *Response {
	if err := fn(); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handlePair(req *Request) *Response {
	var pairReq PairRequest
	if req.Data != nil {
		if err := json.Unmarshal(req.Data, &pairReq); err != nil {
			return NewErrorResponse("invalid pair request")
		}
	}

	token, clientID, notified, err := s.authMgr.Pair(pairReq.ClientName)
	if err != nil {
		log.Printf("[AUTH] Pairing failed: %v", err)
		return NewErrorResponse(err.Error())
	}
	log.Printf("[AUTH] Paired client %q (ID %s)", pairReq.ClientName, clientID)

	resp, err := NewSuccessResponse(PairResponse{
		Token:    token,
		ClientID: clientID,
		Notified: notified,
	})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handlePlay(req *Request) *Response {
	var playReq PlayRequest
	if req.Data != nil {
		if err := json.Unmarshal(req.Data, &playReq); err != nil {
			return NewErrorResponse("invalid play request")
		}
	}

	// No path means resume / start the queue.
	if playReq.Path == "" {
		return s.playerCall(s.player.Play)
	}

	q := s.player.Queue()

	// Already queued tracks keep their queue position.
	for i, item := range q.Items() {
		if item.Path == playReq.Path {
			if err := s.player.JumpTo(i); err != nil {
				return NewErrorResponse(err.Error())
			}
			return s.handleStatus()
		}
	}

	q.Set([]queue.Item{queue.NewItem(playReq.Path, metadataFromWire(playReq.Metadata))})
	if err := s.player.JumpTo(0); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleSeek(req *Request) *Response {
	var seekReq SeekRequest
	if err := json.Unmarshal(req.Data, &seekReq); err != nil {
		return NewErrorResponse("invalid seek request")
	}
	if seekReq.Fraction < 0 || seekReq.Fraction > 1 {
		return NewErrorResponse("seek fraction out of range")
	}
	if err := s.player.Seek(seekReq.Fraction); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleVolume(req *Request) *Response {
	var volReq VolumeRequest
	if err := json.Unmarshal(req.Data, &volReq); err != nil {
		return NewErrorResponse("invalid volume request")
	}
	if err := s.player.SetVolume(volReq.Level); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleStatus() *Response {
	resp, err := NewSuccessResponse(statusFromState(s.player.State()))
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleStats() *Response {
	stats := s.state.Stats()
	resp, err := NewSuccessResponse(StatsResponse{
		Callbacks:       stats.CallbackCount,
		SamplesRendered: stats.SamplesOut,
		Underruns:       stats.Underruns,
		BufferFill:      int(stats.BufferFillPercent),
		PeakCallbackUs:  int64(stats.PeakCallbackUs),
		Healthy:         stats.Healthy(),
		Volume:          float64(s.state.Volume()),
	})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleQueue(req *Request) *Response {
	var queueReq QueueRequest
	if err := json.Unmarshal(req.Data, &queueReq); err != nil {
		return NewErrorResponse("invalid queue request")
	}

	items := make([]queue.Item, 0, len(queueReq.Items))
	for _, it := range queueReq.Items {
		items = append(items, queue.NewItem(it.Path, metadataFromWire(it.Metadata)))
	}

	q := s.player.Queue()
	if queueReq.Append {
		q.Append(items)
		log.Printf("[QUEUE] Appended %d tracks", len(items))
	} else {
		q.Set(items)
		log.Printf("[QUEUE] Replaced queue with %d tracks", len(items))
		if queueReq.Play && len(items) > 0 {
			if err := s.player.JumpTo(0); err != nil {
				return NewErrorResponse(err.Error())
			}
		}
	}
	return s.handleStatus()
}

func (s *Server) handleGetQueue() *Response {
	q := s.player.Queue()
	items := q.Items()
	idx, _ := q.Index()

	wire := make([]QueueItem, len(items))
	for i, item := range items {
		wire[i] = QueueItem{ID: item.ID, Path: item.Path, Metadata: metadataToWire(item.Metadata)}
	}

	resp, err := NewSuccessResponse(GetQueueResponse{
		Items:      wire,
		Index:      idx,
		RepeatMode: q.Repeat().String(),
		Shuffle:    q.Shuffle(),
	})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleQueueJump(req *Request) *Response {
	var jumpReq QueueJumpRequest
	if err := json.Unmarshal(req.Data, &jumpReq); err != nil {
		return NewErrorResponse("invalid queueJump request")
	}
	if err := s.player.JumpTo(jumpReq.Index); err != nil {
		return NewErrorResponse("invalid queue index")
	}
	return s.handleStatus()
}

func (s *Server) handleQueueRemove(req *Request) *Response {
	var removeReq QueueRemoveRequest
	if err := json.Unmarshal(req.Data, &removeReq); err != nil {
		return NewErrorResponse("invalid queueRemove request")
	}
	if !s.player.Queue().Remove(removeReq.Index) {
		return NewErrorResponse("invalid queue index")
	}
	return s.handleStatus()
}

func (s *Server) handleQueueMove(req *Request) *Response {
	var moveReq QueueMoveRequest
	if err := json.Unmarshal(req.Data, &moveReq); err != nil {
		return NewErrorResponse("invalid queueMove request")
	}
	if !s.player.Queue().Move(moveReq.FromIndex, moveReq.ToIndex) {
		return NewErrorResponse("invalid queue indices")
	}
	return s.handleStatus()
}

func (s *Server) handleSetRepeat(req *Request) *Response {
	var repeatReq SetRepeatRequest
	if err := json.Unmarshal(req.Data, &repeatReq); err != nil {
		return NewErrorResponse("invalid setRepeat request")
	}
	s.player.SetRepeat(types.ParseRepeatMode(repeatReq.Mode))
	return s.handleStatus()
}

func (s *Server) handleSetShuffle(req *Request) *Response {
	var shuffleReq SetShuffleRequest
	if err := json.Unmarshal(req.Data, &shuffleReq); err != nil {
		return NewErrorResponse("invalid setShuffle request")
	}
	s.player.SetShuffle(shuffleReq.Enabled)
	return s.handleStatus()
}

func (s *Server) handleGetConfig() *Response {
	cfg := s.configMgr.Get()
	resp, err := NewSuccessResponse(ConfigResponse{
		ConfigPath:       s.configMgr.Path(),
		LibraryPaths:     cfg.LibraryPaths,
		SampleRate:       cfg.Audio.SampleRate,
		BufferSizeMs:     cfg.Audio.BufferSizeMs,
		DefaultVolume:    cfg.Audio.DefaultVolume,
		ResumeOnStart:    cfg.Behavior.ResumeOnStart,
		RememberQueue:    cfg.Behavior.RememberQueue,
		RememberPosition: cfg.Behavior.RememberPosition,
		EventPollMs:      cfg.Events.PollIntervalMs,
	})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleSetConfig(req *Request) *Response {
	var cfgReq ConfigRequest
	if err := json.Unmarshal(req.Data, &cfgReq); err != nil {
		return NewErrorResponse("invalid config request")
	}

	cfg := s.configMgr.Get()
	if cfgReq.LibraryPaths != nil {
		cfg.LibraryPaths = *cfgReq.LibraryPaths
	}
	if cfgReq.SampleRate != nil {
		cfg.Audio.SampleRate = *cfgReq.SampleRate
	}
	if cfgReq.BufferSizeMs != nil {
		cfg.Audio.BufferSizeMs = *cfgReq.BufferSizeMs
	}
	if cfgReq.DefaultVolume != nil {
		cfg.Audio.DefaultVolume = *cfgReq.DefaultVolume
	}
	if cfgReq.ResumeOnStart != nil {
		cfg.Behavior.ResumeOnStart = *cfgReq.ResumeOnStart
	}
	if cfgReq.RememberQueue != nil {
		cfg.Behavior.RememberQueue = *cfgReq.RememberQueue
	}
	if cfgReq.RememberPosition != nil {
		cfg.Behavior.RememberPosition = *cfgReq.RememberPosition
	}
	if cfgReq.EventPollMs != nil {
		cfg.Events.PollIntervalMs = *cfgReq.EventPollMs
	}

	if err := s.configMgr.Update(cfg); err != nil {
		log.Printf("[CONFIG] Save failed: %v", err)
		return NewErrorResponse(fmt.Sprintf("failed to save config: %v", err))
	}
	log.Printf("[CONFIG] Config updated")
	return s.handleGetConfig()
}

func (s *Server) subscribe(c *client, set map[net.Conn]*client, on bool) *Response {
	s.mu.Lock()
	if on {
		set[c.conn] = c
	} else {
		delete(set, c.conn)
	}
	n := len(set)
	s.mu.Unlock()

	log.Printf("[IPC] Subscription change (%d subscribers)", n)
	resp, _ := NewSuccessResponse(map[string]bool{"subscribed": on})
	return resp
}

func (s *Server) pushEvent(ev audio.Event) {
	s.pushToSubs(s.eventSubs, PushEvent, eventToWire(ev))
}

func (s *Server) pushSpectrum(sp audio.Spectrum) {
	s.pushToSubs(s.spectrumSubs, PushSpectrum, SpectrumMessage{
		Bands:    sp.Bands,
		Peak:     sp.Peak,
		RMS:      sp.RMS,
		Position: s.player.State().Position.Milliseconds(),
	})
}

func (s *Server) pushToSubs(set map[net.Conn]*client, msgType string, payload interface{}) {
	s.mu.Lock()
	if len(set) == 0 {
		s.mu.Unlock()
		return
	}
	subs := make([]*client, 0, len(set))
	for _, c := range set {
		subs = append(subs, c)
	}
	s.mu.Unlock()

	data, err := NewPushMessage(msgType, payload)
	if err != nil {
		return
	}

	for _, c := range subs {
		if err := c.writeLine(data); err != nil {
			s.mu.Lock()
			delete(set, c.conn)
			s.mu.Unlock()
		}
	}
}

func (s *Server) sendResponse(c *client, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.writeLine(data)
}

func statusFromState(st player.State) StatusResponse {
	out := StatusResponse{
		State:      st.Status.String(),
		Path:       st.Path,
		Position:   st.Position.Milliseconds(),
		Duration:   st.Duration.Milliseconds(),
		Volume:     st.Volume,
		Metadata:   metadataToWire(st.Metadata),
		QueueIndex: st.QueueIndex,
		QueueSize:  st.QueueLen,
		RepeatMode: st.Repeat.String(),
		Shuffle:    st.Shuffle,
	}
	if st.Format.Codec != "" {
		out.Format = &FormatInfo{
			Codec:      st.Format.Codec,
			SampleRate: st.Format.SampleRate,
			Channels:   st.Format.Channels,
			BitDepth:   st.Format.BitDepth,
			Lossless:   st.Format.Lossless,
			Quality:    st.Format.QualityLabel(),
		}
	}
	return out
}

func eventToWire(ev audio.Event) EventMessage {
	out := EventMessage{
		Path:     ev.Path,
		Position: ev.Position.Milliseconds(),
		Duration: ev.Duration.Milliseconds(),
	}
	switch ev.Type {
	case audio.EventStatusChanged:
		out.Event = "statusChanged"
		out.State = ev.Status.String()
	case audio.EventTrackLoaded:
		out.Event = "trackLoaded"
	case audio.EventPositionChanged:
		out.Event = "positionChanged"
	case audio.EventPlaybackFinished:
		out.Event = "playbackFinished"
	case audio.EventError:
		out.Event = "error"
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
	}
	return out
}

func metadataFromWire(md *TrackMetadata) *types.TrackMetadata {
	if md == nil {
		return nil
	}
	return &types.TrackMetadata{
		Title:    md.Title,
		Artist:   md.Artist,
		Album:    md.Album,
		Duration: md.Duration,
		ArtPath:  md.ArtPath,
	}
}

func metadataToWire(md *types.TrackMetadata) *TrackMetadata {
	if md == nil {
		return nil
	}
	return &TrackMetadata{
		Title:    md.Title,
		Artist:   md.Artist,
		Album:    md.Album,
		Duration: md.Duration,
		ArtPath:  md.ArtPath,
	}
}
