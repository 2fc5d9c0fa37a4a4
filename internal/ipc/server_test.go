package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tonearm-audio/tonearm/internal/audio"
	"github.com/tonearm-audio/tonearm/internal/auth"
	"github.com/tonearm-audio/tonearm/internal/config"
	"github.com/tonearm-audio/tonearm/internal/decode"
	"github.com/tonearm-audio/tonearm/internal/player"
	"github.com/tonearm-audio/tonearm/internal/queue"
	"github.com/tonearm-audio/tonearm/internal/ring"
	"github.com/tonearm-audio/tonearm/internal/types"
)

// fakeSource mirrors the player tests: constant samples at device rate.
type fakeSource struct {
	frames int64
	pos    int64
}

func (s *fakeSource) SampleRate() int { return 44100 }
func (s *fakeSource) Channels() int   { return 2 }

func (s *fakeSource) ReadSamples(dst []float32) (int, error) {
	if s.pos >= s.frames {
		return 0, io.EOF
	}
	want := int64(len(dst) / 2)
	if want > s.frames-s.pos {
		want = s.frames - s.pos
	}
	for i := int64(0); i < want*2; i++ {
		dst[i] = 0.25
	}
	s.pos += want
	return int(want) * 2, nil
}

func (s *fakeSource) SeekFrame(frame int64) error { s.pos = frame; return nil }

func (s *fakeSource) Duration() time.Duration {
	return time.Duration(s.frames) * time.Second / 44100
}

func (s *fakeSource) Format() types.FormatInfo {
	return types.FormatInfo{Codec: "FAKE", SampleRate: 44100, Channels: 2, BitDepth: 16}
}

func (s *fakeSource) Close() error { return nil }

// testServer stands up the full stack on a temp socket: engine, player,
// auth in test mode, server with a fast event pump.
func testServer(t *testing.T) (socketPath string, trackPaths []string) {
	t.Helper()

	reg := decode.NewRegistry()
	reg.Register(".fake", func(path string) (decode.Source, error) {
		return &fakeSource{frames: 441000}, nil
	})

	buf := ring.New(8192)
	state := audio.NewState()
	engine := audio.NewEngine(reg, buf, state, 44100, 2)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)

	go func() {
		scratch := make([]float32, 512)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				buf.Read(scratch)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	dir := t.TempDir()
	trackPaths = make([]string, 3)
	for i := range trackPaths {
		trackPaths[i] = filepath.Join(dir, fmt.Sprintf("t%d.fake", i))
		if err := os.WriteFile(trackPaths[i], []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	p := player.New(engine, queue.NewManager(), nil)

	store, err := auth.NewStore(filepath.Join(dir, "clients.json"))
	if err != nil {
		t.Fatal(err)
	}
	authMgr := auth.NewManager(store, true)

	cfgMgr := config.NewManager(dir)
	if err := cfgMgr.Load(); err != nil {
		t.Fatal(err)
	}

	socketPath = filepath.Join(dir, "tonearm.sock")
	srv := NewServer(socketPath, authMgr, cfgMgr, p, state, 10*time.Millisecond)
	go srv.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			return socketPath, trackPaths
		}
		if time.Now().After(deadline) {
			t.Fatal("Socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, socketPath string) *testClient {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) request(t *testing.T, req Request) *Response {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("Read response: %v", err)
	}
	resp, err := DecodeResponse(line)
	if err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	return resp
}

func (c *testClient) pair(t *testing.T) string {
	t.Helper()
	data, _ := json.Marshal(PairRequest{ClientName: "test"})
	resp := c.request(t, Request{Cmd: CmdPair, Data: data})
	if !resp.Success {
		t.Fatalf("Pair failed: %s", resp.Error)
	}
	var pr PairResponse
	if err := json.Unmarshal(resp.Data, &pr); err != nil {
		t.Fatal(err)
	}
	return pr.Token
}

func (c *testClient) status(t *testing.T, token string) StatusResponse {
	t.Helper()
	resp := c.request(t, Request{Cmd: CmdStatus, Token: token})
	if !resp.Success {
		t.Fatalf("Status failed: %s", resp.Error)
	}
	var st StatusResponse
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		t.Fatal(err)
	}
	return st
}

func (c *testClient) waitState(t *testing.T, token, want string) StatusResponse {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := c.status(t, token)
		if st.State == want {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for state %q", want)
	return StatusResponse{}
}

func TestPairAndAuthorization(t *testing.T) {
	socket, _ := testServer(t)
	c := dial(t, socket)

	// Without a token everything but pair is refused.
	resp := c.request(t, Request{Cmd: CmdStatus})
	if resp.Success || resp.Error != "unauthorized" {
		t.Errorf("Unauthenticated status = %+v, want unauthorized error", resp)
	}

	token := c.pair(t)
	if len(token) != 64 {
		t.Errorf("Token length = %d, want 64", len(token))
	}

	st := c.status(t, token)
	if st.State != "stopped" {
		t.Errorf("Initial state = %q, want stopped", st.State)
	}
}

func TestPlayAndStatus(t *testing.T) {
	socket, tracks := testServer(t)
	c := dial(t, socket)
	token := c.pair(t)

	data, _ := json.Marshal(PlayRequest{
		Path:     tracks[0],
		Metadata: &TrackMetadata{Title: "Song", Artist: "Band"},
	})
	resp := c.request(t, Request{Cmd: CmdPlay, Token: token, Data: data})
	if !resp.Success {
		t.Fatalf("Play failed: %s", resp.Error)
	}

	st := c.waitState(t, token, "playing")
	if st.Path != tracks[0] {
		t.Errorf("Status path = %q, want %q", st.Path, tracks[0])
	}
	if st.Metadata == nil || st.Metadata.Title != "Song" {
		t.Errorf("Status metadata = %+v, want title Song", st.Metadata)
	}
	if st.Format == nil || st.Format.Codec != "FAKE" {
		t.Errorf("Status format = %+v, want codec FAKE", st.Format)
	}
	if st.Duration != 10000 {
		t.Errorf("Status duration = %dms, want 10000", st.Duration)
	}
}

func TestQueueLifecycle(t *testing.T) {
	socket, tracks := testServer(t)
	c := dial(t, socket)
	token := c.pair(t)

	items := make([]QueueItem, len(tracks))
	for i, p := range tracks {
		items[i] = QueueItem{Path: p}
	}
	data, _ := json.Marshal(QueueRequest{Items: items})
	resp := c.request(t, Request{Cmd: CmdQueue, Token: token, Data: data})
	if !resp.Success {
		t.Fatalf("Queue set failed: %s", resp.Error)
	}

	resp = c.request(t, Request{Cmd: CmdGetQueue, Token: token})
	if !resp.Success {
		t.Fatalf("GetQueue failed: %s", resp.Error)
	}
	var gq GetQueueResponse
	if err := json.Unmarshal(resp.Data, &gq); err != nil {
		t.Fatal(err)
	}
	if len(gq.Items) != 3 || gq.Index != 0 {
		t.Errorf("Queue items/index = %d/%d, want 3/0", len(gq.Items), gq.Index)
	}
	for _, item := range gq.Items {
		if item.ID == "" {
			t.Error("Queue item missing generated ID")
		}
	}

	// Jump starts playback at the requested index.
	data, _ = json.Marshal(QueueJumpRequest{Index: 1})
	resp = c.request(t, Request{Cmd: CmdQueueJump, Token: token, Data: data})
	if !resp.Success {
		t.Fatalf("QueueJump failed: %s", resp.Error)
	}
	st := c.waitState(t, token, "playing")
	if st.QueueIndex != 1 {
		t.Errorf("Queue index after jump = %d, want 1", st.QueueIndex)
	}

	// Out-of-range mutations are refused.
	data, _ = json.Marshal(QueueRemoveRequest{Index: 99})
	if resp = c.request(t, Request{Cmd: CmdQueueRemove, Token: token, Data: data}); resp.Success {
		t.Error("QueueRemove out of range should fail")
	}
	data, _ = json.Marshal(QueueMoveRequest{FromIndex: 0, ToIndex: 99})
	if resp = c.request(t, Request{Cmd: CmdQueueMove, Token: token, Data: data}); resp.Success {
		t.Error("QueueMove out of range should fail")
	}
}

func TestRepeatAndShuffle(t *testing.T) {
	socket, _ := testServer(t)
	c := dial(t, socket)
	token := c.pair(t)

	data, _ := json.Marshal(SetRepeatRequest{Mode: "all"})
	resp := c.request(t, Request{Cmd: CmdSetRepeat, Token: token, Data: data})
	if !resp.Success {
		t.Fatalf("SetRepeat failed: %s", resp.Error)
	}
	if st := c.status(t, token); st.RepeatMode != "all" {
		t.Errorf("RepeatMode = %q, want all", st.RepeatMode)
	}

	data, _ = json.Marshal(SetShuffleRequest{Enabled: true})
	resp = c.request(t, Request{Cmd: CmdSetShuffle, Token: token, Data: data})
	if !resp.Success {
		t.Fatalf("SetShuffle failed: %s", resp.Error)
	}
	if st := c.status(t, token); !st.Shuffle {
		t.Error("Shuffle not reported enabled")
	}
}

func TestVolumeAndSeekValidation(t *testing.T) {
	socket, tracks := testServer(t)
	c := dial(t, socket)
	token := c.pair(t)

	data, _ := json.Marshal(VolumeRequest{Level: 0.5})
	resp := c.request(t, Request{Cmd: CmdVolume, Token: token, Data: data})
	if !resp.Success {
		t.Fatalf("Volume failed: %s", resp.Error)
	}
	if st := c.status(t, token); st.Volume != 0.5 {
		t.Errorf("Volume = %v, want 0.5", st.Volume)
	}

	data, _ = json.Marshal(SeekRequest{Fraction: 1.5})
	if resp = c.request(t, Request{Cmd: CmdSeek, Token: token, Data: data}); resp.Success {
		t.Error("Seek beyond 1.0 should fail")
	}

	// A legal seek against a loaded track succeeds.
	data, _ = json.Marshal(PlayRequest{Path: tracks[0]})
	c.request(t, Request{Cmd: CmdPlay, Token: token, Data: data})
	c.waitState(t, token, "playing")
	data, _ = json.Marshal(SeekRequest{Fraction: 0.5})
	if resp = c.request(t, Request{Cmd: CmdSeek, Token: token, Data: data}); !resp.Success {
		t.Errorf("Seek failed: %s", resp.Error)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	socket, _ := testServer(t)
	c := dial(t, socket)
	token := c.pair(t)

	vol := 0.7
	data, _ := json.Marshal(ConfigRequest{DefaultVolume: &vol})
	resp := c.request(t, Request{Cmd: CmdSetConfig, Token: token, Data: data})
	if !resp.Success {
		t.Fatalf("SetConfig failed: %s", resp.Error)
	}

	resp = c.request(t, Request{Cmd: CmdGetConfig, Token: token})
	if !resp.Success {
		t.Fatalf("GetConfig failed: %s", resp.Error)
	}
	var cfg ConfigResponse
	if err := json.Unmarshal(resp.Data, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultVolume != 0.7 {
		t.Errorf("DefaultVolume = %v, want 0.7", cfg.DefaultVolume)
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want default 44100", cfg.SampleRate)
	}
}

func TestStatsCommand(t *testing.T) {
	socket, _ := testServer(t)
	c := dial(t, socket)
	token := c.pair(t)

	resp := c.request(t, Request{Cmd: CmdStats, Token: token})
	if !resp.Success {
		t.Fatalf("Stats failed: %s", resp.Error)
	}
	var stats StatsResponse
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if !stats.Healthy {
		t.Error("Fresh daemon should report healthy")
	}
}

func TestEventPush(t *testing.T) {
	socket, tracks := testServer(t)

	sub := dial(t, socket)
	token := sub.pair(t)
	resp := sub.request(t, Request{Cmd: CmdSubscribeEvents, Token: token})
	if !resp.Success {
		t.Fatalf("Subscribe failed: %s", resp.Error)
	}

	// Trigger playback from a second connection so the subscriber's
	// stream carries only pushes.
	ctl := dial(t, socket)
	data, _ := json.Marshal(PlayRequest{Path: tracks[0]})
	if resp := ctl.request(t, Request{Cmd: CmdPlay, Token: token, Data: data}); !resp.Success {
		t.Fatalf("Play failed: %s", resp.Error)
	}

	sub.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		line, err := sub.reader.ReadBytes('\n')
		if err != nil {
			t.Fatalf("Waiting for event push: %v", err)
		}
		var msg PushMessage
		if err := json.Unmarshal(line, &msg); err != nil || msg.Type != PushEvent {
			continue
		}
		var ev EventMessage
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Event == "trackLoaded" {
			if ev.Path != tracks[0] {
				t.Errorf("Pushed path = %q, want %q", ev.Path, tracks[0])
			}
			return
		}
	}
}

func TestInvalidRequests(t *testing.T) {
	socket, _ := testServer(t)
	c := dial(t, socket)
	token := c.pair(t)

	if _, err := c.conn.Write([]byte("not json\n")); err != nil {
		t.Fatal(err)
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	resp, err := DecodeResponse(line)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.Error != "invalid request format" {
		t.Errorf("Malformed line response = %+v", resp)
	}

	if resp := c.request(t, Request{Cmd: "bogus", Token: token}); resp.Success || resp.Error != "unknown command" {
		t.Errorf("Unknown command response = %+v", resp)
	}
}
