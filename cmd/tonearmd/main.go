// Package main is the entry point for the tonearmd daemon.
// tonearmd is a headless audio playback daemon: it decodes local files,
// feeds a real-time output device, exposes a unix-socket control
// surface and integrates with the OS media session.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tonearm-audio/tonearm/internal/audio"
	"github.com/tonearm-audio/tonearm/internal/auth"
	"github.com/tonearm-audio/tonearm/internal/config"
	"github.com/tonearm-audio/tonearm/internal/decode"
	"github.com/tonearm-audio/tonearm/internal/ipc"
	"github.com/tonearm-audio/tonearm/internal/library"
	"github.com/tonearm-audio/tonearm/internal/media"
	"github.com/tonearm-audio/tonearm/internal/player"
	"github.com/tonearm-audio/tonearm/internal/queue"
	"github.com/tonearm-audio/tonearm/internal/ring"
)

// Version is set at build time via ldflags.
var Version = "dev"

const outputChannels = 2

type daemonFlags struct {
	SocketPath string
	ConfigDir  string
	LogFile    string
	TestMode   bool
	Version    bool
}

func main() {
	flags := parseFlags()

	if flags.Version {
		fmt.Printf("tonearmd %s\n", Version)
		return
	}

	if flags.LogFile != "" {
		f, err := os.OpenFile(flags.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Printf("tonearmd %s starting", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, flags); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags() *daemonFlags {
	flags := &daemonFlags{}

	flag.StringVar(&flags.SocketPath, "socket", "", "IPC socket path (default: /tmp/tonearm-<uid>.sock)")
	flag.StringVar(&flags.ConfigDir, "config", "", "Configuration directory (default: ~/.config/tonearm)")
	flag.StringVar(&flags.LogFile, "log-file", "", "Append logs to this file instead of stderr")
	flag.BoolVar(&flags.TestMode, "test-mode", false, "Run in test mode (auto-approve pairing)")
	flag.BoolVar(&flags.Version, "version", false, "Print version and exit")
	flag.Parse()

	// Environment overrides may live in a .env next to the binary.
	godotenv.Load()

	if flags.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		flags.ConfigDir = filepath.Join(homeDir, ".config", "tonearm")
	}
	if flags.SocketPath == "" {
		flags.SocketPath = fmt.Sprintf("/tmp/tonearm-%d.sock", os.Getuid())
	}

	return flags
}

func run(ctx context.Context, flags *daemonFlags) error {
	configMgr := config.NewManager(flags.ConfigDir)
	if err := configMgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	// Audio path: decode registry -> engine -> ring -> output device.
	registry := decode.NewRegistry()

	ringSamples := cfg.Audio.SampleRate * outputChannels * cfg.Audio.BufferSizeMs / 1000
	buf := ring.New(ringSamples)
	state := audio.NewState()
	state.SetVolume(float32(cfg.Audio.DefaultVolume))

	engine := audio.NewEngine(registry, buf, state, cfg.Audio.SampleRate, outputChannels)
	engine.Start(ctx)

	device, err := audio.OpenDevice(cfg.Audio.SampleRate, outputChannels, buf, state)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	defer device.Close()
	device.Start()
	log.Printf("[MAIN] Audio device open: %d Hz, %d channels", cfg.Audio.SampleRate, outputChannels)

	// Library for random-track auto-populate, refreshed by fsnotify.
	lib := library.New(cfg.LibraryPaths)
	go func() {
		if err := lib.Watch(ctx); err != nil {
			log.Printf("[MAIN] Library watch unavailable: %v", err)
		}
	}()

	queueMgr := queue.NewManager()
	p := player.New(engine, queueMgr, lib)

	var queueStore *queue.Store
	if cfg.Behavior.RememberQueue {
		queueStore = queue.NewStore(flags.ConfigDir, queueMgr)
		if err := queueStore.Load(); err != nil {
			log.Printf("[QUEUE] Failed to load saved queue: %v", err)
		} else if _, size := queueMgr.Index(); size > 0 {
			log.Printf("[QUEUE] Restored queue with %d items", size)
		}
		if cfg.Behavior.RememberPosition {
			queueStore.SetPositionFunc(func() time.Duration {
				return p.State().Position
			})
		}
		queueMgr.SetOnChange(func() {
			if err := queueStore.Save(); err != nil {
				log.Printf("[QUEUE] Failed to save queue: %v", err)
			}
		})
	}

	session, err := media.NewSession()
	if err != nil {
		log.Printf("[MEDIA] No OS media integration: %v", err)
		session = media.NewNoOpSession()
	} else {
		log.Printf("[MEDIA] Media session registered")
	}
	defer session.Close()
	p.SetMediaSession(session)

	if cfg.Behavior.ResumeOnStart && queueMgr.Current() != nil {
		if queueStore != nil && cfg.Behavior.RememberPosition {
			if pos := queueStore.LastPosition(); pos > 0 {
				p.ResumeAt(pos)
			}
		}
		if err := p.Play(); err != nil {
			log.Printf("[MAIN] Resume on start failed: %v", err)
		}
	}

	authStore, err := auth.NewStore(filepath.Join(flags.ConfigDir, "clients.json"))
	if err != nil {
		return fmt.Errorf("failed to initialize auth store: %w", err)
	}
	authMgr := auth.NewManager(authStore, flags.TestMode)

	server := ipc.NewServer(
		flags.SocketPath,
		authMgr,
		configMgr,
		p,
		state,
		time.Duration(cfg.Events.PollIntervalMs)*time.Millisecond,
	)

	err = server.Start(ctx)

	// Orderly teardown: stop the engine, persist the queue.
	p.Shutdown()
	select {
	case <-engine.Done():
	case <-time.After(2 * time.Second):
		log.Printf("[MAIN] Engine did not stop in time")
	}
	if queueStore != nil {
		if saveErr := queueStore.Save(); saveErr != nil {
			log.Printf("[QUEUE] Failed to save queue on shutdown: %v", saveErr)
		}
	}

	if err != nil {
		return fmt.Errorf("IPC server error: %w", err)
	}
	return nil
}
