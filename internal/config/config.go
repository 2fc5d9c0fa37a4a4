// Package config handles daemon configuration file management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Config is the daemon configuration, stored as config.json in the
// config directory.
type Config struct {
	// LibraryPaths lists directories scanned for audio files.
	LibraryPaths []string `json:"libraryPaths"`

	Audio    AudioConfig    `json:"audio"`
	Behavior BehaviorConfig `json:"behavior"`
	Events   EventsConfig   `json:"events"`
}

// AudioConfig contains output device settings.
type AudioConfig struct {
	// SampleRate of the output device (default 44100).
	SampleRate int `json:"sampleRate"`

	// BufferSizeMs sizes the playback ring buffer (default 100).
	BufferSizeMs int `json:"bufferSizeMs"`

	// DefaultVolume 0.0 to 1.0 applied at startup (default 1.0).
	DefaultVolume float64 `json:"defaultVolume"`
}

// BehaviorConfig controls what survives a restart.
type BehaviorConfig struct {
	ResumeOnStart    bool `json:"resumeOnStart"`
	RememberQueue    bool `json:"rememberQueue"`
	RememberPosition bool `json:"rememberPosition"`
}

// EventsConfig tunes the IPC event pump.
type EventsConfig struct {
	// PollIntervalMs between engine-event drains (default 50).
	PollIntervalMs int `json:"pollIntervalMs"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LibraryPaths: []string{},
		Audio: AudioConfig{
			SampleRate:    44100,
			BufferSizeMs:  100,
			DefaultVolume: 1.0,
		},
		Behavior: BehaviorConfig{
			ResumeOnStart:    false,
			RememberQueue:    true,
			RememberPosition: true,
		},
		Events: EventsConfig{
			PollIntervalMs: 50,
		},
	}
}

// Manager loads, saves and hands out the configuration. Safe for
// concurrent use from IPC handlers.
type Manager struct {
	configDir  string
	configPath string

	mu     sync.Mutex
	config *Config
}

// NewManager creates a manager rooted at configDir.
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.json"),
		config:     DefaultConfig(),
	}
}

// Load reads config.json, creating it with defaults when missing, then
// applies TONEARM_* environment overrides on top.
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.mu.Lock()
		m.config = DefaultConfig()
		applyEnv(m.config)
		m.mu.Unlock()
		return m.Save()
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnv(config)

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return nil
}

// applyEnv layers environment overrides over the file values. Values
// come from the process environment or a .env loaded at startup.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TONEARM_LIBRARY_PATHS"); v != "" {
		cfg.LibraryPaths = splitNonEmpty(v)
	}
	if v := os.Getenv("TONEARM_SAMPLE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Audio.SampleRate = n
		}
	}
	if v := os.Getenv("TONEARM_BUFFER_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Audio.BufferSizeMs = n
		}
	}
	if v := os.Getenv("TONEARM_DEFAULT_VOLUME"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.Audio.DefaultVolume = f
		}
	}
	if v := os.Getenv("TONEARM_EVENT_POLL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Events.PollIntervalMs = n
		}
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, string(os.PathListSeparator)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes config.json atomically via a temp file rename.
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	m.mu.Lock()
	data, err := json.MarshalIndent(m.config, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := m.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, m.configPath); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := *m.config
	cfg.LibraryPaths = append([]string(nil), m.config.LibraryPaths...)
	return cfg
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.configPath
}

// Dir returns the config directory.
func (m *Manager) Dir() string {
	return m.configDir
}

// Update replaces the configuration and saves it.
func (m *Manager) Update(config Config) error {
	m.mu.Lock()
	c := config
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}
