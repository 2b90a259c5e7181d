// Package config handles deckhand configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for deckhand.
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	Platform PlatformConfig `yaml:"platform"`
	Helpers  HelpersConfig  `yaml:"helpers"`
	Discord  DiscordConfig  `yaml:"discord"`
	Layout   LayoutConfig   `yaml:"layout"`
}

// DaemonConfig defines deckhandd settings.
type DaemonConfig struct {
	Listen          string        `yaml:"listen" env:"DECKHAND_LISTEN"`
	Database        string        `yaml:"database" env:"DECKHAND_DATABASE"`
	LogFile         string        `yaml:"log_file" env:"DECKHAND_LOG_FILE"`
	LogLevel        string        `yaml:"log_level" env:"DECKHAND_LOG_LEVEL"`
	SentryDSN       string        `yaml:"sentry_dsn" env:"DECKHAND_SENTRY_DSN"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ConfigDebounce  time.Duration `yaml:"config_debounce"`
}

// PlatformConfig selects the OS capability backend.
type PlatformConfig struct {
	Backend        string        `yaml:"backend" env:"DECKHAND_PLATFORM"` // auto, linux, darwin, none
	VolumeInterval time.Duration `yaml:"volume_interval"`
}

// HelperConfig describes one subprocess-backed data source.
type HelperConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Source   string        `yaml:"source"`
	Binary   string        `yaml:"binary"`
	Build    []string      `yaml:"build"` // {src} and {out} are substituted
	Args     []string      `yaml:"args"`
	Interval time.Duration `yaml:"interval"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// HelpersConfig groups the helper processes.
type HelpersConfig struct {
	NowPlaying HelperConfig `yaml:"now_playing"`
	Spectrum   HelperConfig `yaml:"spectrum"`
	Soundboard HelperConfig `yaml:"soundboard"`
}

// DiscordConfig defines the desktop IPC client settings.
type DiscordConfig struct {
	Enabled          bool          `yaml:"enabled"`
	ClientID         string        `yaml:"client_id" env:"DECKHAND_DISCORD_CLIENT_ID"`
	Interval         time.Duration `yaml:"interval"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
}

// LayoutConfig holds the widget layout. Exactly one profile is active.
type LayoutConfig struct {
	ActiveProfile string             `yaml:"active_profile"`
	Profiles      map[string]Profile `yaml:"profiles"`
}

// Profile is a named set of pages.
type Profile struct {
	Pages []Page `yaml:"pages"`
}

// Page is one grid of widgets.
type Page struct {
	Name    string   `yaml:"name"`
	Widgets []Widget `yaml:"widgets"`
}

// Widget is a single tile. Source names a live data provider; Action is what a press dispatches.
type Widget struct {
	ID     string      `yaml:"id"`
	Kind   string      `yaml:"kind"`
	Source string      `yaml:"source,omitempty"`
	Action *ActionSpec `yaml:"action,omitempty"`
}

// ActionSpec is the configured command behind a widget.
type ActionSpec struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params,omitempty"`
}

// ErrUnknownProfile is returned when switching to a profile that isn't configured.
var ErrUnknownProfile = errors.New("unknown profile")

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/deckhand")
	helperDir := filepath.Join(dataDir, "helpers")

	swift := []string{"swiftc", "-O", "{src}", "-o", "{out}"}

	return &Config{
		Daemon: DaemonConfig{
			Listen:          "0.0.0.0:9317",
			Database:        filepath.Join(dataDir, "deckhand.db"),
			LogFile:         filepath.Join(dataDir, "deckhand.log"),
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
			ConfigDebounce:  250 * time.Millisecond,
		},
		Platform: PlatformConfig{
			Backend:        "auto",
			VolumeInterval: time.Second,
		},
		Helpers: HelpersConfig{
			NowPlaying: HelperConfig{
				Enabled:  true,
				Source:   filepath.Join(helperDir, "nowplaying.swift"),
				Binary:   filepath.Join(helperDir, "bin", "nowplaying"),
				Build:    swift,
				Interval: time.Second,
				Cooldown: 30 * time.Second,
			},
			Spectrum: HelperConfig{
				Enabled:  true,
				Source:   filepath.Join(helperDir, "spectrum.swift"),
				Binary:   filepath.Join(helperDir, "bin", "spectrum"),
				Build:    swift,
				Interval: 50 * time.Millisecond,
				Cooldown: 30 * time.Second,
			},
			Soundboard: HelperConfig{
				Enabled:  true,
				Source:   filepath.Join(helperDir, "soundboard.swift"),
				Binary:   filepath.Join(helperDir, "bin", "soundboard"),
				Build:    swift,
				Interval: 250 * time.Millisecond,
				Cooldown: 30 * time.Second,
			},
		},
		Discord: DiscordConfig{
			Enabled:          true,
			Interval:         time.Second,
			CommandTimeout:   5 * time.Second,
			ConnectTimeout:   2 * time.Second,
			ReconnectBackoff: 10 * time.Second,
		},
		Layout: LayoutConfig{
			ActiveProfile: "default",
			Profiles: map[string]Profile{
				"default": {Pages: []Page{{Name: "main"}}},
			},
		},
	}
}

// Load reads configuration from the default path or returns the default config.
func Load() (*Config, error) {
	return LoadFile(DefaultConfigPath())
}

// LoadFile reads configuration from path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.expandEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("DECKHAND_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/deckhand/config.yaml")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Daemon.Listen == "" {
		return errors.New("daemon.listen must be set")
	}
	if len(c.Layout.Profiles) > 0 {
		if _, ok := c.Layout.Profiles[c.Layout.ActiveProfile]; !ok {
			return fmt.Errorf("layout.active_profile %q: %w", c.Layout.ActiveProfile, ErrUnknownProfile)
		}
	}
	for name, h := range map[string]HelperConfig{
		"now_playing": c.Helpers.NowPlaying,
		"spectrum":    c.Helpers.Spectrum,
		"soundboard":  c.Helpers.Soundboard,
	} {
		if !h.Enabled {
			continue
		}
		if h.Interval <= 0 {
			return fmt.Errorf("helpers.%s.interval must be positive", name)
		}
		if h.Cooldown <= 0 {
			return fmt.Errorf("helpers.%s.cooldown must be positive", name)
		}
	}
	return nil
}

// SetActiveProfile makes name the active profile.
func (c *Config) SetActiveProfile(name string) error {
	if _, ok := c.Layout.Profiles[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownProfile)
	}
	c.Layout.ActiveProfile = name
	return nil
}

// ReferencedSources returns the distinct source names referenced by the active profile, sorted.
func (c *Config) ReferencedSources() []string {
	profile, ok := c.Layout.Profiles[c.Layout.ActiveProfile]
	if !ok {
		return nil
	}

	seen := make(map[string]struct{})
	for _, page := range profile.Pages {
		for _, w := range page.Widgets {
			if w.Source != "" {
				seen[w.Source] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) applyEnv() error {
	for _, target := range []any{&c.Daemon, &c.Platform, &c.Discord} {
		if err := env.Parse(target); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

func (c *Config) expandEnvVars() {
	c.Daemon.SentryDSN = os.ExpandEnv(c.Daemon.SentryDSN)
	c.Discord.ClientID = os.ExpandEnv(c.Discord.ClientID)
}
