package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLayout = `
daemon:
  listen: 127.0.0.1:9400
discord:
  command_timeout: 3s
layout:
  active_profile: streaming
  profiles:
    streaming:
      pages:
        - name: main
          widgets:
            - id: np
              kind: now_playing
              source: now_playing
            - id: mic
              kind: button
              source: discord
              action:
                type: discord_toggle_mute
        - name: audio
          widgets:
            - id: bars
              kind: visualizer
              source: audio_spectrum
            - id: np2
              kind: now_playing
              source: now_playing
    quiet:
      pages:
        - name: main
          widgets:
            - id: vol
              kind: slider
              source: system_volume
              action:
                type: volume_set
                params:
                  level: 40
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9317", cfg.Daemon.Listen)
	assert.Equal(t, 30*time.Second, cfg.Helpers.NowPlaying.Cooldown)
	assert.Equal(t, 5*time.Second, cfg.Discord.CommandTimeout)
	assert.Equal(t, "default", cfg.Layout.ActiveProfile)
}

func TestLoadFileParsesLayout(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleLayout))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9400", cfg.Daemon.Listen)
	assert.Equal(t, 3*time.Second, cfg.Discord.CommandTimeout)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Discord.ConnectTimeout)

	assert.Equal(t, []string{"audio_spectrum", "discord", "now_playing"}, cfg.ReferencedSources())

	vol := cfg.Layout.Profiles["quiet"].Pages[0].Widgets[0]
	require.NotNil(t, vol.Action)
	assert.Equal(t, "volume_set", vol.Action.Type)
	assert.Equal(t, 40, vol.Action.Params["level"])
}

func TestLoadFileEnvOverrides(t *testing.T) {
	t.Setenv("DECKHAND_LISTEN", "127.0.0.1:1")
	t.Setenv("DECKHAND_LOG_LEVEL", "debug")
	t.Setenv("DECKHAND_DISCORD_CLIENT_ID", "12345")

	cfg, err := LoadFile(writeConfig(t, sampleLayout))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:1", cfg.Daemon.Listen)
	assert.Equal(t, "debug", cfg.Daemon.LogLevel)
	assert.Equal(t, "12345", cfg.Discord.ClientID)
}

func TestLoadFileRejectsUnknownActiveProfile(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "layout:\n  active_profile: nope\n"))
	require.ErrorIs(t, err, ErrUnknownProfile)
}

func TestLiveSwitchProfile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleLayout))
	require.NoError(t, err)
	live := NewLive(cfg)

	before := live.Get()
	require.NoError(t, live.SwitchProfile("quiet"))
	assert.Equal(t, "quiet", live.ActiveProfile())
	assert.Equal(t, []string{"system_volume"}, live.ReferencedSources())

	// The previously handed-out snapshot is not mutated.
	assert.Equal(t, "streaming", before.Layout.ActiveProfile)

	err = live.SwitchProfile("missing")
	require.ErrorIs(t, err, ErrUnknownProfile)
	assert.Equal(t, "quiet", live.ActiveProfile())
}

func TestLiveReplaceLayout(t *testing.T) {
	live := NewLive(DefaultConfig())
	assert.Empty(t, live.ReferencedSources())

	reloaded, err := LoadFile(writeConfig(t, sampleLayout))
	require.NoError(t, err)
	live.ReplaceLayout(reloaded)

	assert.Equal(t, "streaming", live.ActiveProfile())
	assert.Equal(t, "0.0.0.0:9317", live.Get().Daemon.Listen, "daemon section is not reloaded")
}

func TestLiveReplaceLayoutKeepsSwitchedProfile(t *testing.T) {
	path := writeConfig(t, sampleLayout)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	live := NewLive(cfg)
	require.NoError(t, live.SwitchProfile("quiet"))

	reloaded, err := LoadFile(path)
	require.NoError(t, err)
	live.ReplaceLayout(reloaded)
	assert.Equal(t, "quiet", live.ActiveProfile(), "an unrelated edit keeps the runtime choice")

	reloaded, err = LoadFile(path)
	require.NoError(t, err)
	delete(reloaded.Layout.Profiles, "quiet")
	live.ReplaceLayout(reloaded)
	assert.Equal(t, "streaming", live.ActiveProfile(), "a removed profile falls back to the file")

	require.NoError(t, live.SwitchProfile("streaming"))
	reloaded, err = LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, reloaded.SetActiveProfile("quiet"))
	live.ReplaceLayout(reloaded)
	assert.Equal(t, "quiet", live.ActiveProfile(), "editing active_profile wins")
}

func TestValidateRejectsNonPositiveCooldown(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Helpers.Soundboard.Cooldown = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helpers.soundboard.cooldown")

	cfg.Helpers.Soundboard.Enabled = false
	assert.NoError(t, cfg.Validate())

	_, err = LoadFile(writeConfig(t, "helpers:\n  spectrum:\n    cooldown: 0s\n"))
	assert.Error(t, err)
}

func TestWatcherFiresOnWrite(t *testing.T) {
	path := writeConfig(t, sampleLayout)

	changed := make(chan string, 4)
	w, err := NewWatcher(path, 20*time.Millisecond, func(p string) { changed <- p })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path, []byte(sampleLayout+"\n"), 0644))

	select {
	case got := <-changed:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, abs, got)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the config write")
	}
}
