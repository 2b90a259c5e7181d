package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewfead/deckhand/internal/cli"
	"github.com/drewfead/deckhand/internal/discord"
	"github.com/drewfead/deckhand/internal/helper"
	"github.com/drewfead/deckhand/internal/scheduler"
	"github.com/drewfead/deckhand/internal/session"
)

func TestDialAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:9317", dialAddr(":9317"))
	assert.Equal(t, "127.0.0.1:9317", dialAddr("0.0.0.0:9317"))
	assert.Equal(t, "192.168.1.5:9317", dialAddr("192.168.1.5:9317"))
	assert.Equal(t, "garbage", dialAddr("garbage"))
}

func TestBuildParams(t *testing.T) {
	raw, err := buildParams(`{"keys":["ctrl","m"]}`, []string{"level=40", "app=Spotify", "muted=true"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":["ctrl","m"],"level":40,"app":"Spotify","muted":true}`, string(raw))

	raw, err = buildParams(`{"level":10}`, []string{"level=20"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":20}`, string(raw))

	raw, err = buildParams("", nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	_, err = buildParams(`[1,2]`, nil)
	assert.Error(t, err)

	_, err = buildParams("", []string{"novalue"})
	assert.Error(t, err)
}

func TestTailOffset(t *testing.T) {
	data := []byte("one\ntwo\nthree\n")
	assert.Equal(t, int64(0), tailOffset(data, 0))
	assert.Equal(t, int64(8), tailOffset(data, 1))
	assert.Equal(t, int64(4), tailOffset(data, 2))
	assert.Equal(t, int64(0), tailOffset(data, 3))
	assert.Equal(t, int64(0), tailOffset(data, 10))
	assert.Equal(t, int64(4), tailOffset([]byte("one\ntwo"), 1))
}

func TestLineLevel(t *testing.T) {
	lvl, ok := lineLevel(`time=2026-03-01T12:00:00.000+00:00 level=WARN source=daemon.go:12 msg="poll failed"`)
	require.True(t, ok)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, ok = lineLevel("panic: runtime error")
	assert.False(t, ok)

	cli.ForceColors(false)
	line := `level=ERROR msg=boom`
	assert.Equal(t, line, colorizeLine(line))
}

func TestFormatStatus(t *testing.T) {
	cli.ForceColors(false)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := formatStatus(&session.StatusReport{
		Version:     "1.0.0",
		StartedAt:   now.Add(-90 * time.Minute),
		Platform:    "darwin",
		Profile:     "streaming",
		Sources:     []string{"now_playing", "system_volume"},
		Subscribers: 1,
		Sessions:    []session.Info{{ID: "0123456789abcdef", Remote: "10.0.0.2:5555", ConnectedAt: now.Add(-time.Minute)}},
		Pollers:     []scheduler.PollerStatus{{Source: "now_playing", Interval: time.Second, Ticks: 12, Errors: 1, LastError: "helper not running"}},
		Helpers:     []helper.Status{{Name: "nowplaying", State: helper.StateRunning, PID: 4242}},
		Discord:     &discord.Status{Connected: true, Ready: true, VoiceChannel: "General"},
		Actions:     []string{"media_next", "volume_set"},
	}, now)

	assert.Contains(t, out, "deckhandd 1.0.0")
	assert.Contains(t, out, "up 1h30m")
	assert.Contains(t, out, "now_playing, system_volume")
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "helper not running")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "voice General")
	assert.Contains(t, out, "media_next volume_set")
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", maskToken("abcd"))
	assert.Equal(t, "abcd****wxyz", maskToken("abcd1234wxyz"))
}
