package soundboard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewfead/deckhand/internal/helper"
	"github.com/drewfead/deckhand/internal/helper/helpertest"
)

func TestManagerCommands(t *testing.T) {
	proc := helpertest.NewProcess()
	m := New(helpertest.Config(t), helper.WithLauncher(helpertest.Launcher{Proc: proc}))
	m.newID = func() string { return "clip-1" }
	t.Cleanup(func() { m.Close() })

	helpertest.WaitRunning(t, m.Supervisor)

	ctx := context.Background()
	half := 0.5
	id, err := m.Play(ctx, "airhorn.wav", &half)
	require.NoError(t, err)
	assert.Equal(t, "clip-1", id)

	require.NoError(t, m.Stop(id))
	require.NoError(t, m.SetVolume(ctx, 0.8))
	require.NoError(t, m.StopAll())

	assert.Equal(t, []string{
		`{"cmd":"play","id":"clip-1","sound":"airhorn.wav","volume":0.5}`,
		`{"cmd":"stop","id":"clip-1"}`,
		`{"cmd":"volume","volume":0.8}`,
		`{"cmd":"stop_all"}`,
	}, proc.Commands())
}

func TestManagerValidation(t *testing.T) {
	m := New(helpertest.Config(t), helper.WithLauncher(helpertest.Launcher{Proc: helpertest.NewProcess()}))
	t.Cleanup(func() { m.Close() })

	ctx := context.Background()
	_, err := m.Play(ctx, "", nil)
	assert.Error(t, err)

	loud := 1.5
	_, err = m.Play(ctx, "airhorn.wav", &loud)
	assert.Error(t, err)

	assert.Error(t, m.SetVolume(ctx, -0.1))
	assert.Error(t, m.Stop(""))
	assert.ErrorIs(t, m.StopAll(), helper.ErrNotRunning)
}

func TestManagerPlayLaunchesIdleBoard(t *testing.T) {
	proc := helpertest.NewProcess()
	m := New(helpertest.Config(t), helper.WithLauncher(helpertest.Launcher{Proc: proc}))
	m.newID = func() string { return "clip-1" }
	t.Cleanup(func() { m.Close() })

	require.Equal(t, helper.StateNotStarted, m.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := m.Play(ctx, "airhorn.wav", nil)
	require.NoError(t, err)
	assert.Equal(t, "clip-1", id)
	assert.Equal(t, []string{`{"cmd":"play","id":"clip-1","sound":"airhorn.wav"}`}, proc.Commands())
}

func TestManagerPlayReportsUnavailableBoard(t *testing.T) {
	cfg := helpertest.Config(t)
	cfg.Binary = filepath.Join(t.TempDir(), "missing")
	cfg.Source = filepath.Join(t.TempDir(), "missing.swift")
	m := New(cfg, helper.WithLauncher(helpertest.Launcher{Proc: helpertest.NewProcess()}))
	t.Cleanup(func() { m.Close() })

	_, err := m.Play(context.Background(), "airhorn.wav", nil)
	require.ErrorIs(t, err, helper.ErrNotRunning)
	assert.Equal(t, helper.StateFailed, m.State())
}

func TestManagerFetchesState(t *testing.T) {
	proc := helpertest.NewProcess()
	m := New(helpertest.Config(t), helper.WithLauncher(helpertest.Launcher{Proc: proc}))
	t.Cleanup(func() { m.Close() })

	helpertest.WaitRunning(t, m.Supervisor)
	require.NoError(t, proc.Emit(`{"volume":0.7,"playing":[{"id":"a","sound":"drum.wav"}]}`))

	require.Eventually(t, func() bool {
		v, _ := m.Fetch(context.Background())
		st, ok := v.(State)
		return ok && len(st.Playing) == 1 && st.Playing[0].Sound == "drum.wav"
	}, time.Second, 5*time.Millisecond)
}
