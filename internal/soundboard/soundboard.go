// Package soundboard drives the soundboard helper: one-shot clips mixed by
// the helper process, addressed by the id the caller assigns at play time.
package soundboard

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/drewfead/deckhand/internal/config"
	"github.com/drewfead/deckhand/internal/helper"
)

// Name is the provider name widgets reference.
const Name = "soundboard"

// Playing describes one active clip.
type Playing struct {
	ID      string  `json:"id"`
	Sound   string  `json:"sound"`
	Elapsed float64 `json:"elapsed,omitempty"`
}

// State is one line emitted by the soundboard helper.
type State struct {
	Volume  float64   `json:"volume"`
	Playing []Playing `json:"playing"`
}

// Manager supervises the soundboard helper.
type Manager struct {
	*helper.Supervisor
	newID func() string
}

// New creates a soundboard manager.
func New(cfg config.HelperConfig, opts ...helper.Option) *Manager {
	spec := helper.SpecFromConfig(Name, cfg, helper.DecodeAs[State]())
	return &Manager{
		Supervisor: helper.New(spec, opts...),
		newID:      uuid.NewString,
	}
}

type command struct {
	Cmd    string   `json:"cmd"`
	ID     string   `json:"id,omitempty"`
	Sound  string   `json:"sound,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
}

// Play starts sound and returns the id used to stop it. A nil volume plays at
// the board's current volume. An idle board is launched first; ctx bounds the
// wait for it to come up.
func (m *Manager) Play(ctx context.Context, sound string, volume *float64) (string, error) {
	if sound == "" {
		return "", fmt.Errorf("sound is required")
	}
	if volume != nil {
		if err := checkVolume(*volume); err != nil {
			return "", err
		}
	}
	if err := m.StartAndWait(ctx); err != nil {
		return "", err
	}
	id := m.newID()
	if err := m.Send(command{Cmd: "play", ID: id, Sound: sound, Volume: volume}); err != nil {
		return "", err
	}
	return id, nil
}

// Stop stops one clip.
func (m *Manager) Stop(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return m.Send(command{Cmd: "stop", ID: id})
}

// StopAll stops every clip.
func (m *Manager) StopAll() error {
	return m.Send(command{Cmd: "stop_all"})
}

// SetVolume sets the board volume in [0,1], launching an idle board first.
func (m *Manager) SetVolume(ctx context.Context, volume float64) error {
	if err := checkVolume(volume); err != nil {
		return err
	}
	if err := m.StartAndWait(ctx); err != nil {
		return err
	}
	return m.Send(command{Cmd: "volume", Volume: &volume})
}

func checkVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("volume must be between 0 and 1, got %v", v)
	}
	return nil
}
