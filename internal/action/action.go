// Package action parses remote commands into typed actions and dispatches
// them to handlers.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/drewfead/deckhand/internal/config"
)

// ErrUnknownType is reported for action types with no registered handler.
var ErrUnknownType = errors.New("unknown action type")

// Type names an action.
type Type string

const (
	TypeMediaPlayPause      Type = "media_play_pause"
	TypeMediaNext           Type = "media_next"
	TypeMediaPrevious       Type = "media_previous"
	TypeVolumeSet           Type = "volume_set"
	TypeVolumeStep          Type = "volume_step"
	TypeMuteToggle          Type = "mute_toggle"
	TypeMuteSet             Type = "mute_set"
	TypeHotkey              Type = "hotkey"
	TypeLaunchApp           Type = "launch_app"
	TypeOpenURL             Type = "open_url"
	TypeSwitchProfile       Type = "switch_profile"
	TypeMulti               Type = "multi"
	TypeMediaSeek           Type = "media_seek"
	TypeDiscordToggleMute   Type = "discord_toggle_mute"
	TypeDiscordToggleDeafen Type = "discord_toggle_deafen"
	TypeSoundPlay           Type = "sound_play"
	TypeSoundStop           Type = "sound_stop"
	TypeSoundStopAll        Type = "sound_stop_all"
	TypeSoundVolume         Type = "sound_volume"
)

// Action is one parsed command. The concrete type carries its parameters.
type Action interface {
	Type() Type
}

type (
	MediaPlayPause struct{}
	MediaNext      struct{}
	MediaPrevious  struct{}
	MuteToggle     struct{}

	// VolumeSet sets the output level, 0-100. Fractional slider values are rounded.
	VolumeSet struct {
		Level float64 `json:"level"`
	}
	// VolumeStep adjusts the output level by Delta, clamped to 0-100.
	VolumeStep struct {
		Delta float64 `json:"delta"`
	}
	MuteSet struct {
		Muted bool `json:"muted"`
	}
	// Hotkey presses modifiers and a final key together, e.g. ["ctrl","shift","m"].
	Hotkey struct {
		Keys []string `json:"keys"`
	}
	LaunchApp struct {
		App string `json:"app"`
	}
	OpenURL struct {
		URL string `json:"url"`
	}
	SwitchProfile struct {
		Profile string `json:"profile"`
	}
	// Multi runs Actions in order and stops at the first failure.
	Multi struct {
		Actions []Spec `json:"actions"`
	}

	MediaSeek struct {
		Position float64 `json:"position"`
	}
	DiscordToggleMute   struct{}
	DiscordToggleDeafen struct{}

	SoundPlay struct {
		Sound  string   `json:"sound"`
		Volume *float64 `json:"volume,omitempty"`
	}
	SoundStop struct {
		ID string `json:"id"`
	}
	SoundStopAll struct{}
	SoundVolume  struct {
		Volume float64 `json:"volume"`
	}
)

func (MediaPlayPause) Type() Type      { return TypeMediaPlayPause }
func (MediaNext) Type() Type           { return TypeMediaNext }
func (MediaPrevious) Type() Type       { return TypeMediaPrevious }
func (MuteToggle) Type() Type          { return TypeMuteToggle }
func (VolumeSet) Type() Type           { return TypeVolumeSet }
func (VolumeStep) Type() Type          { return TypeVolumeStep }
func (MuteSet) Type() Type             { return TypeMuteSet }
func (Hotkey) Type() Type              { return TypeHotkey }
func (LaunchApp) Type() Type           { return TypeLaunchApp }
func (OpenURL) Type() Type             { return TypeOpenURL }
func (SwitchProfile) Type() Type       { return TypeSwitchProfile }
func (Multi) Type() Type               { return TypeMulti }
func (MediaSeek) Type() Type           { return TypeMediaSeek }
func (DiscordToggleMute) Type() Type   { return TypeDiscordToggleMute }
func (DiscordToggleDeafen) Type() Type { return TypeDiscordToggleDeafen }
func (SoundPlay) Type() Type           { return TypeSoundPlay }
func (SoundStop) Type() Type           { return TypeSoundStop }
func (SoundStopAll) Type() Type        { return TypeSoundStopAll }
func (SoundVolume) Type() Type         { return TypeSoundVolume }

func (a VolumeSet) Validate() error {
	if a.Level < 0 || a.Level > 100 {
		return fmt.Errorf("level must be between 0 and 100, got %v", a.Level)
	}
	return nil
}

func (a Hotkey) Validate() error {
	if len(a.Keys) == 0 {
		return errors.New("keys is required")
	}
	return nil
}

func (a LaunchApp) Validate() error { return required("app", a.App) }
func (a OpenURL) Validate() error   { return required("url", a.URL) }
func (a SwitchProfile) Validate() error {
	return required("profile", a.Profile)
}

func (a Multi) Validate() error {
	if len(a.Actions) == 0 {
		return errors.New("actions is required")
	}
	return nil
}

func (a MediaSeek) Validate() error {
	if a.Position < 0 {
		return fmt.Errorf("position must be non-negative, got %v", a.Position)
	}
	return nil
}

func (a SoundPlay) Validate() error { return required("sound", a.Sound) }
func (a SoundStop) Validate() error { return required("id", a.ID) }

func (a SoundVolume) Validate() error {
	if a.Volume < 0 || a.Volume > 1 {
		return fmt.Errorf("volume must be between 0 and 1, got %v", a.Volume)
	}
	return nil
}

func required(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

type parser func(params json.RawMessage) (Action, error)

var parsers = map[Type]parser{
	TypeMediaPlayPause:      decode[MediaPlayPause],
	TypeMediaNext:           decode[MediaNext],
	TypeMediaPrevious:       decode[MediaPrevious],
	TypeVolumeSet:           decode[VolumeSet],
	TypeVolumeStep:          decode[VolumeStep],
	TypeMuteToggle:          decode[MuteToggle],
	TypeMuteSet:             decode[MuteSet],
	TypeHotkey:              decode[Hotkey],
	TypeLaunchApp:           decode[LaunchApp],
	TypeOpenURL:             decode[OpenURL],
	TypeSwitchProfile:       decode[SwitchProfile],
	TypeMulti:               decode[Multi],
	TypeMediaSeek:           decode[MediaSeek],
	TypeDiscordToggleMute:   decode[DiscordToggleMute],
	TypeDiscordToggleDeafen: decode[DiscordToggleDeafen],
	TypeSoundPlay:           decode[SoundPlay],
	TypeSoundStop:           decode[SoundStop],
	TypeSoundStopAll:        decode[SoundStopAll],
	TypeSoundVolume:         decode[SoundVolume],
}

func decode[T Action](params json.RawMessage) (Action, error) {
	var v T
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &v); err != nil {
			return nil, fmt.Errorf("%s: invalid params: %w", v.Type(), err)
		}
	}
	if val, ok := any(v).(interface{ Validate() error }); ok {
		if err := val.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", v.Type(), err)
		}
	}
	return v, nil
}

// Parse builds the typed action for typ from its JSON params.
func Parse(typ string, params json.RawMessage) (Action, error) {
	p, ok := parsers[Type(typ)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return p(params)
}

// KnownTypes lists every action type Parse understands, sorted.
func KnownTypes() []string {
	out := make([]string, 0, len(parsers))
	for t := range parsers {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// Spec is the untyped wire form of an action.
type Spec struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// SpecFromConfig converts a configured widget action.
func SpecFromConfig(a config.ActionSpec) (Spec, error) {
	s := Spec{Type: a.Type}
	if len(a.Params) == 0 {
		return s, nil
	}
	raw, err := json.Marshal(a.Params)
	if err != nil {
		return Spec{}, fmt.Errorf("encode params for %s: %w", a.Type, err)
	}
	s.Params = raw
	return s, nil
}

// With returns a copy of s with extra merged over its params, e.g. a
// slider's live value. s is not modified.
func (s Spec) With(extra map[string]any) (Spec, error) {
	merged := map[string]any{}
	if len(s.Params) > 0 && string(s.Params) != "null" {
		if err := json.Unmarshal(s.Params, &merged); err != nil {
			return Spec{}, fmt.Errorf("params for %s are not an object: %w", s.Type, err)
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Type: s.Type, Params: raw}, nil
}
