package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/drewfead/deckhand/internal/logging"
	"github.com/drewfead/deckhand/internal/platform"
)

const (
	defaultTimeout = 10 * time.Second
	maxMultiDepth  = 4
)

// Result is the outcome reported to the client that sent the action.
type Result struct {
	Success    bool   `json:"success"`
	ActionType string `json:"actionType"`
	Error      string `json:"error,omitempty"`
}

// Handler performs one typed action.
type Handler func(ctx context.Context, a Action) error

// ProfileSwitcher changes the active layout profile.
type ProfileSwitcher interface {
	SwitchProfile(name string) error
}

// Seeker moves the playback position of the current track through the
// now-playing helper while it is running.
type Seeker interface {
	Running() bool
	Seek(position float64) error
}

// VoiceController toggles the local voice state in the chat client.
type VoiceController interface {
	ToggleMute(ctx context.Context) error
	ToggleDeafen(ctx context.Context) error
}

// Soundboard plays and stops clips.
type Soundboard interface {
	Play(ctx context.Context, sound string, volume *float64) (string, error)
	Stop(id string) error
	StopAll() error
	SetVolume(ctx context.Context, v float64) error
}

// Deps are the capability groups an Engine dispatches to. Platform is
// required; a nil group leaves its action types unregistered.
type Deps struct {
	Platform   platform.Capabilities
	Profiles   ProfileSwitcher
	NowPlaying Seeker
	Discord    VoiceController
	Soundboard Soundboard
	Timeout    time.Duration
}

// Engine maps action types to handlers.
type Engine struct {
	handlers map[Type]Handler
	timeout  time.Duration
	logger   *slog.Logger
}

type depthKey struct{}

// handle adapts a handler for one concrete action type.
func handle[T Action](fn func(ctx context.Context, a T) error) Handler {
	return func(ctx context.Context, a Action) error {
		v, ok := a.(T)
		if !ok {
			return fmt.Errorf("handler for %s got %T", a.Type(), a)
		}
		return fn(ctx, v)
	}
}

// NewEngine registers a handler for every action the given groups support.
func NewEngine(deps Deps) *Engine {
	e := &Engine{
		handlers: make(map[Type]Handler),
		timeout:  deps.Timeout,
		logger:   logging.Component("action"),
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}

	if p := deps.Platform; p != nil {
		e.Register(TypeMediaPlayPause, handle(func(ctx context.Context, _ MediaPlayPause) error {
			return p.MediaPlayPause(ctx)
		}))
		e.Register(TypeMediaNext, handle(func(ctx context.Context, _ MediaNext) error {
			return p.MediaNext(ctx)
		}))
		e.Register(TypeMediaPrevious, handle(func(ctx context.Context, _ MediaPrevious) error {
			return p.MediaPrevious(ctx)
		}))
		e.Register(TypeVolumeSet, handle(func(ctx context.Context, a VolumeSet) error {
			return p.SetVolume(ctx, int(math.Round(a.Level)))
		}))
		e.Register(TypeVolumeStep, handle(func(ctx context.Context, a VolumeStep) error {
			cur, err := p.Volume(ctx)
			if err != nil {
				return fmt.Errorf("read volume: %w", err)
			}
			return p.SetVolume(ctx, platform.ClampVolume(cur+int(math.Round(a.Delta))))
		}))
		e.Register(TypeMuteToggle, handle(func(ctx context.Context, _ MuteToggle) error {
			muted, err := p.Muted(ctx)
			if err != nil {
				return fmt.Errorf("read mute: %w", err)
			}
			return p.SetMuted(ctx, !muted)
		}))
		e.Register(TypeMuteSet, handle(func(ctx context.Context, a MuteSet) error {
			return p.SetMuted(ctx, a.Muted)
		}))
		e.Register(TypeHotkey, handle(func(ctx context.Context, a Hotkey) error {
			return p.SendHotkey(ctx, a.Keys)
		}))
		e.Register(TypeLaunchApp, handle(func(ctx context.Context, a LaunchApp) error {
			return p.LaunchApp(ctx, a.App)
		}))
		e.Register(TypeOpenURL, handle(func(ctx context.Context, a OpenURL) error {
			return p.OpenURL(ctx, a.URL)
		}))
	}

	if p, np := deps.Platform, deps.NowPlaying; p != nil || np != nil {
		e.Register(TypeMediaSeek, handle(func(ctx context.Context, a MediaSeek) error {
			if np != nil && (p == nil || np.Running()) {
				return np.Seek(a.Position)
			}
			return p.Seek(ctx, a.Position)
		}))
	}

	if s := deps.Profiles; s != nil {
		e.Register(TypeSwitchProfile, handle(func(_ context.Context, a SwitchProfile) error {
			return s.SwitchProfile(a.Profile)
		}))
	}

	if d := deps.Discord; d != nil {
		e.Register(TypeDiscordToggleMute, handle(func(ctx context.Context, _ DiscordToggleMute) error {
			return d.ToggleMute(ctx)
		}))
		e.Register(TypeDiscordToggleDeafen, handle(func(ctx context.Context, _ DiscordToggleDeafen) error {
			return d.ToggleDeafen(ctx)
		}))
	}

	if sb := deps.Soundboard; sb != nil {
		e.Register(TypeSoundPlay, handle(func(ctx context.Context, a SoundPlay) error {
			_, err := sb.Play(ctx, a.Sound, a.Volume)
			return err
		}))
		e.Register(TypeSoundStop, handle(func(_ context.Context, a SoundStop) error {
			return sb.Stop(a.ID)
		}))
		e.Register(TypeSoundStopAll, handle(func(_ context.Context, _ SoundStopAll) error {
			return sb.StopAll()
		}))
		e.Register(TypeSoundVolume, handle(func(ctx context.Context, a SoundVolume) error {
			return sb.SetVolume(ctx, a.Volume)
		}))
	}

	e.Register(TypeMulti, handle(e.runMulti))
	return e
}

// Register installs or replaces the handler for t.
func (e *Engine) Register(t Type, h Handler) {
	e.handlers[t] = h
}

// Types lists the registered action types, sorted.
func (e *Engine) Types() []string {
	out := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// Execute runs spec and reports the outcome. It never panics and never
// returns without a Result.
func (e *Engine) Execute(ctx context.Context, spec Spec) (res Result) {
	res.ActionType = spec.Type
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "action", "type", spec.Type)
			res = Result{ActionType: spec.Type, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	h, ok := e.handlers[Type(spec.Type)]
	if !ok {
		res.Error = fmt.Sprintf("%s: %q", ErrUnknownType, spec.Type)
		e.logger.Warn("unknown action", "type", spec.Type)
		return res
	}

	a, err := Parse(spec.Type, spec.Params)
	if err != nil {
		res.Error = err.Error()
		e.logger.Warn("invalid action", "type", spec.Type, "error", err)
		return res
	}

	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := h(ctx, a); err != nil {
		res.Error = err.Error()
		e.logger.Warn("action failed", "type", spec.Type, "error", err, "duration", time.Since(start))
		return res
	}
	res.Success = true
	e.logger.Debug("action executed", "type", spec.Type, "duration", time.Since(start))
	return res
}

func (e *Engine) runMulti(ctx context.Context, m Multi) error {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= maxMultiDepth {
		return errors.New("multi nested too deeply")
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	for i, step := range m.Actions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Type, err)
		}
		if res := e.Execute(ctx, step); !res.Success {
			return fmt.Errorf("step %d (%s): %s", i+1, step.Type, res.Error)
		}
	}
	return nil
}
