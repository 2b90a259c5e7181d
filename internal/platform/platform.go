// Package platform wraps OS-level controls (volume, media keys, hotkeys, app
// launch) behind one interface. The backend is chosen once at startup.
package platform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/drewfead/deckhand/internal/executil"
	"github.com/drewfead/deckhand/internal/provider"
)

// ErrUnsupported is returned by operations the backend cannot perform.
var ErrUnsupported = errors.New("not supported on this platform")

// VolumeProviderName is the provider name for the system volume source.
const VolumeProviderName = "system_volume"

// Capabilities is the set of OS controls actions may invoke.
type Capabilities interface {
	Name() string

	Volume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, level int) error
	Muted(ctx context.Context) (bool, error)
	SetMuted(ctx context.Context, muted bool) error

	MediaPlayPause(ctx context.Context) error
	MediaNext(ctx context.Context) error
	MediaPrevious(ctx context.Context) error
	Seek(ctx context.Context, position float64) error

	SendHotkey(ctx context.Context, keys []string) error
	LaunchApp(ctx context.Context, app string) error
	OpenURL(ctx context.Context, rawURL string) error
}

// New returns the backend named by backend: "auto", "linux", "darwin", or
// "none". A nil runner uses the system runner.
func New(backend string, runner executil.Runner) (Capabilities, error) {
	if runner == nil {
		runner = executil.SystemRunner{}
	}
	if backend == "" || backend == "auto" {
		backend = runtime.GOOS
	}
	switch backend {
	case "linux":
		return &linux{run: runner}, nil
	case "darwin":
		return &darwin{run: runner}, nil
	case "none":
		return unsupported{}, nil
	default:
		return nil, fmt.Errorf("unknown platform backend %q", backend)
	}
}

// VolumeState is the value of the system_volume provider.
type VolumeState struct {
	Level int  `json:"level"`
	Muted bool `json:"muted"`
}

// VolumeProvider exposes the system volume as a polled source.
func VolumeProvider(c Capabilities, interval time.Duration) provider.Provider {
	return provider.Func(VolumeProviderName, interval, func(ctx context.Context) (any, error) {
		level, err := c.Volume(ctx)
		if err != nil {
			return nil, err
		}
		muted, err := c.Muted(ctx)
		if err != nil {
			return nil, err
		}
		return VolumeState{Level: level, Muted: muted}, nil
	})
}

// ClampVolume bounds level to [0,100].
func ClampVolume(level int) int {
	return min(max(level, 0), 100)
}

func checkArg(kind, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if strings.HasPrefix(v, "-") {
		return fmt.Errorf("invalid %s %q", kind, v)
	}
	return nil
}

func checkPosition(position float64) error {
	if position < 0 || math.IsNaN(position) || math.IsInf(position, 0) {
		return fmt.Errorf("seek position must be a non-negative number of seconds, got %v", position)
	}
	return nil
}

func checkURL(raw string) error {
	if err := checkArg("url", raw); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("url %q has no scheme", raw)
	}
	return nil
}

type unsupported struct{}

func (unsupported) Name() string                               { return "none" }
func (unsupported) Volume(context.Context) (int, error)        { return 0, ErrUnsupported }
func (unsupported) SetVolume(context.Context, int) error       { return ErrUnsupported }
func (unsupported) Muted(context.Context) (bool, error)        { return false, ErrUnsupported }
func (unsupported) SetMuted(context.Context, bool) error       { return ErrUnsupported }
func (unsupported) MediaPlayPause(context.Context) error       { return ErrUnsupported }
func (unsupported) MediaNext(context.Context) error            { return ErrUnsupported }
func (unsupported) MediaPrevious(context.Context) error        { return ErrUnsupported }
func (unsupported) Seek(context.Context, float64) error        { return ErrUnsupported }
func (unsupported) SendHotkey(context.Context, []string) error { return ErrUnsupported }
func (unsupported) LaunchApp(context.Context, string) error    { return ErrUnsupported }
func (unsupported) OpenURL(context.Context, string) error      { return ErrUnsupported }
