package platform

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/drewfead/deckhand/internal/executil"
)

const defaultSink = "@DEFAULT_SINK@"

var percentRe = regexp.MustCompile(`(\d+)%`)

// linux drives PulseAudio/PipeWire via pactl, MPRIS via playerctl, and X11 via xdotool.
type linux struct {
	run executil.Runner
}

func (l *linux) Name() string { return "linux" }

func (l *linux) Volume(ctx context.Context) (int, error) {
	out, err := l.run.Run(ctx, "pactl", "get-sink-volume", defaultSink)
	if err != nil {
		return 0, err
	}
	m := percentRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("unexpected pactl output: %q", out)
	}
	return strconv.Atoi(string(m[1]))
}

func (l *linux) SetVolume(ctx context.Context, level int) error {
	_, err := l.run.Run(ctx, "pactl", "set-sink-volume", defaultSink, fmt.Sprintf("%d%%", ClampVolume(level)))
	return err
}

func (l *linux) Muted(ctx context.Context) (bool, error) {
	out, err := l.run.Run(ctx, "pactl", "get-sink-mute", defaultSink)
	if err != nil {
		return false, err
	}
	s := strings.ToLower(string(out))
	switch {
	case strings.Contains(s, "yes"):
		return true, nil
	case strings.Contains(s, "no"):
		return false, nil
	}
	return false, fmt.Errorf("unexpected pactl output: %q", out)
}

func (l *linux) SetMuted(ctx context.Context, muted bool) error {
	v := "0"
	if muted {
		v = "1"
	}
	_, err := l.run.Run(ctx, "pactl", "set-sink-mute", defaultSink, v)
	return err
}

func (l *linux) MediaPlayPause(ctx context.Context) error { return l.playerctl(ctx, "play-pause") }
func (l *linux) MediaNext(ctx context.Context) error      { return l.playerctl(ctx, "next") }
func (l *linux) MediaPrevious(ctx context.Context) error  { return l.playerctl(ctx, "previous") }

func (l *linux) Seek(ctx context.Context, position float64) error {
	if err := checkPosition(position); err != nil {
		return err
	}
	_, err := l.run.Run(ctx, "playerctl", "position", strconv.FormatFloat(position, 'f', -1, 64))
	return err
}

func (l *linux) playerctl(ctx context.Context, verb string) error {
	_, err := l.run.Run(ctx, "playerctl", verb)
	return err
}

func (l *linux) SendHotkey(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("hotkey needs at least one key")
	}
	for _, k := range keys {
		if err := checkArg("key", k); err != nil {
			return err
		}
	}
	_, err := l.run.Run(ctx, "xdotool", "key", "--clearmodifiers", strings.Join(keys, "+"))
	return err
}

func (l *linux) LaunchApp(ctx context.Context, app string) error {
	if err := checkArg("app", app); err != nil {
		return err
	}
	_, err := l.run.Run(ctx, "gtk-launch", app)
	return err
}

func (l *linux) OpenURL(ctx context.Context, rawURL string) error {
	if err := checkURL(rawURL); err != nil {
		return err
	}
	_, err := l.run.Run(ctx, "xdg-open", rawURL)
	return err
}
