package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/drewfead/deckhand/internal/executil"
)

// darwin drives macOS through osascript and open.
type darwin struct {
	run executil.Runner
}

func (d *darwin) Name() string { return "darwin" }

func (d *darwin) osascript(ctx context.Context, script string) (string, error) {
	out, err := d.run.Run(ctx, "osascript", "-e", script)
	return strings.TrimSpace(string(out)), err
}

func (d *darwin) Volume(ctx context.Context) (int, error) {
	out, err := d.osascript(ctx, "output volume of (get volume settings)")
	if err != nil {
		return 0, err
	}
	level, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("unexpected osascript output: %q", out)
	}
	return level, nil
}

func (d *darwin) SetVolume(ctx context.Context, level int) error {
	_, err := d.osascript(ctx, fmt.Sprintf("set volume output volume %d", ClampVolume(level)))
	return err
}

func (d *darwin) Muted(ctx context.Context) (bool, error) {
	out, err := d.osascript(ctx, "output muted of (get volume settings)")
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(out)
}

func (d *darwin) SetMuted(ctx context.Context, muted bool) error {
	_, err := d.osascript(ctx, fmt.Sprintf("set volume output muted %t", muted))
	return err
}

func (d *darwin) MediaPlayPause(ctx context.Context) error {
	_, err := d.osascript(ctx, `tell application "Music" to playpause`)
	return err
}

func (d *darwin) MediaNext(ctx context.Context) error {
	_, err := d.osascript(ctx, `tell application "Music" to next track`)
	return err
}

func (d *darwin) MediaPrevious(ctx context.Context) error {
	_, err := d.osascript(ctx, `tell application "Music" to previous track`)
	return err
}

func (d *darwin) Seek(ctx context.Context, position float64) error {
	if err := checkPosition(position); err != nil {
		return err
	}
	_, err := d.osascript(ctx, fmt.Sprintf(`tell application "Music" to set player position to %s`, strconv.FormatFloat(position, 'f', -1, 64)))
	return err
}

var darwinModifiers = map[string]string{
	"cmd":     "command down",
	"command": "command down",
	"shift":   "shift down",
	"ctrl":    "control down",
	"control": "control down",
	"alt":     "option down",
	"option":  "option down",
}

func (d *darwin) SendHotkey(ctx context.Context, keys []string) error {
	script, err := hotkeyScript(keys)
	if err != nil {
		return err
	}
	_, err = d.osascript(ctx, script)
	return err
}

// hotkeyScript renders keys (modifiers first, then one key) as a System Events keystroke.
func hotkeyScript(keys []string) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("hotkey needs at least one key")
	}
	key := keys[len(keys)-1]
	if key == "" || strings.ContainsAny(key, `"\`) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	var mods []string
	for _, k := range keys[:len(keys)-1] {
		m, ok := darwinModifiers[strings.ToLower(k)]
		if !ok {
			return "", fmt.Errorf("unknown modifier %q", k)
		}
		mods = append(mods, m)
	}
	script := fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, key)
	if len(mods) > 0 {
		script += " using {" + strings.Join(mods, ", ") + "}"
	}
	return script, nil
}

func (d *darwin) LaunchApp(ctx context.Context, app string) error {
	if err := checkArg("app", app); err != nil {
		return err
	}
	_, err := d.run.Run(ctx, "open", "-a", app)
	return err
}

func (d *darwin) OpenURL(ctx context.Context, rawURL string) error {
	if err := checkURL(rawURL); err != nil {
		return err
	}
	_, err := d.run.Run(ctx, "open", rawURL)
	return err
}
