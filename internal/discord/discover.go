package discord

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// ErrNoSocket means no IPC socket was found; the desktop app is not running.
var ErrNoSocket = errors.New("discord ipc socket not found")

// socketSlots is how many numbered sockets the desktop app may create.
const socketSlots = 10

// socketSubdirs are sandbox locations inside a runtime dir.
var socketSubdirs = []string{
	"",
	"app/com.discordapp.Discord",
	"app/com.discordapp.DiscordCanary",
	"snap.discord",
	"snap.discord-canary",
}

// Candidates lists every socket path to try, in priority order.
func Candidates() []string {
	var out []string
	seen := make(map[string]bool)
	for _, dir := range socketDirs() {
		for _, sub := range socketSubdirs {
			base := filepath.Join(dir, sub)
			for i := 0; i < socketSlots; i++ {
				p := filepath.Join(base, fmt.Sprintf("discord-ipc-%d", i))
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// Discover returns the existing socket paths, in priority order.
func Discover() []string {
	var found []string
	for _, p := range Candidates() {
		if info, err := os.Stat(p); err == nil && info.Mode()&os.ModeSocket != 0 {
			found = append(found, p)
		}
	}
	return found
}

// DialSocket connects to the first discovered socket that accepts within
// timeout. Stale socket files that refuse connections are skipped.
func DialSocket(ctx context.Context, timeout time.Duration) (net.Conn, string, error) {
	paths := Discover()
	if len(paths) == 0 {
		return nil, "", ErrNoSocket
	}

	var lastErr error
	for _, p := range paths {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "unix", p)
		cancel()
		if err == nil {
			return conn, p, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", fmt.Errorf("%w: %v", ErrNoSocket, lastErr)
}
