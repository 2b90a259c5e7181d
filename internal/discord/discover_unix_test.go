//go:build unix

package discord

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverFindsRuntimeSocket(t *testing.T) {
	// Short base dir: unix socket paths are length limited.
	dir, err := os.MkdirTemp("/tmp", "dh")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	t.Setenv("XDG_RUNTIME_DIR", dir)

	candidates := Candidates()
	require.NotEmpty(t, candidates)
	assert.Equal(t, filepath.Join(dir, "discord-ipc-0"), candidates[0])

	// A regular file in slot 0 is not a socket and is skipped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "discord-ipc-0"), nil, 0o600))

	sock := filepath.Join(dir, "discord-ipc-1")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	found := Discover()
	require.NotEmpty(t, found)
	assert.Equal(t, sock, found[0])

	conn, path, err := DialSocket(context.Background(), time.Second)
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, sock, path)
}
