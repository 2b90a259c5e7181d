//go:build unix

package discord

import (
	"fmt"
	"os"
)

func socketDirs() []string {
	var dirs []string
	for _, env := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if v := os.Getenv(env); v != "" {
			dirs = append(dirs, v)
		}
	}
	dirs = append(dirs, "/tmp", fmt.Sprintf("/run/user/%d", os.Getuid()))
	return dirs
}
