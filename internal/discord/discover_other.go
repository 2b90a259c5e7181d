//go:build !unix

package discord

// Named-pipe transport is not implemented; discovery finds nothing.
func socketDirs() []string {
	return nil
}
