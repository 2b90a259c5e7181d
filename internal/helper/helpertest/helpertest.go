// Package helpertest provides in-memory helper processes for tests.
package helpertest

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drewfead/deckhand/internal/config"
	"github.com/drewfead/deckhand/internal/helper"
)

// Process is a helper child whose stdout is fed by the test.
type Process struct {
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	mu    sync.Mutex
	stdin bytes.Buffer
}

// NewProcess returns a running fake process.
func NewProcess() *Process {
	r, w := io.Pipe()
	return &Process{stdoutR: r, stdoutW: w}
}

func (p *Process) Stdin() io.WriteCloser { return (*stdinWriter)(p) }
func (p *Process) Stdout() io.Reader      { return p.stdoutR }
func (p *Process) Stderr() io.Reader      { return strings.NewReader("") }
func (p *Process) PID() int               { return 1001 }
func (p *Process) Wait() (int, error)     { return 0, nil }

// Kill ends the process by closing its stdout.
func (p *Process) Kill() error {
	p.stdoutR.Close()
	return nil
}

// Emit writes one stdout line.
func (p *Process) Emit(line string) error {
	_, err := p.stdoutW.Write([]byte(line + "\n"))
	return err
}

// Commands returns the stdin lines written so far.
func (p *Process) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Split(strings.TrimRight(p.stdin.String(), "\n"), "\n")
}

type stdinWriter Process

func (w *stdinWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stdin.Write(b)
}

func (w *stdinWriter) Close() error { return nil }

// Launcher always hands out the same Process.
type Launcher struct {
	Proc *Process
}

// Launch returns l.Proc.
func (l Launcher) Launch(context.Context, string, []string) (helper.Process, error) {
	return l.Proc, nil
}

// Config returns a helper config whose binary already exists, so no build runs.
func Config(t *testing.T) config.HelperConfig {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "helper")
	if err := os.WriteFile(bin, []byte("bin"), 0755); err != nil {
		t.Fatal(err)
	}
	return config.HelperConfig{
		Enabled:  true,
		Binary:   bin,
		Interval: time.Second,
		Cooldown: time.Minute,
	}
}

// WaitRunning blocks until s reports running or the test times out.
func WaitRunning(t *testing.T, s *helper.Supervisor) {
	t.Helper()
	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != helper.StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("helper %s did not reach running, state %s", s.Name(), s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
