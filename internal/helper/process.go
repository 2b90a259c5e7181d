package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/drewfead/deckhand/internal/config"
	"github.com/drewfead/deckhand/internal/executil"
)

// Process is a running helper child with captured stdio.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the child exits. It must only be called after Stdout
	// and Stderr have been drained.
	Wait() (exitCode int, err error)
	Kill() error
	PID() int
}

// Launcher starts helper processes.
type Launcher interface {
	Launch(ctx context.Context, binary string, args []string) (Process, error)
}

// Builder compiles a helper binary from source.
type Builder interface {
	Build(ctx context.Context, argv []string) error
}

// ExecLauncher launches helpers as real child processes.
type ExecLauncher struct{}

// Launch starts binary with all three stdio streams piped.
func (ExecLauncher) Launch(ctx context.Context, binary string, args []string) (Process, error) {
	cmd, err := executil.CommandContext(ctx, binary, args...)
	if err != nil {
		return nil, err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", filepath.Base(binary), err)
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader      { return p.stdout }
func (p *execProcess) Stderr() io.Reader      { return p.stderr }
func (p *execProcess) PID() int               { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero exit is reported through the code.
		err = nil
	}
	return code, err
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// ExecBuilder runs the build command through a command runner.
type ExecBuilder struct {
	Runner executil.Runner
}

// Build runs argv[0] with the remaining arguments.
func (b ExecBuilder) Build(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty build command")
	}
	runner := b.Runner
	if runner == nil {
		runner = executil.SystemRunner{}
	}
	_, err := runner.Run(ctx, argv[0], argv[1:]...)
	return err
}

// expandBuild substitutes {src} and {out} in a build command template.
func expandBuild(template []string, src, out string) []string {
	r := strings.NewReplacer("{src}", src, "{out}", out)
	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = r.Replace(arg)
	}
	return argv
}

// SpecFromConfig builds a Spec from a configured helper section.
func SpecFromConfig(name string, cfg config.HelperConfig, decode Decoder) Spec {
	return Spec{
		Name:     name,
		Source:   cfg.Source,
		Binary:   cfg.Binary,
		Build:    cfg.Build,
		Args:     cfg.Args,
		Interval: cfg.Interval,
		Cooldown: cfg.Cooldown,
		Decode:   decode,
	}
}
