// Package helper supervises long-lived helper subprocesses that stream
// newline-delimited JSON on stdout and accept JSON commands on stdin.
//
// A Supervisor is also a provider.Provider: Fetch lazily starts the helper
// and returns the most recent value it emitted. Starting never blocks the
// caller; compile and launch happen on a background goroutine.
package helper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/drewfead/deckhand/internal/logging"
	"github.com/drewfead/deckhand/internal/ndjson"
)

var (
	// ErrNotRunning is returned when a command is sent to a helper that has no live process.
	ErrNotRunning = errors.New("helper not running")
	// ErrNoSource means neither a compiled binary nor its source exists.
	ErrNoSource = errors.New("helper source not found")
)

// State is the lifecycle state of a helper.
type State int

const (
	StateNotStarted State = iota
	StateCompiling
	StateLaunching
	StateRunning
	StateCrashed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateCompiling:
		return "compiling"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateNotStarted; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown helper state %q", text)
}

// Decoder turns one stdout line into the value Fetch returns.
type Decoder func(line json.RawMessage) (any, error)

// DecodeAs returns a Decoder that unmarshals each line into a T.
func DecodeAs[T any]() Decoder {
	return func(line json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Spec describes one helper.
type Spec struct {
	Name     string
	Source   string
	Binary   string
	Build    []string
	Args     []string
	Interval time.Duration
	Cooldown time.Duration
	Decode   Decoder
	// OnLine, when set, observes every decoded value in arrival order.
	OnLine func(v any)
}

// Status is a point-in-time view of a helper for status reporting.
type Status struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	PID         int       `json:"pid,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	Restarts    int       `json:"restarts"`
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithBuilder replaces the build runner.
func WithBuilder(b Builder) Option {
	return func(s *Supervisor) { s.builder = b }
}

// WithClock replaces the time source used for cooldown accounting.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// Supervisor owns at most one running helper process.
type Supervisor struct {
	spec     Spec
	launcher Launcher
	builder  Builder
	now      func() time.Time
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	proc        Process
	lastValue   any
	lastErr     error
	lastFailure time.Time
	starts      int
	closed      bool

	// changed is closed and replaced on every state transition.
	changed chan struct{}

	// writeMu serializes stdin writes so concurrent commands never interleave.
	writeMu sync.Mutex
}

// New creates a supervisor for spec. Nothing is started until the first Fetch or Start.
func New(spec Spec, opts ...Option) *Supervisor {
	if spec.Decode == nil {
		spec.Decode = DecodeAs[map[string]any]()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		spec:     spec,
		launcher: ExecLauncher{},
		builder:  ExecBuilder{},
		now:      time.Now,
		log:      logging.Component("helper").With("helper", spec.Name),
		ctx:      ctx,
		cancel:   cancel,
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider name.
func (s *Supervisor) Name() string { return s.spec.Name }

// Interval returns the provider poll interval.
func (s *Supervisor) Interval() time.Duration { return s.spec.Interval }

// Fetch starts the helper if it is idle and out of cooldown, then returns the
// last value it emitted, or nil if it has not emitted one.
func (s *Supervisor) Fetch(context.Context) (any, error) {
	s.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastValue, nil
}

// Start requests a launch. It is a no-op while the helper is compiling,
// launching, or running, within the cooldown after a failure, after a
// permanent failure, and after Close.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	switch s.state {
	case StateCompiling, StateLaunching, StateRunning, StateFailed:
		return
	case StateCrashed:
		if s.now().Sub(s.lastFailure) < s.spec.Cooldown {
			return
		}
	}

	s.setState(StateCompiling)
	s.starts++
	s.wg.Add(1)
	go s.start()
}

// StartAndWait requests a launch and blocks until the helper is running. It
// fails fast when the helper is cooling down, has failed permanently, or
// crashes while starting, and gives up when ctx is done.
func (s *Supervisor) StartAndWait(ctx context.Context) error {
	s.Start()
	for {
		s.mu.Lock()
		state, lastErr, closed, changed := s.state, s.lastErr, s.closed, s.changed
		s.mu.Unlock()

		switch {
		case closed:
			return fmt.Errorf("%s: %w", s.spec.Name, ErrNotRunning)
		case state == StateRunning:
			return nil
		case state == StateCrashed, state == StateFailed:
			if lastErr != nil {
				return fmt.Errorf("%s: %w: %s: %v", s.spec.Name, ErrNotRunning, state, lastErr)
			}
			return fmt.Errorf("%s: %w: %s", s.spec.Name, ErrNotRunning, state)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%s: waiting for start: %w", s.spec.Name, ctx.Err())
		}
	}
}

// setState records a transition and wakes StartAndWait callers. s.mu must be held.
func (s *Supervisor) setState(st State) {
	s.state = st
	s.broadcast()
}

func (s *Supervisor) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Supervisor) start() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "helper", s.spec.Name)
			s.fail(fmt.Errorf("panic during start: %v", r))
		}
	}()

	binary, err := s.resolveBinary()
	if errors.Is(err, ErrNoSource) {
		s.mu.Lock()
		s.setState(StateFailed)
		s.lastErr = err
		s.mu.Unlock()
		s.log.Error("helper unavailable", "source", s.spec.Source, "binary", s.spec.Binary, "error", err)
		return
	}
	if err != nil {
		s.log.Warn("helper build failed", "error", err)
		s.fail(err)
		return
	}

	s.mu.Lock()
	s.setState(StateLaunching)
	s.mu.Unlock()

	proc, err := s.launcher.Launch(s.ctx, binary, s.spec.Args)
	if err != nil {
		s.log.Warn("helper launch failed", "binary", binary, "error", err)
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = proc.Kill()
		return
	}
	s.proc = proc
	s.setState(StateRunning)
	s.lastErr = nil
	s.mu.Unlock()

	s.log.Info("helper started", "pid", proc.PID())
	s.run(proc)
}

// resolveBinary returns a runnable binary, compiling it from source when the
// binary is missing or older than the source.
func (s *Supervisor) resolveBinary() (string, error) {
	binInfo, binErr := os.Stat(s.spec.Binary)
	var srcInfo os.FileInfo
	srcErr := os.ErrNotExist
	if s.spec.Source != "" {
		srcInfo, srcErr = os.Stat(s.spec.Source)
	}

	switch {
	case binErr == nil && srcErr != nil:
		return s.spec.Binary, nil
	case binErr == nil && !binInfo.ModTime().Before(srcInfo.ModTime()):
		return s.spec.Binary, nil
	case srcErr != nil:
		return "", ErrNoSource
	}

	if len(s.spec.Build) == 0 {
		if binErr == nil {
			s.log.Warn("helper binary older than source and no build command configured")
			return s.spec.Binary, nil
		}
		return "", fmt.Errorf("%s: no build command configured", s.spec.Name)
	}

	if err := os.MkdirAll(filepath.Dir(s.spec.Binary), 0755); err != nil {
		return "", fmt.Errorf("failed to create binary dir: %w", err)
	}

	argv := expandBuild(s.spec.Build, s.spec.Source, s.spec.Binary)
	s.log.Info("compiling helper", "source", s.spec.Source, "command", argv[0])
	if err := s.builder.Build(s.ctx, argv); err != nil {
		return "", fmt.Errorf("compile %s: %w", s.spec.Name, err)
	}
	if _, err := os.Stat(s.spec.Binary); err != nil {
		return "", fmt.Errorf("compile %s: binary not produced: %w", s.spec.Name, err)
	}
	return s.spec.Binary, nil
}

// run drains the child's output and records its exit.
func (s *Supervisor) run(proc Process) {
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.readLoop(proc.Stdout())
	}()
	go func() {
		defer readers.Done()
		s.stderrLoop(proc.Stderr())
	}()
	readers.Wait()

	code, err := proc.Wait()

	s.mu.Lock()
	if s.proc == proc {
		s.proc = nil
	}
	closed := s.closed
	if err == nil {
		err = fmt.Errorf("exited with code %d", code)
	}
	s.setState(StateCrashed)
	s.lastErr = err
	s.lastFailure = s.now()
	s.mu.Unlock()

	if closed {
		s.log.Debug("helper stopped", "exit_code", code)
		return
	}
	s.log.Warn("helper exited", "exit_code", code, "cooldown", s.spec.Cooldown)
}

func (s *Supervisor) readLoop(r io.Reader) {
	err := ndjson.ReadObjects(r, 0, func(line json.RawMessage) {
		v, err := s.spec.Decode(line)
		if err != nil {
			s.log.Debug("discarding helper line", "error", err)
			return
		}
		s.mu.Lock()
		s.lastValue = v
		s.mu.Unlock()
		if s.spec.OnLine != nil {
			s.spec.OnLine(v)
		}
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		s.log.Debug("helper stdout closed", "error", err)
	}
}

func (s *Supervisor) stderrLoop(r io.Reader) {
	splitter := ndjson.NewSplitter(64 * 1024)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		for _, line := range splitter.Feed(buf[:n]) {
			s.log.Debug("helper stderr", "line", string(line))
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	s.setState(StateCrashed)
	s.lastErr = err
	s.lastFailure = s.now()
	s.mu.Unlock()
}

// Send writes cmd to the helper's stdin as one JSON line. No reply is awaited.
func (s *Supervisor) Send(cmd any) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	s.mu.Lock()
	proc := s.proc
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running || proc == nil {
		return fmt.Errorf("%s: %w", s.spec.Name, ErrNotRunning)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := proc.Stdin().Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%s: write command: %w", s.spec.Name, err)
	}
	return nil
}

// Status reports the helper's current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:        s.spec.Name,
		State:       s.state,
		LastFailure: s.lastFailure,
	}
	if s.starts > 0 {
		st.Restarts = s.starts - 1
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Running reports whether a helper process is live and accepting commands.
func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close kills the helper process, if any, and waits for its goroutines.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.broadcast()
	proc := s.proc
	s.mu.Unlock()

	s.cancel()
	var err error
	if proc != nil {
		_ = proc.Stdin().Close()
		err = proc.Kill()
	}
	s.wg.Wait()
	return err
}
