package helper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Close() error { return nil }

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeProcess struct {
	stdin  *lockedBuffer
	stdout io.Reader
	stderr io.Reader
	code   int
	killed chan struct{}
	once   sync.Once
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *fakeProcess) Stdout() io.Reader      { return p.stdout }
func (p *fakeProcess) Stderr() io.Reader      { return p.stderr }
func (p *fakeProcess) PID() int               { return 4242 }
func (p *fakeProcess) Wait() (int, error)     { return p.code, nil }

func (p *fakeProcess) Kill() error {
	p.once.Do(func() {
		close(p.killed)
		if c, ok := p.stdout.(io.Closer); ok {
			c.Close()
		}
	})
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	binaries []string
	make     func() *fakeProcess
	err      error
}

func (l *fakeLauncher) Launch(_ context.Context, binary string, _ []string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	l.binaries = append(l.binaries, binary)
	if l.err != nil {
		return nil, l.err
	}
	return l.make(), nil
}

func (l *fakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

type fakeBuilder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (b *fakeBuilder) Build(_ context.Context, argv []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, argv)
	if b.err != nil {
		return b.err
	}
	// The last argument of the test build command is the output path.
	return os.WriteFile(argv[len(argv)-1], []byte("bin"), 0755)
}

func (b *fakeBuilder) Calls() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func exitingProcess(stdout string) func() *fakeProcess {
	return func() *fakeProcess {
		return &fakeProcess{
			stdin:  &lockedBuffer{},
			stdout: strings.NewReader(stdout),
			stderr: strings.NewReader("permission denied\n"),
			code:   1,
			killed: make(chan struct{}),
		}
	}
}

func writeFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0755))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSupervisorParsesChunkedOutput(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "now-playing")
	writeFile(t, binary, time.Now())

	stdoutR, stdoutW := io.Pipe()
	proc := &fakeProcess{
		stdin:  &lockedBuffer{},
		stdout: stdoutR,
		stderr: strings.NewReader(""),
		killed: make(chan struct{}),
	}
	launcher := &fakeLauncher{make: func() *fakeProcess { return proc }}

	var mu sync.Mutex
	var lines []any
	s := New(Spec{
		Name:     "now_playing",
		Binary:   binary,
		Interval: time.Second,
		Cooldown: 30 * time.Second,
		OnLine: func(v any) {
			mu.Lock()
			lines = append(lines, v)
			mu.Unlock()
		},
	}, WithLauncher(launcher))
	t.Cleanup(func() { s.Close() })

	v, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v, "no value before the helper emits anything")

	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, 5*time.Millisecond)

	_, err = stdoutW.Write([]byte(`{"a":1}` + "\n" + `{"b"`))
	require.NoError(t, err)
	_, err = stdoutW.Write([]byte(`:2}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, map[string]any{"a": float64(1)}, lines[0])
	assert.Equal(t, map[string]any{"b": float64(2)}, lines[1])
	mu.Unlock()

	v, err = s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": float64(2)}, v)
	assert.Equal(t, 1, launcher.Launches(), "fetch while running does not relaunch")
}

func TestSupervisorCooldownAfterCrash(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "spectrum")
	writeFile(t, binary, time.Now())

	clock := newFakeClock()
	launcher := &fakeLauncher{make: exitingProcess(`{"bands":[1,2]}` + "\n")}
	s := New(Spec{
		Name:     "audio_spectrum",
		Binary:   binary,
		Interval: 50 * time.Millisecond,
		Cooldown: 30 * time.Second,
	}, WithLauncher(launcher), WithClock(clock.Now))
	t.Cleanup(func() { s.Close() })

	_, _ = s.Fetch(context.Background())
	require.Eventually(t, func() bool { return s.State() == StateCrashed }, time.Second, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		v, err := s.Fetch(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, v, "last value survives the crash")
		clock.Advance(time.Second)
	}
	assert.Equal(t, 1, launcher.Launches(), "no restart inside the cooldown window")

	clock.Advance(10 * time.Second)
	_, _ = s.Fetch(context.Background())
	require.Eventually(t, func() bool { return launcher.Launches() == 2 }, time.Second, 5*time.Millisecond)

	st := s.Status()
	assert.Equal(t, "audio_spectrum", st.Name)
	assert.Equal(t, 1, st.Restarts)
}

func TestSupervisorNoSourceFailsPermanently(t *testing.T) {
	dir := t.TempDir()
	launcher := &fakeLauncher{make: exitingProcess("")}
	clock := newFakeClock()
	s := New(Spec{
		Name:     "soundboard",
		Source:   filepath.Join(dir, "missing.swift"),
		Binary:   filepath.Join(dir, "missing"),
		Build:    []string{"swiftc", "{src}", "-o", "{out}"},
		Interval: time.Second,
		Cooldown: time.Second,
	}, WithLauncher(launcher), WithClock(clock.Now))
	t.Cleanup(func() { s.Close() })

	_, _ = s.Fetch(context.Background())
	require.Eventually(t, func() bool { return s.State() == StateFailed }, time.Second, 5*time.Millisecond)

	clock.Advance(time.Hour)
	v, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, StateFailed, s.State())
	assert.Zero(t, launcher.Launches())
	assert.Contains(t, s.Status().LastError, ErrNoSource.Error())
}

func TestSupervisorCompilesStaleBinary(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "now-playing.swift")
	binary := filepath.Join(dir, "bin", "now-playing")
	writeFile(t, source, time.Now())

	builder := &fakeBuilder{}
	launcher := &fakeLauncher{make: exitingProcess("")}
	s := New(Spec{
		Name:     "now_playing",
		Source:   source,
		Binary:   binary,
		Build:    []string{"swiftc", "-O", "{src}", "-o", "{out}"},
		Interval: time.Second,
		Cooldown: time.Minute,
	}, WithLauncher(launcher), WithBuilder(builder))
	t.Cleanup(func() { s.Close() })

	s.Start()
	require.Eventually(t, func() bool { return launcher.Launches() == 1 }, time.Second, 5*time.Millisecond)

	calls := builder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"swiftc", "-O", source, "-o", binary}, calls[0])
	assert.Equal(t, []string{binary}, launcher.binaries)
}

func TestSupervisorSkipsBuildWhenBinaryIsFresh(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "helper.swift")
	binary := filepath.Join(dir, "helper")
	writeFile(t, source, time.Now().Add(-time.Hour))
	writeFile(t, binary, time.Now())

	builder := &fakeBuilder{}
	launcher := &fakeLauncher{make: exitingProcess("")}
	s := New(Spec{
		Name: "helper", Source: source, Binary: binary,
		Build:    []string{"swiftc", "{src}", "-o", "{out}"},
		Interval: time.Second, Cooldown: time.Minute,
	}, WithLauncher(launcher), WithBuilder(builder))
	t.Cleanup(func() { s.Close() })

	s.Start()
	require.Eventually(t, func() bool { return launcher.Launches() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, builder.Calls())
}

func TestSupervisorBuildFailureEntersCooldown(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "helper.swift")
	writeFile(t, source, time.Now())

	clock := newFakeClock()
	builder := &fakeBuilder{err: errors.New("swiftc: error: no such module")}
	launcher := &fakeLauncher{make: exitingProcess("")}
	s := New(Spec{
		Name: "helper", Source: source, Binary: filepath.Join(dir, "helper"),
		Build:    []string{"swiftc", "{src}", "-o", "{out}"},
		Interval: time.Second, Cooldown: 30 * time.Second,
	}, WithLauncher(launcher), WithBuilder(builder), WithClock(clock.Now))
	t.Cleanup(func() { s.Close() })

	s.Start()
	require.Eventually(t, func() bool { return s.State() == StateCrashed }, time.Second, 5*time.Millisecond)
	assert.Contains(t, s.Status().LastError, "no such module")

	s.Start()
	assert.Len(t, builder.Calls(), 1)

	clock.Advance(31 * time.Second)
	s.Start()
	require.Eventually(t, func() bool { return len(builder.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, launcher.Launches())
}

func TestSupervisorSend(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "soundboard")
	writeFile(t, binary, time.Now())

	stdoutR, _ := io.Pipe()
	proc := &fakeProcess{
		stdin:  &lockedBuffer{},
		stdout: stdoutR,
		stderr: strings.NewReader(""),
		killed: make(chan struct{}),
	}
	s := New(Spec{Name: "soundboard", Binary: binary, Interval: time.Second, Cooldown: time.Second},
		WithLauncher(&fakeLauncher{make: func() *fakeProcess { return proc }}))

	err := s.Send(map[string]any{"cmd": "stop_all"})
	require.ErrorIs(t, err, ErrNotRunning)

	s.Start()
	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Send(map[string]any{"cmd": "seek", "position": 12.5}))
	assert.JSONEq(t, `{"cmd":"seek","position":12.5}`, strings.TrimSuffix(proc.stdin.String(), "\n"))
	assert.True(t, strings.HasSuffix(proc.stdin.String(), "\n"))
	assert.Equal(t, 4242, s.Status().PID)

	require.NoError(t, s.Close())
	select {
	case <-proc.killed:
	default:
		t.Fatal("close did not kill the helper")
	}
	assert.Equal(t, StateCrashed, s.State())

	s.Start()
	assert.Equal(t, StateCrashed, s.State(), "start after close is a no-op")
}

func TestDecodeAs(t *testing.T) {
	type status struct {
		Title string `json:"title"`
	}
	v, err := DecodeAs[status]()([]byte(`{"title":"Song"}`))
	require.NoError(t, err)
	assert.Equal(t, status{Title: "Song"}, v)

	_, err = DecodeAs[status]()([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestStateText(t *testing.T) {
	var st State
	require.NoError(t, st.UnmarshalText([]byte("crashed")))
	assert.Equal(t, StateCrashed, st)
	assert.Error(t, st.UnmarshalText([]byte("exploded")))
}

type gatedLauncher struct {
	release chan struct{}
	proc    *fakeProcess
}

func (l *gatedLauncher) Launch(ctx context.Context, _ string, _ []string) (Process, error) {
	select {
	case <-l.release:
		return l.proc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSupervisorStartAndWait(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "soundboard")
	writeFile(t, binary, time.Now())

	stdoutR, _ := io.Pipe()
	proc := &fakeProcess{
		stdin:  &lockedBuffer{},
		stdout: stdoutR,
		stderr: strings.NewReader(""),
		killed: make(chan struct{}),
	}
	launcher := &gatedLauncher{release: make(chan struct{}), proc: proc}
	s := New(Spec{Name: "soundboard", Binary: binary, Interval: time.Second, Cooldown: time.Second},
		WithLauncher(launcher))
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.StartAndWait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.Running())

	done := make(chan error, 1)
	go func() { done <- s.StartAndWait(context.Background()) }()
	close(launcher.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartAndWait did not return once the helper was running")
	}
	assert.True(t, s.Running())
	require.NoError(t, s.Send(map[string]any{"cmd": "stop_all"}))
}

func TestSupervisorStartAndWaitReportsFailure(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "helper.swift")
	writeFile(t, source, time.Now())

	builder := &fakeBuilder{err: errors.New("swiftc: error: no such module")}
	s := New(Spec{
		Name: "helper", Source: source, Binary: filepath.Join(dir, "helper"),
		Build:    []string{"swiftc", "{src}", "-o", "{out}"},
		Interval: time.Second, Cooldown: 30 * time.Second,
	}, WithLauncher(&fakeLauncher{make: exitingProcess("")}), WithBuilder(builder))
	t.Cleanup(func() { s.Close() })

	err := s.StartAndWait(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Contains(t, err.Error(), "no such module")

	missing := New(Spec{
		Name:     "soundboard",
		Source:   filepath.Join(dir, "missing.swift"),
		Binary:   filepath.Join(dir, "missing"),
		Build:    []string{"swiftc", "{src}", "-o", "{out}"},
		Interval: time.Second,
		Cooldown: time.Second,
	})
	t.Cleanup(func() { missing.Close() })
	err = missing.StartAndWait(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Contains(t, err.Error(), ErrNoSource.Error())

	require.NoError(t, missing.Close())
	assert.ErrorIs(t, missing.StartAndWait(context.Background()), ErrNotRunning)
}
