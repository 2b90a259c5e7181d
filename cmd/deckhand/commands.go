package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hpcloud/tail"

	"github.com/drewfead/deckhand/internal/action"
	"github.com/drewfead/deckhand/internal/cli"
	"github.com/drewfead/deckhand/internal/logging"
	"github.com/drewfead/deckhand/internal/session"
	"github.com/drewfead/deckhand/internal/store"
	"github.com/drewfead/deckhand/internal/tui/watch"
)

const (
	defaultActionTimeout = 5 * time.Second
	dialTimeout          = 3 * time.Second
)

func disableColors() {
	cli.ForceColors(false)
}

// dialAddr turns a listen address into one a client can connect to.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func dial(ctx context.Context) (*session.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	c, err := session.Dial(ctx, daemonAddr)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s (is deckhandd running?): %w", daemonAddr, err)
	}
	return c, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// STATUS
// ═══════════════════════════════════════════════════════════════════════════

func runStatus(asJSON bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	report, err := session.FetchStatus(ctx, daemonAddr)
	if err != nil {
		fmt.Printf("%s deckhandd not reachable at %s\n", cli.Bad(cli.CrossMark), daemonAddr)
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Print(formatStatus(report, time.Now()))
	return nil
}

func formatStatus(r *session.StatusReport, now time.Time) string {
	var b strings.Builder

	version := r.Version
	if version == "" {
		version = "unknown"
	}
	fmt.Fprintf(&b, "%s deckhandd %s  %s  platform %s  profile %s\n",
		cli.OK(cli.CheckMark),
		cli.Bold(version),
		cli.Dim("up "+formatDuration(now.Sub(r.StartedAt))),
		r.Platform,
		cli.Info(r.Profile))

	sources := "none"
	if len(r.Sources) > 0 {
		sources = strings.Join(r.Sources, ", ")
	}
	fmt.Fprintf(&b, "  sources: %s\n", sources)

	fmt.Fprintf(&b, "\n%s (%d)\n", cli.Heading("Sessions"), r.Subscribers)
	if len(r.Sessions) > 0 {
		rows := make([][]string, 0, len(r.Sessions))
		for _, s := range r.Sessions {
			dropped := fmt.Sprintf("%d", s.Dropped)
			if s.Dropped > 0 {
				dropped = cli.Warn(dropped)
			}
			rows = append(rows, []string{shortID(s.ID), s.Remote, formatDuration(now.Sub(s.ConnectedAt)), dropped})
		}
		b.WriteString(cli.Table([]string{"ID", "REMOTE", "CONNECTED", "DROPPED"}, rows))
	}

	fmt.Fprintf(&b, "\n%s\n", cli.Heading("Pollers"))
	if len(r.Pollers) == 0 {
		b.WriteString(cli.Dim("  idle") + "\n")
	} else {
		rows := make([][]string, 0, len(r.Pollers))
		for _, p := range r.Pollers {
			errs := fmt.Sprintf("%d", p.Errors)
			if p.Errors > 0 {
				errs = cli.Warn(errs)
			}
			rows = append(rows, []string{p.Source, p.Interval.String(), fmt.Sprintf("%d", p.Ticks), errs, cli.Truncate(p.LastError, 48)})
		}
		b.WriteString(cli.Table([]string{"SOURCE", "INTERVAL", "TICKS", "ERRORS", "LAST ERROR"}, rows))
	}

	if len(r.Helpers) > 0 {
		fmt.Fprintf(&b, "\n%s\n", cli.Heading("Helpers"))
		rows := make([][]string, 0, len(r.Helpers))
		for _, h := range r.Helpers {
			pid := "-"
			if h.PID > 0 {
				pid = fmt.Sprintf("%d", h.PID)
			}
			rows = append(rows, []string{h.Name, cli.StateText(h.State.String()), pid, fmt.Sprintf("%d", h.Restarts), cli.Truncate(h.LastError, 48)})
		}
		b.WriteString(cli.Table([]string{"NAME", "STATE", "PID", "RESTARTS", "LAST ERROR"}, rows))
	}

	if d := r.Discord; d != nil {
		fmt.Fprintf(&b, "\n%s\n", cli.Heading("Discord"))
		state := "disconnected"
		switch {
		case d.Authenticated:
			state = "authenticated"
		case d.Ready:
			state = "ready"
		case d.Connected:
			state = "connected"
		}
		fmt.Fprintf(&b, "  %s %s", cli.Indicator(d.Authenticated), cli.StateText(state))
		if d.VoiceChannel != "" {
			fmt.Fprintf(&b, "  voice %s", d.VoiceChannel)
		}
		if d.LastError != "" {
			fmt.Fprintf(&b, "  %s", cli.Dim(cli.Truncate(d.LastError, 60)))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%s %s\n", cli.Heading("Actions"), cli.Dim(strings.Join(r.Actions, " ")))
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ACTIONS
// ═══════════════════════════════════════════════════════════════════════════

func runAction(typ, rawParams string, pairs []string, timeout time.Duration) error {
	params, err := buildParams(rawParams, pairs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout+dialTimeout)
	defer cancel()

	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Run(ctx, action.Spec{Type: typ, Params: params})
	if err != nil {
		return fmt.Errorf("run %s: %w", typ, err)
	}
	if !res.Success {
		fmt.Printf("%s %s: %s\n", cli.Bad(cli.CrossMark), typ, res.Error)
		return errors.New("action failed")
	}
	fmt.Printf("%s %s\n", cli.OK(cli.CheckMark), typ)
	return nil
}

// buildParams merges a JSON object with key=value pairs. Pair values that
// are valid JSON keep their type.
func buildParams(raw string, pairs []string) (json.RawMessage, error) {
	params := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, fmt.Errorf("--params must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		params[key] = v
	}
	if len(params) == 0 {
		return nil, nil
	}
	return json.Marshal(params)
}

func runActions() error {
	types := action.KnownTypes()
	rows := make([][]string, 0, len(types))
	for _, t := range types {
		rows = append(rows, []string{t})
	}
	fmt.Print(cli.Table([]string{"TYPE"}, rows))
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// PROFILES
// ═══════════════════════════════════════════════════════════════════════════

func runProfiles() error {
	names := make([]string, 0, len(cfg.Layout.Profiles))
	for name := range cfg.Layout.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		view := *cfg
		if err := view.SetActiveProfile(name); err != nil {
			return err
		}
		marker := cli.Dim(cli.Circle)
		if name == cfg.Layout.ActiveProfile {
			marker = cli.OK(cli.Bullet)
		}
		sources := strings.Join(view.ReferencedSources(), ", ")
		rows = append(rows, []string{marker, name, fmt.Sprintf("%d", len(cfg.Layout.Profiles[name].Pages)), sources})
	}
	fmt.Print(cli.Table([]string{"", "PROFILE", "PAGES", "SOURCES"}, rows))
	fmt.Println(cli.Dim("configured active profile; the daemon may have switched since start"))
	return nil
}

func runSources() error {
	sources := cfg.ReferencedSources()
	fmt.Printf("%s %s\n", cli.Heading("profile"), cfg.Layout.ActiveProfile)
	if len(sources) == 0 {
		fmt.Println(cli.Dim("  no widget references a source"))
		return nil
	}
	for _, s := range sources {
		fmt.Printf("  %s %s\n", cli.Dim(cli.Bullet), s)
	}
	return nil
}

func runProfileSwitch(name string) error {
	params, err := json.Marshal(map[string]string{"profile": name})
	if err != nil {
		return err
	}
	return runAction(string(action.TypeSwitchProfile), string(params), nil, defaultActionTimeout)
}

// ═══════════════════════════════════════════════════════════════════════════
// WATCH
// ═══════════════════════════════════════════════════════════════════════════

func runWatch() error {
	c, err := dial(context.Background())
	if err != nil {
		return err
	}
	defer c.Close()

	p := tea.NewProgram(watch.New(c, daemonAddr), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// ═══════════════════════════════════════════════════════════════════════════
// LOGS
// ═══════════════════════════════════════════════════════════════════════════

func runLogs(follow bool, lines int, level string) error {
	path := cfg.Daemon.LogFile
	if path == "" {
		return errors.New("daemon logs to stderr; set daemon.log_file to read logs here")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}

	t, err := tail.TailFile(path, tail.Config{
		Location:  &tail.SeekInfo{Offset: tailOffset(data, lines), Whence: io.SeekStart},
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("tail log: %w", err)
	}
	defer t.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	minLevel := slog.LevelDebug
	if level != "" {
		minLevel = logging.ParseLevel(level)
	}

	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			if lvl, ok := lineLevel(line.Text); ok && lvl < minLevel {
				continue
			}
			fmt.Println(colorizeLine(line.Text))
		}
	}
}

// tailOffset returns the byte offset where the last n lines of data begin.
func tailOffset(data []byte, n int) int64 {
	if n <= 0 {
		return 0
	}
	end := len(data)
	if end > 0 && data[end-1] == '\n' {
		end--
	}
	for i := 0; i < n; i++ {
		idx := bytes.LastIndexByte(data[:end], '\n')
		if idx < 0 {
			return 0
		}
		end = idx
	}
	return int64(end + 1)
}

var levelNames = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
}

func lineLevel(line string) (slog.Level, bool) {
	lvl, _, ok := levelField(line)
	return lvl, ok
}

func levelField(line string) (slog.Level, string, bool) {
	_, rest, ok := strings.Cut(line, "level=")
	if !ok {
		return 0, "", false
	}
	name, _, _ := strings.Cut(rest, " ")
	lvl, ok := levelNames[name]
	return lvl, name, ok
}

func colorizeLine(line string) string {
	lvl, name, ok := levelField(line)
	if !ok {
		return line
	}
	var tag string
	switch {
	case lvl >= slog.LevelError:
		tag = cli.Bad(name)
	case lvl >= slog.LevelWarn:
		tag = cli.Warn(name)
	case lvl >= slog.LevelInfo:
		tag = cli.Info(name)
	default:
		tag = cli.Dim(name)
	}
	return strings.Replace(line, "level="+name, "level="+tag, 1)
}

// ═══════════════════════════════════════════════════════════════════════════
// DISCORD
// ═══════════════════════════════════════════════════════════════════════════

func openTokens() (*store.Store, *store.TokenStore, error) {
	st, err := store.New(cfg.Daemon.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return st, st.DiscordTokens(), nil
}

func runDiscordTokenStatus() error {
	st, tokens, err := openTokens()
	if err != nil {
		return err
	}
	defer st.Close()

	token, err := tokens.Token()
	if err != nil {
		return err
	}
	if token == "" {
		fmt.Printf("%s no Discord token stored\n", cli.Dim(cli.Circle))
		return nil
	}
	fmt.Printf("%s Discord token stored (%s)\n", cli.OK(cli.Bullet), maskToken(token))
	return nil
}

func runDiscordTokenSet(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token must not be empty")
	}
	st, tokens, err := openTokens()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := tokens.SetToken(token); err != nil {
		return err
	}
	fmt.Printf("%s Discord token saved; deckhandd uses it on its next connect\n", cli.OK(cli.CheckMark))
	return nil
}

func runDiscordTokenClear() error {
	st, tokens, err := openTokens()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := tokens.ClearToken(); err != nil {
		return err
	}
	fmt.Printf("%s Discord token removed\n", cli.OK(cli.CheckMark))
	return nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
