// Package watch is a live table of the data sources a daemon is pushing.
package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/drewfead/deckhand/internal/cli"
	"github.com/drewfead/deckhand/internal/session"
	"github.com/drewfead/deckhand/internal/tui"
)

const (
	colSource  = 18
	colUpdates = 8
	colAge     = 8
	colState   = 6
	minValue   = 20
)

// Feed is the stream of pushes the model renders.
type Feed interface {
	Updates() <-chan session.Envelope
}

type row struct {
	source  string
	value   string
	updated time.Time
	count   int
	gap     time.Duration
}

type (
	updateMsg session.Envelope
	closedMsg struct{}
	tickMsg   time.Time
)

// Model renders one row per source, most recently seen value on the right.
type Model struct {
	feed   Feed
	addr   string
	rows   map[string]*row
	table  table.Model
	paused bool
	closed bool
	width  int
	now    func() time.Time
}

// New creates a viewer for feed. addr is shown in the header.
func New(feed Feed, addr string) Model {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = tui.StyleHeader
	styles.Selected = tui.StyleSelected
	t.SetStyles(styles)

	return Model{
		feed:  feed,
		addr:  addr,
		rows:  make(map[string]*row),
		table: t,
		width: 80,
		now:   time.Now,
	}
}

func valueWidth(width int) int {
	return max(width-colSource-colUpdates-colAge-colState-10, minValue)
}

func columns(width int) []table.Column {
	value := valueWidth(width)
	return []table.Column{
		{Title: "SOURCE", Width: colSource},
		{Title: "UPDATES", Width: colUpdates},
		{Title: "AGE", Width: colAge},
		{Title: "STATE", Width: colState},
		{Title: "VALUE", Width: value},
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), tick())
}

func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		env, ok := <-m.feed.Updates()
		if !ok {
			return closedMsg{}
		}
		return updateMsg(env)
	}
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "p":
			m.paused = !m.paused
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(max(msg.Height-6, 3))
		m.refresh()

	case updateMsg:
		if !m.paused {
			m.apply(session.Envelope(msg))
			m.refresh()
		}
		cmds = append(cmds, m.waitForUpdate())

	case closedMsg:
		m.closed = true

	case tickMsg:
		m.refresh()
		cmds = append(cmds, tick())
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) apply(env session.Envelope) {
	now := m.now()
	r, ok := m.rows[env.Source]
	if !ok {
		r = &row{source: env.Source}
		m.rows[env.Source] = r
	} else {
		gap := now.Sub(r.updated)
		if r.gap == 0 {
			r.gap = gap
		} else {
			r.gap = (4*r.gap + gap) / 5
		}
	}
	r.count++
	r.updated = now
	r.value = compact(env.Data)
}

func compact(data json.RawMessage) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(data)
	}
	return string(out)
}

func (m *Model) refresh() {
	names := make([]string, 0, len(m.rows))
	for name := range m.rows {
		names = append(names, name)
	}
	sort.Strings(names)

	width := valueWidth(m.width)

	now := m.now()
	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		r := m.rows[name]
		age := now.Sub(r.updated)
		rows = append(rows, table.Row{
			r.source,
			fmt.Sprintf("%d", r.count),
			formatAge(age),
			tui.Freshness(age, r.gap),
			cli.Truncate(r.value, width),
		})
	}
	m.table.SetRows(rows)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Truncate(time.Second).String()
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(tui.StyleTitle.Render("deckhand watch"))
	b.WriteString("  ")
	b.WriteString(tui.StyleMuted.Render(m.addr))
	b.WriteString("  ")
	b.WriteString(m.summary())
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(tui.StyleMuted.Render("waiting for live data…"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
	}

	switch {
	case m.closed:
		b.WriteString(tui.StyleError.Render("disconnected from daemon"))
		b.WriteString("\n")
	case m.paused:
		b.WriteString(tui.StyleAccent.Render("paused"))
		b.WriteString("\n")
	}
	b.WriteString(tui.StyleHelp.Render("↑/↓ select • p pause • q quit"))
	return b.String()
}

func (m Model) summary() string {
	counts := map[string]int{}
	now := m.now()
	for _, r := range m.rows {
		counts[tui.Freshness(now.Sub(r.updated), r.gap)]++
	}
	var parts []string
	for _, label := range []string{"live", "stale", "dead"} {
		if n := counts[label]; n > 0 {
			parts = append(parts, tui.FreshnessStyle(label).Render(fmt.Sprintf("%d %s", n, label)))
		}
	}
	if len(parts) == 0 {
		return tui.StyleMuted.Render("no sources")
	}
	return strings.Join(parts, " ")
}
