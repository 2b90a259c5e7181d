package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table lays out rows in left-aligned columns separated by two spaces.
// Cells may already be styled; widths ignore escape codes.
func Table(headers []string, rows [][]string) string {
	cols := len(headers)
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	widths := make([]int, cols)
	measure := func(r []string) {
		for i, cell := range r {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	measure(headers)
	for _, r := range rows {
		measure(r)
	}

	var b strings.Builder
	line := func(r []string, style func(string) string) {
		for i := range cols {
			cell := ""
			if i < len(r) {
				cell = r[i]
			}
			if i == cols-1 {
				b.WriteString(style(cell))
				break
			}
			b.WriteString(style(cell))
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
		}
		b.WriteString("\n")
	}
	if len(headers) > 0 {
		line(headers, Dim)
	}
	for _, r := range rows {
		line(r, func(s string) string { return s })
	}
	return b.String()
}

// Truncate shortens s to at most n display columns, marking the cut with "…".
func Truncate(s string, n int) string {
	if n <= 0 || lipgloss.Width(s) <= n {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > n {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
