// Package tui provides the terminal user interface for deckhand.
package tui

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Tokyo Night inspired color palette
var (
	ColorBgAlt   = lipgloss.Color("#24283b")
	ColorFg      = lipgloss.Color("#c0caf5")
	ColorFgMuted = lipgloss.Color("#565f89")
	ColorFresh   = lipgloss.Color("#9ece6a")
	ColorStale   = lipgloss.Color("#e0af68")
	ColorDead    = lipgloss.Color("#f7768e")
	ColorAccent  = lipgloss.Color("#d4a373")
)

// Freshness labels a source by how long ago it last updated relative to
// its usual gap between updates: "live", "stale" or "dead".
func Freshness(age, typical time.Duration) string {
	switch {
	case typical <= 0 || age <= 3*typical:
		return "live"
	case age <= 10*typical:
		return "stale"
	default:
		return "dead"
	}
}

// FreshnessStyle returns the style for a Freshness label.
func FreshnessStyle(label string) lipgloss.Style {
	switch label {
	case "live":
		return lipgloss.NewStyle().Foreground(ColorFresh)
	case "stale":
		return lipgloss.NewStyle().Foreground(ColorStale)
	default:
		return lipgloss.NewStyle().Foreground(ColorDead)
	}
}

// Common styles
var (
	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorFg).
			Bold(true)

	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			Bold(true)

	StyleSelected = lipgloss.NewStyle().
			Background(ColorBgAlt).
			Foreground(ColorFg)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorFgMuted)

	StyleAccent = lipgloss.NewStyle().
			Foreground(ColorAccent)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDead)

	StyleHelp = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			MarginTop(1)
)
