// Package cli provides shared output helpers for the deckhand CLI.
package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorGreen  = lipgloss.Color("#9ece6a")
	colorYellow = lipgloss.Color("#e0af68")
	colorRed    = lipgloss.Color("#f7768e")
	colorBlue   = lipgloss.Color("#7aa2f7")
	colorCyan   = lipgloss.Color("#7dcfff")
	colorGray   = lipgloss.Color("#565f89")
)

var (
	styleBold    = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(colorGray)
	styleOK      = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarn    = lipgloss.NewStyle().Foreground(colorYellow)
	styleBad     = lipgloss.NewStyle().Foreground(colorRed)
	styleInfo    = lipgloss.NewStyle().Foreground(colorBlue)
	styleHeading = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
)

// colorsEnabled caches whether colors should be used
var colorsEnabled *bool

// ColorsEnabled returns true if stdout is a terminal and NO_COLOR is not set.
func ColorsEnabled() bool {
	if colorsEnabled != nil {
		return *colorsEnabled
	}

	enabled := term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
	colorsEnabled = &enabled
	return enabled
}

// ForceColors enables or disables colors regardless of terminal detection.
func ForceColors(enabled bool) {
	colorsEnabled = &enabled
}

func render(s lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}
	return s.Render(text)
}

func Bold(text string) string    { return render(styleBold, text) }
func Dim(text string) string     { return render(styleDim, text) }
func OK(text string) string      { return render(styleOK, text) }
func Warn(text string) string    { return render(styleWarn, text) }
func Bad(text string) string     { return render(styleBad, text) }
func Info(text string) string    { return render(styleInfo, text) }
func Heading(text string) string { return render(styleHeading, text) }

// StateText colors a lifecycle state name.
func StateText(state string) string {
	switch state {
	case "running", "connected", "ready", "authenticated", "ok":
		return OK(state)
	case "compiling", "launching", "connecting":
		return Info(state)
	case "crashed", "disconnected":
		return Warn(state)
	case "failed":
		return Bad(state)
	default:
		return Dim(state)
	}
}
