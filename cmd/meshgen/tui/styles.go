// Package tui provides the interactive terminal front-end of meshgen: a
// parameter form, a live view of the running tool, and a summary screen.
// It uses Charmbracelet's Bubble Tea, Lip Gloss, and Bubbles.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette. The violet/cyan pair marks anything the user can act on; the
// greys carry chrome and secondary text.
var (
	primaryColor = lipgloss.Color("#7D56F4")
	accentColor  = lipgloss.Color("#00D9FF")

	successColor = lipgloss.Color("#28A745")
	warningColor = lipgloss.Color("#FFC107")
	dangerColor  = lipgloss.Color("#DC3545")

	brightColor    = lipgloss.Color("#FFFFFF")
	labelColor     = lipgloss.Color("#CCCCCC")
	toolColor      = lipgloss.Color("#AAAAAA")
	mutedColor     = lipgloss.Color("#666666")
	subtleColor    = lipgloss.Color("#444444")
	borderColor    = lipgloss.Color("#333333")
	highlightColor = lipgloss.Color("#1A1A2E")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

var (
	outerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primaryColor).Padding(0, 1)
	dividerStyle  = fg(borderColor)

	titleStyle       = fg(primaryColor).Bold(true)
	mutedTextStyle   = fg(mutedColor)
	errorTextStyle   = fg(dangerColor)
	successTextStyle = fg(successColor)
	warningTextStyle = fg(warningColor)
)

// Parameter form.
var (
	focusedRowStyle = fg(brightColor).Background(highlightColor).Bold(true)
	labelStyle      = fg(labelColor).Width(20)
	valueStyle      = fg(accentColor).Bold(true)
	cursorStyle     = fg(primaryColor).Bold(true)

	buttonStyle       = fg(labelColor).Background(subtleColor).Padding(0, 2)
	activeButtonStyle = fg(brightColor).Background(primaryColor).Padding(0, 2).Bold(true)

	// Slider steps above the GPU tier ceiling.
	lockedStepStyle = fg(dangerColor)
)

// Progress bars are shared by the slider rows and the running view.
var (
	progressFillStyle  = fg(successColor)
	progressEmptyStyle = fg(subtleColor)
)

// Running view.
var (
	statsBoxStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(borderColor).Padding(0, 2)
	statsLabelStyle = fg(mutedColor)
	statsValueStyle = fg(brightColor).Bold(true)
	toolLineStyle   = fg(toolColor)
)

var (
	keyStyle     = fg(primaryColor).Bold(true)
	keyDescStyle = fg(mutedColor)
)

// Log pane, one style per level.
var (
	logTimeStyle      = fg(mutedColor)
	logComponentStyle = fg(accentColor)
	logDebugStyle     = fg(mutedColor)
	logInfoStyle      = fg(successColor)
	logWarnStyle      = fg(warningColor)
	logErrorStyle     = fg(dangerColor).Bold(true)
)

func renderDivider(width int) string {
	return dividerStyle.Render(repeatChar('─', width))
}

// renderKeyHints renders "[key] desc" pairs separated by two spaces.
func renderKeyHints(pairs ...string) string {
	hints := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		hints = append(hints, keyStyle.Render("["+pairs[i]+"]")+" "+keyDescStyle.Render(pairs[i+1]))
	}
	return strings.Join(hints, "  ")
}

func repeatChar(char rune, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(string(char), n)
}

// truncatePath keeps the tail of path, which holds the file name.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return path[:maxLen]
	}
	return "..." + path[len(path)-maxLen+3:]
}

// truncateLine keeps the head of s.
func truncateLine(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// center pads s on both sides to width; an odd gap puts the extra space on
// the right.
func center(s string, width int) string {
	gap := width - len(s)
	if gap <= 0 {
		return s
	}
	return repeatChar(' ', gap/2) + s + repeatChar(' ', gap-gap/2)
}
