package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
)

// Entry prefix: "15:04:05 [I] component: ".
const (
	logTimeLayout   = "15:04:05"
	logComponentMax = 10
)

var logLevelGlyphs = map[logging.Level]struct {
	char  string
	style lipgloss.Style
}{
	logging.LevelDebug: {"D", logDebugStyle},
	logging.LevelInfo:  {"I", logInfoStyle},
	logging.LevelWarn:  {"W", logWarnStyle},
	logging.LevelError: {"E", logErrorStyle},
}

func logLevelChar(level logging.Level) string {
	if g, ok := logLevelGlyphs[level]; ok {
		return g.char
	}
	return "?"
}

func logLevelStyle(level logging.Level) lipgloss.Style {
	if g, ok := logLevelGlyphs[level]; ok {
		return g.style
	}
	return logInfoStyle
}

func filterEntriesByLevel(entries []logging.LogEntry, minLevel logging.Level) []logging.LogEntry {
	kept := make([]logging.LogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Level >= minLevel {
			kept = append(kept, e)
		}
	}
	return kept
}

// clampLogScroll bounds offset so the last page is never short.
func clampLogScroll(offset, totalEntries, visibleRows int) int {
	return min(max(offset, 0), max(totalEntries-visibleRows, 0))
}

// getVisibleLogEntries returns one page of the entries at or above minLevel.
func getVisibleLogEntries(entries []logging.LogEntry, minLevel logging.Level, offset, limit int) []logging.LogEntry {
	kept := filterEntriesByLevel(entries, minLevel)
	if offset >= len(kept) {
		return nil
	}
	return kept[offset:min(offset+limit, len(kept))]
}

// renderLogViewer draws the pane: a title row, a divider, and height-2
// entry rows. A negative scrollOffset follows the newest entries.
func renderLogViewer(entries []logging.LogEntry, filterLevel logging.Level, scrollOffset, width, height int) string {
	if height < 3 {
		return ""
	}
	rows := max(height-2, 1)
	kept := filterEntriesByLevel(entries, filterLevel)
	if scrollOffset < 0 {
		scrollOffset = len(kept)
	}
	scrollOffset = clampLogScroll(scrollOffset, len(kept), rows)
	page := kept[min(scrollOffset, len(kept)):min(scrollOffset+rows, len(kept))]

	lines := make([]string, 0, height+1)
	lines = append(lines,
		titleStyle.Render(fmt.Sprintf(" Logs [%s] ", filterLevel))+mutedTextStyle.Render("[1-4] filter  [↑/↓] scroll  [L] close"),
		renderDivider(width),
	)
	for _, e := range page {
		lines = append(lines, renderLogEntry(e, width))
	}
	for len(lines) < rows+2 {
		lines = append(lines, "")
	}

	if overflow := len(kept) - rows; overflow > 0 {
		pos := mutedTextStyle.Render(fmt.Sprintf(" [%d/%d] %d%%", scrollOffset+1, len(kept), scrollOffset*100/overflow))
		lines = append(lines, lipgloss.PlaceHorizontal(width, lipgloss.Right, pos))
	} else {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func renderLogEntry(entry logging.LogEntry, width int) string {
	comp := entry.Component
	if len(comp) > logComponentMax {
		comp = comp[:logComponentMax]
	}
	prefix := len(logTimeLayout) + len(" [I] ") + len(comp) + len(": ")
	return fmt.Sprintf("%s %s %s: %s",
		logTimeStyle.Render(entry.Time.Format(logTimeLayout)),
		logLevelStyle(entry.Level).Render("["+logLevelChar(entry.Level)+"]"),
		logComponentStyle.Render(comp),
		truncateLine(entry.Message, max(width-prefix, 10)))
}

// LogViewerState is the toggleable log pane shown under the running and
// summary screens.
type LogViewerState struct {
	Open        bool
	Buffer      *logging.LogBuffer
	FilterLevel logging.Level

	// ScrollOffset is the first visible entry; -1 follows new entries.
	ScrollOffset int
}

// NewLogViewerState returns a closed pane over buffer. Outside TUI logging
// mode there is no shared buffer, so the pane gets an empty private one.
func NewLogViewerState(buffer *logging.LogBuffer) *LogViewerState {
	if buffer == nil {
		buffer = logging.NewLogBuffer(logging.DefaultBufferSize)
	}
	return &LogViewerState{Buffer: buffer, FilterLevel: logging.LevelInfo, ScrollOffset: -1}
}

func (s *LogViewerState) Toggle() { s.Open = !s.Open }

// SetFilterLevel changes the minimum level and resumes following.
func (s *LogViewerState) SetFilterLevel(level logging.Level) {
	s.FilterLevel = level
	s.ScrollOffset = -1
}

// ScrollUp moves one entry towards older records, pinning the view if it
// was following.
func (s *LogViewerState) ScrollUp(visibleRows int) {
	if s.ScrollOffset < 0 {
		s.ScrollOffset = max(s.FilteredEntryCount()-visibleRows, 0)
	}
	s.ScrollOffset = max(s.ScrollOffset-1, 0)
}

// ScrollDown moves one entry towards newer records. Reaching the last page
// resumes following.
func (s *LogViewerState) ScrollDown(visibleRows int) {
	if s.ScrollOffset < 0 {
		return
	}
	if s.ScrollOffset+1 >= max(s.FilteredEntryCount()-visibleRows, 0) {
		s.ScrollOffset = -1
		return
	}
	s.ScrollOffset++
}

func (s *LogViewerState) FilteredEntryCount() int {
	return len(filterEntriesByLevel(s.Buffer.Entries(), s.FilterLevel))
}

func (s *LogViewerState) View(width, height int) string {
	return renderLogViewer(s.Buffer.Entries(), s.FilterLevel, s.ScrollOffset, width, height)
}
