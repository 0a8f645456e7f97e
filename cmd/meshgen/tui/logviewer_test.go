package tui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
)

func testEntries(levels ...logging.Level) []logging.LogEntry {
	entries := make([]logging.LogEntry, len(levels))
	for i, level := range levels {
		entries[i] = logging.LogEntry{
			Time:      time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
			Level:     level,
			Component: "launcher",
			Message:   fmt.Sprintf("message %d", i),
		}
	}
	return entries
}

func TestFilterEntriesByLevel(t *testing.T) {
	entries := testEntries(logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError)

	tests := []struct {
		name     string
		minLevel logging.Level
		expected int
	}{
		{"debug shows all", logging.LevelDebug, 4},
		{"info hides debug", logging.LevelInfo, 3},
		{"warn and above", logging.LevelWarn, 2},
		{"error only", logging.LevelError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterEntriesByLevel(entries, tt.minLevel)
			if len(got) != tt.expected {
				t.Errorf("expected %d entries, got %d", tt.expected, len(got))
			}
		})
	}
}

func TestLogScrollBounds(t *testing.T) {
	tests := []struct {
		name                string
		offset, total, rows int
		expected            int
	}{
		{"fits on screen", 5, 3, 10, 0},
		{"negative offset", -2, 30, 10, 0},
		{"within range", 7, 30, 10, 7},
		{"past the end", 50, 30, 10, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampLogScroll(tt.offset, tt.total, tt.rows); got != tt.expected {
				t.Errorf("clampLogScroll(%d, %d, %d) = %d, want %d", tt.offset, tt.total, tt.rows, got, tt.expected)
			}
		})
	}
}

func TestLogViewerVisibleEntries(t *testing.T) {
	entries := testEntries(logging.LevelInfo, logging.LevelDebug, logging.LevelInfo, logging.LevelInfo)

	got := getVisibleLogEntries(entries, logging.LevelInfo, 1, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Message != "message 2" {
		t.Errorf("expected message 2 first, got %q", got[0].Message)
	}

	if got := getVisibleLogEntries(entries, logging.LevelInfo, 10, 5); got != nil {
		t.Errorf("expected nil past the end, got %v", got)
	}
}

func TestLogLevelChar(t *testing.T) {
	tests := map[logging.Level]string{
		logging.LevelDebug: "D",
		logging.LevelInfo:  "I",
		logging.LevelWarn:  "W",
		logging.LevelError: "E",
		logging.Level(42):  "?",
	}
	for level, want := range tests {
		if got := logLevelChar(level); got != want {
			t.Errorf("logLevelChar(%d) = %q, want %q", level, got, want)
		}
	}
}

func TestRenderLogViewerFollowsTail(t *testing.T) {
	var levels []logging.Level
	for i := 0; i < 20; i++ {
		levels = append(levels, logging.LevelInfo)
	}
	entries := testEntries(levels...)

	out := renderLogViewer(entries, logging.LevelInfo, -1, 80, 7)
	if !strings.Contains(out, "message 19") {
		t.Error("expected the newest entry when following")
	}
	if strings.Contains(out, "message 0") {
		t.Error("expected the oldest entry to be scrolled out")
	}

	if out := renderLogViewer(entries, logging.LevelInfo, 0, 80, 2); out != "" {
		t.Errorf("expected nothing for a tiny pane, got %q", out)
	}
}

func TestLogViewerState(t *testing.T) {
	buf := logging.NewLogBuffer(50)
	for _, e := range testEntries(logging.LevelDebug, logging.LevelInfo, logging.LevelInfo, logging.LevelInfo, logging.LevelWarn) {
		buf.Add(e)
	}

	s := NewLogViewerState(buf)
	if s.Open {
		t.Error("expected viewer closed by default")
	}
	s.Toggle()
	if !s.Open {
		t.Error("expected viewer open after toggle")
	}

	if got := s.FilteredEntryCount(); got != 4 {
		t.Errorf("expected 4 entries at info, got %d", got)
	}

	s.ScrollUp(2)
	if s.ScrollOffset != 1 {
		t.Errorf("expected offset 1 after scrolling up from the tail, got %d", s.ScrollOffset)
	}
	s.ScrollDown(2)
	if s.ScrollOffset != -1 {
		t.Errorf("expected to follow again at the end, got %d", s.ScrollOffset)
	}

	s.ScrollUp(2)
	s.SetFilterLevel(logging.LevelWarn)
	if s.ScrollOffset != -1 || s.FilteredEntryCount() != 1 {
		t.Errorf("unexpected state after filter change: offset=%d count=%d", s.ScrollOffset, s.FilteredEntryCount())
	}
}

func TestNewLogViewerStateNilBuffer(t *testing.T) {
	s := NewLogViewerState(nil)
	if s.Buffer == nil {
		t.Fatal("expected a private buffer")
	}
	if s.View(80, 5) == "" {
		t.Error("expected the empty pane to render")
	}
}
