package logging

import (
	"testing"
	"time"
)

func addMessages(buf *LogBuffer, msgs ...string) {
	for _, m := range msgs {
		buf.Add(LogEntry{Time: time.Now(), Level: LevelInfo, Component: "test", Message: m})
	}
}

func TestLogBufferOverflowKeepsNewest(t *testing.T) {
	buf := NewLogBuffer(3)
	addMessages(buf, "A", "B", "C", "D", "E")

	entries := buf.Entries()
	want := []string{"C", "D", "E"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Message != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestLogBufferLast(t *testing.T) {
	buf := NewLogBuffer(5)
	addMessages(buf, "A", "B", "C")

	last := buf.Last(2)
	if len(last) != 2 || last[0].Message != "B" || last[1].Message != "C" {
		t.Errorf("Last(2) = %+v", last)
	}
	if got := len(buf.Last(10)); got != 3 {
		t.Errorf("Last(10) returned %d entries, want 3", got)
	}
	if got := len(buf.Last(-1)); got != 0 {
		t.Errorf("Last(-1) returned %d entries, want 0", got)
	}
}

func TestLogBufferClear(t *testing.T) {
	buf := NewLogBuffer(0)
	addMessages(buf, "A")
	buf.Clear()
	if buf.Len() != 0 {
		t.Errorf("Len() = %d after Clear", buf.Len())
	}
}
