package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/meshgen/pkg/meshgen/events"
	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

// printEvents writes a text rendition of run events to w until ch is
// closed. Quiet mode drops raw tool lines and progress.
func printEvents(w io.Writer, ch <-chan *events.Event, quiet bool) {
	for ev := range ch {
		switch ev.Type {
		case events.EventStarted:
			if ev.Total > 1 {
				fmt.Fprintf(w, "[%d/%d] %s\n", ev.Index, ev.Total, filepath.Base(ev.Input))
			} else {
				fmt.Fprintf(w, "Generating mesh for %s\n", filepath.Base(ev.Input))
			}
		case events.EventLine:
			if !quiet {
				fmt.Fprintf(w, "  | %s\n", ev.Line)
			}
		case events.EventStage:
			fmt.Fprintf(w, "==> %s (%.0f%%)\n", ev.Stage, ev.Percent)
		case events.EventArtifact:
			fmt.Fprintf(w, "  + %s (%s)\n", ev.Artifact, humanize.IBytes(uint64(ev.Size)))
		case events.EventFinished:
			printFinished(w, ev)
		}
	}
}

func printFinished(w io.Writer, ev *events.Event) {
	switch ev.Outcome {
	case types.OutcomeSucceeded:
		fmt.Fprintf(w, "Done in %s\n", ev.Duration.Round(time.Second))
	case types.OutcomeCanceled:
		fmt.Fprintf(w, "Canceled at %s (%.0f%%)\n", ev.Stage, ev.Percent)
	default:
		fmt.Fprintf(w, "Failed at %s (exit %d): %s\n", ev.Stage, ev.ExitCode, ev.Err)
		if ev.Hint != "" {
			fmt.Fprintf(w, "Hint: %s\n", ev.Hint)
		}
	}
}
