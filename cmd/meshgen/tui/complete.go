package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamesainslie/meshgen/pkg/meshgen/output"
	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

// maxListedArtifacts caps the artifacts listed per run.
const maxListedArtifacts = 5

// CompleteModel summarises a finished batch.
type CompleteModel struct {
	result *output.Result
	err    error
	width  int
}

// NewCompleteModel creates the summary view. err is a failure to start
// the batch at all, such as an unreadable input path.
func NewCompleteModel(result *output.Result, err error) CompleteModel {
	return CompleteModel{result: result, err: err, width: 80}
}

// Succeeded reports whether every run produced a mesh successfully.
func (m CompleteModel) Succeeded() bool {
	return m.err == nil && m.result != nil && len(m.result.Runs) > 0 &&
		m.result.Succeeded() == len(m.result.Runs)
}

// View renders the summary.
func (m CompleteModel) View() string {
	contentWidth := max(m.width-4, 40)
	var b strings.Builder

	if m.err != nil {
		b.WriteString(errorTextStyle.Render("  Could not start: " + m.err.Error()))
		b.WriteString("\n")
		return b.String()
	}
	r := m.result

	switch {
	case r.Interrupted:
		b.WriteString(warningTextStyle.Render("  Canceled"))
	case m.Succeeded():
		b.WriteString(successTextStyle.Render("  Complete"))
	default:
		b.WriteString(errorTextStyle.Render("  Finished with errors"))
	}
	b.WriteString(mutedTextStyle.Render(fmt.Sprintf("  %d of %d succeeded, %d meshes in %s",
		r.Succeeded(), len(r.Runs), r.ArtifactCount(), r.Duration.Round(time.Second))))
	b.WriteString("\n\n")

	for _, run := range r.Runs {
		b.WriteString(renderRunSummary(run, contentWidth))
	}

	if len(r.Adjustments) > 0 {
		b.WriteString(mutedTextStyle.Render(fmt.Sprintf("  Adjusted for %s tier: %s",
			r.Tier, strings.Join(r.Adjustments, ", "))))
		b.WriteString("\n")
	}
	return b.String()
}

func renderRunSummary(run output.Run, width int) string {
	var b strings.Builder

	name := filepath.Base(run.Input)
	switch run.Outcome {
	case types.OutcomeSucceeded:
		b.WriteString(successTextStyle.Render("  ✓ " + name))
	case types.OutcomeCanceled:
		b.WriteString(warningTextStyle.Render("  - " + name))
	default:
		b.WriteString(errorTextStyle.Render("  ✗ " + name))
	}
	b.WriteString(mutedTextStyle.Render(fmt.Sprintf("  %s, exit %d, %s (%.0f%%)",
		formatDuration(run.Duration), run.ExitCode, run.Stage, run.Percent)))
	b.WriteString("\n")

	if run.Error != "" {
		b.WriteString(errorTextStyle.Render("      " + truncateLine(run.Error, width-8)))
		b.WriteString("\n")
	}
	if run.Hint != "" {
		b.WriteString(warningTextStyle.Render("      Hint: " + run.Hint))
		b.WriteString("\n")
	}
	for i, a := range run.Artifacts {
		if i >= maxListedArtifacts {
			b.WriteString(mutedTextStyle.Render(fmt.Sprintf("      ... and %d more", len(run.Artifacts)-maxListedArtifacts)))
			b.WriteString("\n")
			break
		}
		b.WriteString(fmt.Sprintf("      %s  %s\n", truncatePath(a.Path, width-20), mutedTextStyle.Render(a.SizeHuman)))
	}
	return b.String()
}
