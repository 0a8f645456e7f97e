package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/olekukonko/tablewriter"
)

// PlainFormatter writes one tab-separated line per artifact, suitable for
// scripts: OUTCOME, INPUT and ARTIFACT. Runs without artifacts print "-".
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	if _, err := fmt.Fprintln(tw, "OUTCOME\tINPUT\tARTIFACT"); err != nil {
		return err
	}
	for _, run := range r.Runs {
		if len(run.Artifacts) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t-\n", run.Outcome, run.Input)
			continue
		}
		for _, a := range run.Artifacts {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", run.Outcome, run.Input, a.Path)
		}
	}
	return tw.Flush()
}

// TableFormatter renders a bordered table with one row per run.
type TableFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TableFormatter) Format(w *bytes.Buffer, r *Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("Input", "Outcome", "Stage", "Duration", "Artifacts")
	for _, run := range r.Runs {
		stage := run.Stage
		if run.Hint != "" {
			stage += " (" + run.Hint + ")"
		}
		if err := table.Append(
			run.Input,
			string(run.Outcome),
			stage,
			formatDuration(run.Duration),
			artifactSummary(run.Artifacts),
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d of %d succeeded, %d artifacts", r.Succeeded(), len(r.Runs), r.ArtifactCount())
	if r.Duration > 0 {
		fmt.Fprintf(w, " in %s", formatDuration(r.Duration))
	}
	w.WriteString("\n")
	return nil
}

func artifactSummary(list []Artifact) string {
	switch len(list) {
	case 0:
		return "-"
	case 1:
		return fmt.Sprintf("%s (%s)", list[0].Path, list[0].SizeHuman)
	default:
		return fmt.Sprintf("%s +%d more", list[0].Path, len(list)-1)
	}
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
	Register("table", func() Formatter { return &TableFormatter{} })
}

var (
	_ Formatter = (*PlainFormatter)(nil)
	_ Formatter = (*TableFormatter)(nil)
)
