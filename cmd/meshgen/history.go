package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/jamesainslie/meshgen/pkg/meshgen/history"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View previous runs",
	Long: `View the history of generation runs.

Every run is recorded with its parameters, outcome, last stage reached and
the mesh files it produced.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific run",
	Long:  `Display detailed information about a run by its ID or a unique ID prefix.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove runs older than the retention period (history.retention_days).`,
	RunE:  runHistoryClean,
}

var (
	historyLimit int
	historyDays  int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCleanCmd.Flags().IntVar(&historyDays, "days", 0, "override the retention period in days")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// getHistory opens the configured history store.
func getHistory() (*history.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	h, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	return h, cfg, nil
}

// runHistory lists recent runs.
func runHistory(_ *cobra.Command, _ []string) error {
	h, _, err := getHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	total, err := h.Count()
	if err != nil {
		return fmt.Errorf("failed to count history: %w", err)
	}

	if handled, err := printMachine(runs); handled {
		return err
	}

	if len(runs) == 0 {
		printInfo("No runs recorded yet.")
		printInfo("Run 'meshgen <image>' to generate a mesh.")
		return nil
	}

	if err := printHistoryTable(os.Stdout, runs, time.Now()); err != nil {
		return err
	}
	fmt.Printf("\nShowing %d of %d runs. Use --limit to see more.\n", len(runs), total)
	fmt.Println("Use 'meshgen history show <id>' for details on a specific run.")
	return nil
}

func printHistoryTable(w io.Writer, runs []*history.Run, now time.Time) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Started", "Input", "Outcome", "Stage", "Duration", "Meshes")
	for _, r := range runs {
		outcome := string(r.Outcome)
		if outcome == "" {
			outcome = "running"
		}
		if err := table.Append(
			history.ShortID(r.ID),
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			filepath.Base(r.Input),
			outcome,
			r.Stage,
			r.Duration().Round(time.Second).String(),
			fmt.Sprint(len(r.Artifacts)),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

// runHistoryShow displays details of a specific run.
func runHistoryShow(_ *cobra.Command, args []string) error {
	h, _, err := getHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	run, err := h.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if handled, err := printMachine(run); handled {
		return err
	}
	printRun(os.Stdout, run)
	return nil
}

func printRun(w io.Writer, r *history.Run) {
	fmt.Fprintln(w, "\nRun Details")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "ID:         %s\n", r.ID)
	fmt.Fprintf(w, "Started:    %s\n", r.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Duration:   %s\n", r.Duration().Round(time.Second))
	fmt.Fprintf(w, "Input:      %s\n", r.Input)
	fmt.Fprintf(w, "Output:     %s\n", r.OutputDir)
	fmt.Fprintf(w, "Tier:       %s\n", r.Tier)
	fmt.Fprintf(w, "Outcome:    %s (exit %d)\n", r.Outcome, r.ExitCode)
	fmt.Fprintf(w, "Stage:      %s (%.0f%%)\n", r.Stage, r.Percent)
	fmt.Fprintf(w, "Log lines:  %d\n", r.Lines)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", r.Error)
	}
	if r.Hint != "" {
		fmt.Fprintf(w, "Hint:       %s\n", r.Hint)
	}

	p := r.Params
	fmt.Fprintln(w, "\nParameters:")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "mc_resolution=%d chunk_size=%d texture_resolution=%d\n",
		p.MCResolution, p.ChunkSize, p.TextureResolution)
	fmt.Fprintf(w, "bake_texture=%t render=%t safe_mode=%t preview_delete=%t\n",
		p.BakeTexture, p.Render, p.SafeMode, p.DeletePreview)
	fmt.Fprintf(w, "remove_background=%t foreground_ratio=%g device=%s\n",
		p.RemoveBackground, p.ForegroundRatio, p.Device)

	if len(r.Artifacts) > 0 {
		fmt.Fprintln(w, "\nMeshes:")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		for _, a := range r.Artifacts {
			fmt.Fprintln(w, a)
		}
	}
}

// runHistoryClean removes old history entries.
func runHistoryClean(_ *cobra.Command, _ []string) error {
	h, cfg, err := getHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	retentionDays := cfg.History.RetentionDays
	if historyDays > 0 {
		retentionDays = historyDays
	}
	if retentionDays <= 0 {
		retentionDays = config.DefaultRetentionDays
	}

	printInfo("Cleaning runs older than %d days...", retentionDays)
	n, err := h.DeleteBefore(time.Now().AddDate(0, 0, -retentionDays))
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo("Removed %d %s.", n, plural(n, "run", "runs"))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
