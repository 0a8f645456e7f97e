package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jamesainslie/meshgen/cmd/meshgen/tui"
	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/jamesainslie/meshgen/pkg/meshgen/events"
	"github.com/jamesainslie/meshgen/pkg/meshgen/history"
	"github.com/jamesainslie/meshgen/pkg/meshgen/inputs"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
	"github.com/jamesainslie/meshgen/pkg/meshgen/metrics"
	"github.com/jamesainslie/meshgen/pkg/meshgen/output"
	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
	"github.com/jamesainslie/meshgen/pkg/meshgen/prefs"
	"github.com/jamesainslie/meshgen/pkg/meshgen/session"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runGenerate is the root command handler.
func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := prefs.New(cfg.Prefs.Path)
	if err != nil {
		return err
	}
	saved, err := store.Load()
	if errors.Is(err, prefs.ErrCorrupt) {
		printError("%v, using defaults", err)
	} else if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}
	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		saved = prefs.Default()
	}

	p, err := applyParamFlags(cmd.Flags(), saved.Params)
	if err != nil {
		return err
	}

	input := saved.LastInput
	if len(args) > 0 {
		input, err = config.ExpandPath(args[0])
		if err != nil {
			return fmt.Errorf("failed to expand path: %w", err)
		}
	}
	outputDir := firstNonEmpty(flagString(cmd, "output-dir"), saved.OutputDir, cfg.OutputDir)
	if outputDir, err = config.ExpandPath(outputDir); err != nil {
		return fmt.Errorf("failed to expand path: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sys, err := detectSystem(ctx, cfg)
	if err != nil {
		printVerbose("Hardware detection incomplete: %v", err)
	}
	printVerbose("Tier %s, %d GPU(s), %d CPUs", sys.Tier(), len(sys.GPUs), sys.CPUCores)

	hist := openHistory(cfg)
	if hist != nil {
		defer hist.Close()
	}
	collector := metrics.New()
	bus := events.New()
	defer bus.Close()

	sess := session.New(session.Options{
		Tool:           cfg.Tool,
		Tier:           sys.Tier(),
		Events:         bus,
		History:        hist,
		Metrics:        collector,
		WatchArtifacts: true,
	})

	recursive, _ := cmd.Flags().GetBool("recursive")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	collect := func(ctx context.Context, path string) ([]string, error) {
		return inputs.Collect(ctx, path, inputs.Options{Exclude: exclude, Recursive: recursive})
	}

	remember := func(input, outputDir string, p params.Params) {
		next := prefs.Preferences{LastInput: input, OutputDir: outputDir, Params: p}
		if err := store.Save(next); err != nil {
			logging.Get("prefs").Warn("failed to save preferences", "path", store.Path(), "error", err)
		}
	}

	outFormat := viper.GetString("output")
	if viper.GetBool("no_interactive") || outFormat != "" {
		if input == "" {
			return fmt.Errorf("no input image given")
		}
		plan, planErr := sess.Plan(p)
		if planErr != nil {
			return planErr
		}
		assumeYes, _ := cmd.Flags().GetBool("yes")
		interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
		if err := confirmPlan(plan, assumeYes, interactive, os.Stdin, os.Stderr); err != nil {
			return err
		}
		err = runPlain(ctx, sess, bus, collect, input, outputDir, p, outFormat)
		if err == nil || errors.Is(err, errRunsFailed) {
			remember(input, outputDir, p)
		}
	} else {
		if err := initTUILogging(); err != nil {
			return fmt.Errorf("failed to initialize TUI logging: %w", err)
		}
		var result *output.Result
		result, err = tui.Run(ctx, tui.Options{
			Input:     input,
			OutputDir: outputDir,
			Params:    p,
			System:    sys,
			Session:   sess,
			Events:    bus,
			Collect:   collect,
			OnLaunch:  remember,
		})
		if err == nil {
			err = runsError(result)
		}
	}

	finish(cfg, collector, hist)
	return err
}

// errRunsFailed is returned when at least one run did not succeed.
var errRunsFailed = errors.New("one or more runs failed")

// errNotConfirmed is returned when a run that needs approval was not
// approved.
var errNotConfirmed = errors.New("run not confirmed")

// runsError maps a batch result onto the command's exit status. An
// interrupted batch is not an error.
func runsError(result *output.Result) error {
	if result == nil || result.Interrupted {
		return nil
	}
	if result.Succeeded() < len(result.Runs) {
		return errRunsFailed
	}
	return nil
}

// confirmPlan prints why plan needs approval and asks for it on in. Without
// a terminal the run only starts with assumeYes.
func confirmPlan(plan params.Plan, assumeYes, interactive bool, in io.Reader, out io.Writer) error {
	if !plan.NeedsConfirmation() {
		return nil
	}
	for _, w := range plan.Warnings() {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if assumeYes {
		return nil
	}
	if !interactive {
		return fmt.Errorf("%w: pass --yes to start anyway", errNotConfirmed)
	}

	fmt.Fprint(out, "Start anyway? [y/N] ")
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return errNotConfirmed
}

// runPlain runs the batch without the TUI. Tool output and progress are
// streamed as text; a report format sends the stream to stderr and the
// report to stdout.
func runPlain(
	ctx context.Context,
	sess *session.Session,
	bus *events.Broadcaster,
	collect func(context.Context, string) ([]string, error),
	input, outputDir string,
	p params.Params,
	outFormat string,
) error {
	var formatter output.Formatter
	if outFormat != "" {
		f, err := output.Get(outFormat)
		if err != nil {
			return fmt.Errorf("unknown output format %q: available formats are %v", outFormat, output.Available())
		}
		formatter = f
	}

	images, err := collect(ctx, input)
	if err != nil {
		return err
	}

	var stream io.Writer = os.Stdout
	if formatter != nil {
		stream = os.Stderr
	}

	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(stream, sub.Events, getQuiet())
	}()

	result, runErr := sess.RunBatch(ctx, images, outputDir, p)
	bus.Unsubscribe(sub.ID)
	<-done
	if runErr != nil {
		return runErr
	}

	for _, a := range result.Adjustments {
		fmt.Fprintf(os.Stderr, "adjusted for %s tier: %s\n", result.Tier, a)
	}

	if formatter == nil {
		formatter, _ = output.Get("plain")
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, result); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(buf.String())

	if result.Interrupted {
		printInfo("Interrupted")
	}
	return runsError(result)
}

// finish writes the metrics textfile and applies history retention.
func finish(cfg *config.Config, collector *metrics.Collector, hist *history.Store) {
	log := logging.Get("meshgen")
	if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		log.Warn("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
	}
	if hist == nil || cfg.History.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -cfg.History.RetentionDays)
	if n, err := hist.DeleteBefore(cutoff); err != nil {
		log.Warn("history cleanup failed", "error", err)
	} else if n > 0 {
		log.Info("history cleaned", "removed", n)
	}
}

// openHistory opens the run history store, or returns nil when history is
// disabled or unavailable.
func openHistory(cfg *config.Config) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	h, err := history.Open(cfg.History.Path)
	if err != nil {
		logging.Get("history").Warn("run history unavailable", "path", cfg.History.Path, "error", err)
		return nil
	}
	return h
}

func flagString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
