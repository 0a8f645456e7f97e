package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jamesainslie/meshgen/pkg/meshgen/launcher"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
	"github.com/jamesainslie/meshgen/pkg/meshgen/metrics"
	"github.com/jamesainslie/meshgen/pkg/meshgen/setup"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Install the reconstruction tool's Python dependencies",
	Long: `Install the Python packages the reconstruction tool needs.

The steps run in this order:

  1. check the Python interpreter
  2. patch the requirements file (the tensor library is removed and
     configured pins are applied)
  3. reinstall the CPU build of the tensor library so the marching cubes
     extension compiles against it
  4. install the pre-packages (failures only warn)
  5. install the patched requirements
  6. import the marching cubes extension and write the marker file
  7. install the optional packages (failures only warn)
  8. install the required packages
  9. reinstall the CUDA build of the tensor library when an NVIDIA GPU is
     present (failures only warn; the CPU build stays)
 10. force-reinstall pinned packages such as numpy<2.0
 11. install local editable packages, if configured
 12. verify the tensor library imports

While the marker file exists, steps 3 and 9 are skipped. A completed
installation is remembered; use --force to run it again.`,
	RunE: runSetup,
}

var (
	setupForce  bool
	setupDryRun bool
	setupCPU    bool
)

func init() {
	setupCmd.Flags().BoolVarP(&setupForce, "force", "f", false, "reinstall even if setup already completed")
	setupCmd.Flags().BoolVar(&setupDryRun, "dry-run", false, "print the installation plan without running it")
	setupCmd.Flags().BoolVar(&setupCPU, "cpu", false, "install the CPU build of the tensor library")
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hasGPU := false
	if !setupCPU {
		sys, err := detectSystem(ctx, cfg)
		if err != nil {
			printVerbose("Hardware detection incomplete: %v", err)
		}
		hasGPU = sys.HasGPU()
	}

	collector := metrics.New()
	inst := setup.New(cfg, launcher.ExecRunner{}, hasGPU)
	machine := viper.GetString("output") == "json" || viper.GetString("output") == "yaml"

	inst.OnStep = func(res setup.StepResult) {
		collector.RecordSetupStep(res.Name, string(res.Status))
		if !machine {
			printStep(res)
		}
	}
	toolLog := logging.Get("setup")
	inst.OnLine = func(line string) {
		toolLog.Debug(line)
		if getVerbose() && !machine {
			fmt.Printf("    %s\n", line)
		}
	}

	if !machine && !setupDryRun {
		build := "CUDA build"
		switch {
		case inst.MarkerExists():
			build = "keeping the installed torch build"
		case !hasGPU:
			build = "CPU build"
		}
		printInfo("Installing dependencies for %s (%s)", cfg.ToolDir(), build)
	}

	start := time.Now()
	report, runErr := inst.Run(ctx, setup.Options{Force: setupForce, DryRun: setupDryRun, CPUOnly: setupCPU})

	if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logging.Get("meshgen").Warn("failed to write metrics textfile", "error", err)
	}

	if machine {
		if _, err := printMachine(report); err != nil {
			return err
		}
		return runErr
	}

	switch {
	case report.Skipped:
		printInfo("Dependencies already installed. Use --force to reinstall.")
	case runErr != nil:
		return runErr
	case report.DryRun:
		printInfo("Dry run: nothing was installed.")
	default:
		printInfo("Setup complete in %s: torch %s (%s), CUDA available: %t",
			time.Since(start).Round(time.Second), report.TorchVersion, report.TorchBuild, report.CUDAAvailable)
	}
	return nil
}

func printStep(res setup.StepResult) {
	var mark string
	switch res.Status {
	case setup.StatusOK:
		mark = "ok"
	case setup.StatusWarning:
		mark = "warn"
	case setup.StatusFailed:
		mark = "FAIL"
	case setup.StatusSkipped:
		mark = "skip"
	default:
		mark = "plan"
	}

	line := fmt.Sprintf("[%-4s] %s", mark, res.Name)
	if res.Detail != "" {
		line += ": " + res.Detail
	}
	if res.Err != nil {
		line += ": " + res.Err.Error()
	}
	printInfo("%s", line)
	if res.Status == setup.StatusPlanned {
		for _, c := range res.Commands {
			printInfo("         $ %s", c)
		}
	} else if len(res.Commands) > 0 {
		printVerbose("commands: %s", strings.Join(res.Commands, "; "))
	}
}
