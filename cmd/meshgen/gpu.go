package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/jamesainslie/meshgen/pkg/meshgen/gpu"
	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var gpuCmd = &cobra.Command{
	Use:   "gpu",
	Short: "Show detected hardware and parameter tier",
	Long: `Detect GPUs with nvidia-smi and host memory, then show the parameter
tier meshgen uses and the largest slider values it allows.

Set gpu.vram_override (or MESHGEN_GPU_VRAM_OVERRIDE) to skip detection,
e.g. MESHGEN_GPU_VRAM_OVERRIDE=6GB.`,
	RunE: runGPU,
}

func init() {
	rootCmd.AddCommand(gpuCmd)
}

// gpuReport is the machine-readable form of the gpu command.
type gpuReport struct {
	System   gpu.System     `json:"system" yaml:"system"`
	Tier     string         `json:"tier" yaml:"tier"`
	Ceilings map[string]int `json:"ceilings" yaml:"ceilings"`

	// Limits are the launch caps; values above them are lowered after
	// confirmation. Uncapped sliders are omitted.
	Limits map[string]int `json:"limits" yaml:"limits"`
}

// detectSystem runs hardware detection honouring gpu.vram_override.
func detectSystem(ctx context.Context, cfg *config.Config) (gpu.System, error) {
	var opts gpu.Options
	if s := cfg.GPU.VRAMOverride; s != "" {
		vram, err := types.ParseSize(s)
		if err != nil {
			return gpu.System{}, fmt.Errorf("invalid gpu.vram_override %q: %w", s, err)
		}
		opts.VRAMOverride = vram
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return gpu.Detect(ctx, opts)
}

func newGPUReport(sys gpu.System) gpuReport {
	tier := sys.Tier()
	c := params.CeilingsFor(tier)
	limits := params.LimitsFor(tier)
	report := gpuReport{System: sys, Tier: tier.String(), Ceilings: map[string]int{}, Limits: map[string]int{}}
	for _, key := range params.SliderKeys {
		spec := params.SpecFor(key)
		report.Ceilings[spec.Flag] = 1 << c.MaxExp(key)
		if l := limits.Of(key); l > 0 {
			report.Limits[spec.Flag] = l
		}
	}
	return report
}

func runGPU(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	sys, err := detectSystem(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	report := newGPUReport(sys)

	if handled, err := printMachine(report); handled {
		return err
	}
	switch format := viper.GetString("output"); format {
	case "", "plain", "table":
		return printGPUReport(os.Stdout, report)
	default:
		return fmt.Errorf("unknown output format %q: available formats are [json plain table yaml]", format)
	}
}

func printGPUReport(w io.Writer, r gpuReport) error {
	fmt.Fprintf(w, "CPU cores:  %d\n", r.System.CPUCores)
	fmt.Fprintf(w, "Host RAM:   %s (%s free)\n",
		humanize.IBytes(uint64(r.System.TotalRAM)), humanize.IBytes(uint64(r.System.FreeRAM)))

	switch {
	case r.System.VRAMOverride > 0:
		fmt.Fprintf(w, "GPU:        VRAM override %s\n", humanize.IBytes(uint64(r.System.VRAMOverride)))
	case len(r.System.GPUs) == 0:
		fmt.Fprintln(w, "GPU:        none detected (nvidia-smi unavailable or no devices)")
	default:
		fmt.Fprintln(w)
		table := tablewriter.NewWriter(w)
		table.Header("Index", "Name", "VRAM", "Used", "Driver")
		for _, d := range r.System.GPUs {
			if err := table.Append(
				fmt.Sprint(d.Index),
				d.Name,
				humanize.IBytes(uint64(d.VRAM)),
				humanize.IBytes(uint64(d.VRAMUsed)),
				d.Driver,
			); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nTier:       %s\n", r.Tier)
	fmt.Fprintln(w, "Ceilings:")
	for _, key := range params.SliderKeys {
		spec := params.SpecFor(key)
		limit := "none"
		if l, ok := r.Limits[spec.Flag]; ok {
			limit = fmt.Sprint(l)
		}
		fmt.Fprintf(w, "  %-20s %-6d launch cap %s\n", spec.Name, r.Ceilings[spec.Flag], limit)
	}
	return nil
}
