// Package gpu detects the GPUs and host resources available for inference
// and maps them onto a parameter tier.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
)

// Device is one detected GPU.
type Device struct {
	Index    int    `json:"index" yaml:"index"`
	Name     string `json:"name" yaml:"name"`
	UUID     string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Driver   string `json:"driver,omitempty" yaml:"driver,omitempty"`
	VRAM     int64  `json:"vram" yaml:"vram"`
	VRAMUsed int64  `json:"vram_used" yaml:"vram_used"`
}

// System describes the machine a run will execute on.
type System struct {
	GPUs     []Device `json:"gpus" yaml:"gpus"`
	CPUCores int      `json:"cpu_cores" yaml:"cpu_cores"`
	TotalRAM int64    `json:"total_ram" yaml:"total_ram"`
	FreeRAM  int64    `json:"free_ram" yaml:"free_ram"`

	// VRAMOverride replaces detected VRAM when positive.
	VRAMOverride int64 `json:"vram_override,omitempty" yaml:"vram_override,omitempty"`
}

// HasGPU reports whether at least one GPU was found or VRAM was overridden.
func (s System) HasGPU() bool {
	return len(s.GPUs) > 0 || s.VRAMOverride > 0
}

// PrimaryVRAM returns the total VRAM of the largest GPU, or the override.
func (s System) PrimaryVRAM() int64 {
	if s.VRAMOverride > 0 {
		return s.VRAMOverride
	}
	var best int64
	for _, d := range s.GPUs {
		best = max(best, d.VRAM)
	}
	return best
}

// Tier returns the parameter tier for the primary GPU.
func (s System) Tier() params.Tier {
	return params.TierForVRAM(s.PrimaryVRAM())
}

// Options control detection.
type Options struct {
	// VRAMOverride skips nvidia-smi and reports this much VRAM.
	VRAMOverride int64

	// SMIPath is the nvidia-smi binary; empty means look it up in PATH.
	SMIPath string
}

// querySMI runs nvidia-smi and returns its XML report.
var querySMI = func(ctx context.Context, bin string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, bin, "-q", "-x").Output()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// hostInfo reports logical cores, total RAM and available RAM.
var hostInfo = func(ctx context.Context) (int, int64, int64, error) {
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return cores, 0, 0, fmt.Errorf("read host memory: %w", err)
	}
	return cores, int64(vm.Total), int64(vm.Available), nil
}

// Detect inspects the host. A missing nvidia-smi is not an error; the
// system then reports no GPUs.
func Detect(ctx context.Context, opts Options) (System, error) {
	var sys System

	cores, total, free, err := hostInfo(ctx)
	sys.CPUCores, sys.TotalRAM, sys.FreeRAM = cores, total, free
	if err != nil {
		return sys, err
	}

	if opts.VRAMOverride > 0 {
		sys.VRAMOverride = opts.VRAMOverride
		return sys, nil
	}

	bin := opts.SMIPath
	if bin == "" {
		bin = "nvidia-smi"
	}
	out, err := querySMI(ctx, bin)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || isExitError(err) {
			return sys, nil
		}
		return sys, fmt.Errorf("query nvidia-smi: %w", err)
	}

	gpus, err := ParseSMI(out)
	if err != nil {
		return sys, err
	}
	sys.GPUs = gpus
	return sys, nil
}

// isExitError covers nvidia-smi being installed without a working driver.
func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
