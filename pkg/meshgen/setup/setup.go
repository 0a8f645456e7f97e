// Package setup installs the Python dependencies of the reconstruction
// tool. The tensor library is switched to its CPU build while the marching
// cubes extension compiles and back to the CUDA build afterwards; a marker
// file skips both switches once the extension imports.
package setup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yaklabco/stave/pkg/sh"

	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/jamesainslie/meshgen/pkg/meshgen/launcher"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
)

// ErrRequiredStep wraps the failure of a step the installation cannot continue without.
var ErrRequiredStep = errors.New("required setup step failed")

// capture runs a short command and returns its trimmed output.
var capture = sh.Output

// Step names, in execution order.
const (
	StepPython        = "python"
	StepPatch         = "patch-requirements"
	StepTorchCPU      = "torch-cpu"
	StepPrePackages   = "pre-packages"
	StepRequirements  = "requirements"
	StepMarchingCubes = "torchmcubes"
	StepOptional      = "optional-packages"
	StepRequired      = "required-packages"
	StepTorchCUDA     = "torch-cuda"
	StepForce         = "force-packages"
	StepLocal         = "local-packages"
	StepVerify        = "verify"
)

// Status is the outcome of one step.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusPlanned Status = "planned"
)

// StepResult reports a finished (or planned) step.
type StepResult struct {
	Name     string        `json:"name" yaml:"name"`
	Status   Status        `json:"status" yaml:"status"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Commands []string      `json:"commands,omitempty" yaml:"commands,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Err      error         `json:"-" yaml:"-"`
}

// Report summarises an installation.
type Report struct {
	Steps         []StepResult `json:"steps" yaml:"steps"`
	Skipped       bool         `json:"skipped" yaml:"skipped"`
	DryRun        bool         `json:"dry_run" yaml:"dry_run"`
	MarkerFound   bool         `json:"marker_found" yaml:"marker_found"`
	PythonVersion string       `json:"python_version,omitempty" yaml:"python_version,omitempty"`
	TorchVersion  string       `json:"torch_version,omitempty" yaml:"torch_version,omitempty"`
	TorchBuild    string       `json:"torch_build,omitempty" yaml:"torch_build,omitempty"`
	CUDAAvailable bool         `json:"cuda_available" yaml:"cuda_available"`
}

// Options control a run of the installer.
type Options struct {
	// Force reinstalls even when a previous installation completed.
	Force bool
	// DryRun lists the steps without executing anything.
	DryRun bool
	// CPUOnly keeps the CPU build of the tensor library even with a GPU.
	CPUOnly bool
}

// Installer runs the dependency installation.
type Installer struct {
	cfg    *config.Config
	runner launcher.Runner
	hasGPU bool

	// StampPath marks a completed installation.
	StampPath string
	// MarkerPath is written once the marching cubes extension imports.
	// While it exists the tensor library is not reinstalled.
	MarkerPath string
	// CacheDir receives the patched requirements file.
	CacheDir string
	// OnStep is called after every step.
	OnStep func(StepResult)
	// OnLine receives output of the package manager.
	OnLine func(string)
}

// New returns an installer. hasGPU selects the CUDA build of the tensor library.
func New(cfg *config.Config, runner launcher.Runner, hasGPU bool) *Installer {
	return &Installer{
		cfg:        cfg,
		runner:     runner,
		hasGPU:     hasGPU,
		StampPath:  config.SetupStampPath(),
		MarkerPath: cfg.MarkerPath(),
		CacheDir:   config.CacheDir(),
	}
}

// Installed reports whether a previous run completed.
func (i *Installer) Installed() bool {
	_, err := os.Stat(i.StampPath)
	return err == nil
}

// MarkerExists reports whether the marching cubes marker is present.
func (i *Installer) MarkerExists() bool {
	if i.MarkerPath == "" {
		return false
	}
	_, err := os.Stat(i.MarkerPath)
	return err == nil
}

// PatchedRequirementsPath is where the patched requirements file is written.
func (i *Installer) PatchedRequirementsPath() string {
	return filepath.Join(i.CacheDir, "requirements.txt")
}

type step struct {
	name     string
	required bool
	fn       func(context.Context, Options, *Report) StepResult
}

func (i *Installer) steps() []step {
	return []step{
		{StepPython, true, i.checkPython},
		{StepPatch, true, i.patchRequirements},
		{StepTorchCPU, true, i.installTorchCPU},
		{StepPrePackages, false, i.installPrePackages},
		{StepRequirements, true, i.installRequirements},
		{StepMarchingCubes, false, i.checkMarchingCubes},
		{StepOptional, false, i.installOptional},
		{StepRequired, true, i.installRequired},
		{StepTorchCUDA, false, i.installTorchCUDA},
		{StepForce, true, i.forcePackages},
		{StepLocal, false, i.installLocalPackages},
		{StepVerify, true, i.verify},
	}
}

// Run performs the installation. Optional steps that fail are reported as
// warnings; the first required failure stops the run.
func (i *Installer) Run(ctx context.Context, opts Options) (Report, error) {
	log := logging.Get("setup")
	report := Report{DryRun: opts.DryRun}

	if !opts.Force && !opts.DryRun && i.Installed() {
		log.Info("dependencies already installed", "stamp", i.StampPath)
		report.Skipped = true
		return report, nil
	}

	report.MarkerFound = i.MarkerExists()
	if opts.DryRun {
		report.Steps = i.Plan(opts)
		for _, s := range report.Steps {
			i.emit(s)
		}
		return report, nil
	}
	if report.MarkerFound {
		log.Info("marching cubes marker found, keeping the installed torch build", "marker", i.MarkerPath)
	}

	for _, s := range i.steps() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		start := time.Now()
		res := s.fn(ctx, opts, &report)
		res.Name = s.name
		res.Duration = time.Since(start)

		switch {
		case res.Err != nil && s.required:
			res.Status = StatusFailed
			log.Error("setup step failed", "step", s.name, "error", res.Err)
		case res.Err != nil:
			res.Status = StatusWarning
			log.Warn("optional setup step failed", "step", s.name, "error", res.Err)
		case res.Status == StatusSkipped:
			log.Info("setup step skipped", "step", s.name, "reason", res.Detail)
		case res.Status == "":
			res.Status = StatusOK
			log.Info("setup step done", "step", s.name, "duration", res.Duration.Round(time.Millisecond))
		}

		report.Steps = append(report.Steps, res)
		i.emit(res)

		if res.Status == StatusFailed {
			return report, fmt.Errorf("%w: %s: %w", ErrRequiredStep, s.name, res.Err)
		}
	}

	if err := i.writeStamp(report); err != nil {
		return report, err
	}
	return report, nil
}

// Plan lists the steps and commands Run would execute. Steps Run would
// skip carry StatusSkipped and the reason.
func (i *Installer) Plan(opts Options) []StepResult {
	py := i.cfg.Tool.Python
	sc := i.cfg.Setup
	marker := i.MarkerExists()

	plan := []StepResult{
		{Name: StepPython, Commands: []string{py + " --version"}},
		{Name: StepPatch, Detail: fmt.Sprintf("%s -> %s", i.cfg.RequirementsPath(), i.PatchedRequirementsPath())},
	}

	torchCPU := StepResult{Name: StepTorchCPU}
	if reason := i.torchCPUSkip(marker); reason != "" {
		torchCPU.Status, torchCPU.Detail = StatusSkipped, reason
	} else {
		torchCPU.Commands = []string{i.reinstallTorchFrom(sc.CPUIndexURL).String()}
	}
	plan = append(plan,
		torchCPU,
		i.planInstall(StepPrePackages, sc.PrePackages),
		StepResult{Name: StepRequirements, Commands: []string{i.pip("install", "-r", i.PatchedRequirementsPath()).String()}},
		StepResult{Name: StepMarchingCubes, Detail: "marker " + i.MarkerPath,
			Commands: []string{py + " -c " + fmt.Sprintf("%q", importMarchingCubes)}},
		i.planInstall(StepOptional, sc.OptionalPackages),
		i.planInstall(StepRequired, sc.RequiredPackages),
	)

	torchCUDA := StepResult{Name: StepTorchCUDA}
	if reason := i.torchCUDASkip(marker, opts); reason != "" {
		torchCUDA.Status, torchCUDA.Detail = StatusSkipped, reason
	} else {
		torchCUDA.Commands = []string{i.reinstallTorchFrom(sc.CUDAIndexURL).String()}
	}
	force := StepResult{Name: StepForce}
	if len(sc.ForcePackages) == 0 {
		force.Status, force.Detail = StatusSkipped, "nothing configured"
	} else {
		force.Commands = []string{i.forceReinstall(sc.ForcePackages...).String()}
	}
	local := StepResult{Name: StepLocal}
	if len(sc.LocalPackages) == 0 {
		local.Status, local.Detail = StatusSkipped, "nothing configured"
	}
	for _, pkg := range sc.LocalPackages {
		local.Commands = append(local.Commands, i.pip("install", "-e", pkg).String())
	}
	plan = append(plan, torchCUDA, force, local,
		StepResult{Name: StepVerify, Commands: []string{py + " -c " + fmt.Sprintf("%q", verifyScript)}})

	for n := range plan {
		if plan[n].Status == "" {
			plan[n].Status = StatusPlanned
		}
	}
	return plan
}

func (i *Installer) planInstall(name string, pkgs []string) StepResult {
	if len(pkgs) == 0 {
		return StepResult{Name: name, Status: StatusSkipped, Detail: "nothing configured"}
	}
	return StepResult{Name: name, Commands: []string{i.pip(append([]string{"install"}, pkgs...)...).String()}}
}

// torchCPUSkip returns why the CPU build switch is skipped, or "".
func (i *Installer) torchCPUSkip(marker bool) string {
	if marker {
		return "marching cubes marker present"
	}
	return ""
}

// torchCUDASkip returns why the CUDA build switch is skipped, or "".
func (i *Installer) torchCUDASkip(marker bool, opts Options) string {
	switch {
	case marker:
		return "marching cubes marker present"
	case opts.CPUOnly:
		return "cpu build requested"
	case !i.hasGPU:
		return "no NVIDIA GPU"
	}
	return ""
}

func (i *Installer) emit(res StepResult) {
	if i.OnStep != nil {
		i.OnStep(res)
	}
}

func (i *Installer) checkPython(_ context.Context, _ Options, report *Report) StepResult {
	out, err := capture(i.cfg.Tool.Python, "--version")
	if err != nil {
		return StepResult{Err: fmt.Errorf("python not usable (%s): %w", i.cfg.Tool.Python, err)}
	}
	report.PythonVersion = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "Python"))
	return StepResult{Detail: strings.TrimSpace(out)}
}

func (i *Installer) patchRequirements(_ context.Context, _ Options, _ *Report) StepResult {
	src := i.cfg.RequirementsPath()
	f, err := os.Open(src)
	if err != nil {
		return StepResult{Err: fmt.Errorf("open requirements: %w", err)}
	}
	defer f.Close()

	patched, changes, err := PatchRequirements(f, i.cfg.Setup.TorchPackages, i.cfg.Setup.Pins)
	if err != nil {
		return StepResult{Err: err}
	}

	if err := os.MkdirAll(i.CacheDir, 0o755); err != nil {
		return StepResult{Err: fmt.Errorf("create cache dir: %w", err)}
	}
	if err := os.WriteFile(i.PatchedRequirementsPath(), []byte(patched), 0o644); err != nil {
		return StepResult{Err: fmt.Errorf("write patched requirements: %w", err)}
	}

	log := logging.Get("setup")
	for _, c := range changes {
		log.Debug("requirements patched", "change", c.String())
	}
	return StepResult{Detail: fmt.Sprintf("%d changes", len(changes))}
}

// installTorchCPU puts the CPU build in place so the marching cubes
// extension compiles against it.
func (i *Installer) installTorchCPU(ctx context.Context, _ Options, report *Report) StepResult {
	if reason := i.torchCPUSkip(report.MarkerFound); reason != "" {
		return StepResult{Status: StatusSkipped, Detail: reason}
	}
	res := i.runCommands(ctx, i.reinstallTorchFrom(i.cfg.Setup.CPUIndexURL))
	if res.Err == nil {
		report.TorchBuild = "cpu"
		res.Detail = "cpu build"
	}
	return res
}

func (i *Installer) installPrePackages(ctx context.Context, _ Options, _ *Report) StepResult {
	return i.installPackages(ctx, i.cfg.Setup.PrePackages)
}

func (i *Installer) installRequirements(ctx context.Context, _ Options, _ *Report) StepResult {
	return i.runCommands(ctx, i.pip("install", "-r", i.PatchedRequirementsPath()))
}

const importMarchingCubes = "import torchmcubes"

// checkMarchingCubes writes the marker once the extension imports. Without
// it the tool falls back to a slower implementation.
func (i *Installer) checkMarchingCubes(_ context.Context, _ Options, _ *Report) StepResult {
	res := StepResult{Commands: []string{i.cfg.Tool.Python + " -c " + fmt.Sprintf("%q", importMarchingCubes)}}
	if _, err := capture(i.cfg.Tool.Python, "-c", importMarchingCubes); err != nil {
		res.Err = fmt.Errorf("torchmcubes does not import, the tool will use its fallback: %w", err)
		return res
	}
	if i.MarkerPath == "" {
		res.Detail = "imports"
		return res
	}
	if err := os.MkdirAll(filepath.Dir(i.MarkerPath), 0o755); err != nil {
		res.Err = fmt.Errorf("create marker dir: %w", err)
		return res
	}
	if err := os.WriteFile(i.MarkerPath, []byte("ok"), 0o644); err != nil {
		res.Err = fmt.Errorf("write marker: %w", err)
		return res
	}
	res.Detail = "imports, marker written"
	return res
}

func (i *Installer) installOptional(ctx context.Context, _ Options, _ *Report) StepResult {
	return i.installPackages(ctx, i.cfg.Setup.OptionalPackages)
}

func (i *Installer) installRequired(ctx context.Context, _ Options, _ *Report) StepResult {
	return i.installPackages(ctx, i.cfg.Setup.RequiredPackages)
}

// installTorchCUDA switches back to the CUDA build for inference. When it
// fails the CPU build stays in place.
func (i *Installer) installTorchCUDA(ctx context.Context, opts Options, report *Report) StepResult {
	if reason := i.torchCUDASkip(report.MarkerFound, opts); reason != "" {
		return StepResult{Status: StatusSkipped, Detail: reason}
	}
	res := i.runCommands(ctx, i.reinstallTorchFrom(i.cfg.Setup.CUDAIndexURL))
	if res.Err != nil {
		res.Err = fmt.Errorf("cuda build not installed, keeping the cpu build: %w", res.Err)
		return res
	}
	report.TorchBuild = "cuda"
	res.Detail = "cuda build"
	return res
}

// forcePackages reinstalls packages that earlier steps may have upgraded
// past a compatible version.
func (i *Installer) forcePackages(ctx context.Context, _ Options, _ *Report) StepResult {
	pkgs := i.cfg.Setup.ForcePackages
	if len(pkgs) == 0 {
		return StepResult{Status: StatusSkipped, Detail: "nothing configured"}
	}
	return i.runCommands(ctx, i.forceReinstall(pkgs...))
}

func (i *Installer) installLocalPackages(ctx context.Context, _ Options, _ *Report) StepResult {
	if len(i.cfg.Setup.LocalPackages) == 0 {
		return StepResult{Status: StatusSkipped, Detail: "nothing configured"}
	}
	var errs []error
	installed := 0
	for _, pkg := range i.cfg.Setup.LocalPackages {
		res := i.runCommands(ctx, i.pip("install", "-e", pkg))
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pkg, res.Err))
			continue
		}
		installed++
	}
	return StepResult{
		Detail: fmt.Sprintf("%d of %d installed", installed, len(i.cfg.Setup.LocalPackages)),
		Err:    errors.Join(errs...),
	}
}

func (i *Installer) installPackages(ctx context.Context, pkgs []string) StepResult {
	if len(pkgs) == 0 {
		return StepResult{Status: StatusSkipped, Detail: "nothing configured"}
	}
	res := i.runCommands(ctx, i.pip(append([]string{"install"}, pkgs...)...))
	if res.Err == nil {
		res.Detail = strings.Join(pkgs, ", ")
	}
	return res
}

const verifyScript = "import torch; print(torch.__version__, torch.cuda.is_available())"

func (i *Installer) verify(_ context.Context, _ Options, report *Report) StepResult {
	out, err := capture(i.cfg.Tool.Python, "-c", verifyScript)
	if err != nil {
		return StepResult{Err: fmt.Errorf("import torch: %w", err)}
	}
	version, cuda, err := parseVerify(out)
	if err != nil {
		return StepResult{Err: err}
	}
	report.TorchVersion = version
	report.CUDAAvailable = cuda
	if report.TorchBuild == "" {
		report.TorchBuild = buildOf(version, cuda)
	}

	res := StepResult{Detail: fmt.Sprintf("torch %s, cuda available: %t", version, cuda)}
	if i.hasGPU && report.TorchBuild == "cuda" && !cuda {
		res.Status = StatusWarning
		res.Detail += " (GPU detected but CUDA is not usable)"
	}
	return res
}

// buildOf names the build of an installed tensor library the installer
// did not switch itself.
func buildOf(version string, cuda bool) string {
	switch {
	case strings.Contains(version, "+cpu"):
		return "cpu"
	case strings.Contains(version, "+cu"), cuda:
		return "cuda"
	}
	return "unknown"
}

// parseVerify reads "<version> <True|False>" from the last output line.
func parseVerify(out string) (string, bool, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) != 2 {
		return "", false, fmt.Errorf("unexpected verify output %q", out)
	}
	return fields[0], fields[1] == "True", nil
}

func (i *Installer) pip(args ...string) launcher.Command {
	return launcher.Command{
		Name: i.cfg.Tool.Python,
		Args: append([]string{"-m", "pip"}, args...),
		Dir:  i.cfg.ToolDir(),
	}
}

// forceReinstall replaces pkgs without touching their dependencies.
func (i *Installer) forceReinstall(pkgs ...string) launcher.Command {
	return i.pip(append([]string{"install", "--force-reinstall", "--no-deps"}, pkgs...)...)
}

func (i *Installer) reinstallTorchFrom(index string) launcher.Command {
	cmd := i.forceReinstall(i.cfg.Setup.TorchPackages...)
	cmd.Args = append(cmd.Args, "--index-url", index)
	return cmd
}

func (i *Installer) runCommands(ctx context.Context, cmds ...launcher.Command) StepResult {
	log := logging.Get("tool")
	res := StepResult{}
	for _, cmd := range cmds {
		res.Commands = append(res.Commands, cmd.String())
		_, err := i.runner.Run(ctx, cmd, func(line string) {
			log.Debug(line)
			if i.OnLine != nil {
				i.OnLine(line)
			}
		})
		if err != nil {
			res.Err = err
			return res
		}
	}
	return res
}

func (i *Installer) writeStamp(report Report) error {
	if err := os.MkdirAll(filepath.Dir(i.StampPath), 0o755); err != nil {
		return fmt.Errorf("create stamp dir: %w", err)
	}
	content := fmt.Sprintf("completed: %s\npython: %s\ntorch: %s (%s)\ncuda: %t\n",
		time.Now().UTC().Format(time.RFC3339), report.PythonVersion,
		report.TorchVersion, report.TorchBuild, report.CUDAAvailable)
	if err := os.WriteFile(i.StampPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write stamp: %w", err)
	}
	return nil
}

// ClearStamp forgets a completed installation.
func (i *Installer) ClearStamp() error {
	if err := os.Remove(i.StampPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stamp: %w", err)
	}
	return nil
}
