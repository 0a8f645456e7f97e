// Package launcher builds the command line of the reconstruction tool and
// runs it, streaming classified progress back to the caller.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
)

// ErrToolNotConfigured is returned when no interpreter or executable is set.
var ErrToolNotConfigured = errors.New("tool not configured")

// Job is one image to reconstruct.
type Job struct {
	Input     string
	OutputDir string
	Params    params.Params
}

// Result is the outcome of one tool run.
type Result struct {
	ExitCode int
	Duration time.Duration
	Lines    int
	Err      error
}

// Succeeded reports a clean exit.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.ExitCode == 0
}

// BuildArgs maps a job onto the tool's command-line flags. Texture baking
// runs on the CPU; without it the mesh is exported as GLB.
func BuildArgs(tool config.ToolConfig, job Job) []string {
	p := job.Params
	args := make([]string, 0, 20+len(tool.ExtraArgs))
	args = append(args,
		job.Input,
		"--output-dir", job.OutputDir,
		"--mc-resolution", strconv.Itoa(p.MCResolution),
	)
	if !p.BakeTexture {
		args = append(args, "--model-save-format", "glb")
	}
	if p.ChunkSize > 0 {
		args = append(args, "--chunk-size", strconv.Itoa(p.ChunkSize))
	}
	if p.BakeTexture {
		args = append(args,
			"--bake-texture",
			"--device", "cpu",
			"--texture-resolution", strconv.Itoa(p.TextureResolution),
		)
	} else if dev := deviceArg(p.Device); dev != "" {
		args = append(args, "--device", dev)
	}
	if p.Render {
		args = append(args, "--render")
	}
	if p.RemoveBackground {
		args = append(args, "--foreground-ratio", strconv.FormatFloat(p.ForegroundRatio, 'f', -1, 64))
	} else {
		args = append(args, "--no-remove-bg")
	}
	return append(args, tool.ExtraArgs...)
}

// deviceArg returns the tool's device name; auto leaves the tool's own
// choice in place.
func deviceArg(d params.Device) string {
	switch d {
	case params.DeviceCUDA:
		return "cuda:0"
	case params.DeviceCPU:
		return "cpu"
	default:
		return ""
	}
}

// BuildCommand returns the full invocation for job. With an empty script
// the python setting names a standalone executable.
func BuildCommand(tool config.ToolConfig, job Job) (Command, error) {
	if tool.Python == "" {
		return Command{}, ErrToolNotConfigured
	}

	args := BuildArgs(tool, job)
	if tool.Script != "" {
		// A relative script resolves against Dir.
		args = append([]string{tool.Script}, args...)
	}

	return Command{
		Name: tool.Python,
		Args: args,
		Dir:  tool.WorkDir,
		Env:  envList(toolEnv(tool)),
	}, nil
}

// toolEnv adds PYTHONPATH to the configured environment when python_path
// is set. The configured directories come first.
func toolEnv(tool config.ToolConfig) map[string]string {
	if len(tool.PythonPath) == 0 {
		return tool.Env
	}
	dirs := make([]string, 0, len(tool.PythonPath)+1)
	for _, dir := range tool.PythonPath {
		if !filepath.IsAbs(dir) && tool.WorkDir != "" {
			dir = filepath.Join(tool.WorkDir, dir)
		}
		dirs = append(dirs, dir)
	}
	existing, ok := tool.Env["PYTHONPATH"]
	if !ok {
		existing = os.Getenv("PYTHONPATH")
	}
	if existing != "" {
		dirs = append(dirs, existing)
	}

	env := make(map[string]string, len(tool.Env)+1)
	for k, v := range tool.Env {
		env[k] = v
	}
	env["PYTHONPATH"] = strings.Join(dirs, string(os.PathListSeparator))
	return env
}

func absPaths(job Job) (Job, error) {
	var err error
	if job.Input, err = filepath.Abs(job.Input); err != nil {
		return job, fmt.Errorf("resolve input: %w", err)
	}
	if job.OutputDir, err = filepath.Abs(job.OutputDir); err != nil {
		return job, fmt.Errorf("resolve output dir: %w", err)
	}
	return job, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Launcher runs jobs through a Runner.
type Launcher struct {
	Tool   config.ToolConfig
	Runner Runner

	// Stdout and Stderr receive output when Run is called without a line
	// callback. They default to the process's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// New returns a launcher using the real process runner.
func New(tool config.ToolConfig) *Launcher {
	return &Launcher{
		Tool:   tool,
		Runner: ExecRunner{},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes job. The output directory is created first. onLine may be
// nil, in which case output passes straight through.
func (l *Launcher) Run(ctx context.Context, job Job, onLine func(string)) Result {
	// The tool runs in its own working directory.
	job, err := absPaths(job)
	if err != nil {
		return Result{ExitCode: -1, Err: err}
	}
	cmd, err := BuildCommand(l.Tool, job)
	if err != nil {
		return Result{ExitCode: -1, Err: err}
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return Result{ExitCode: -1, Err: fmt.Errorf("create output dir: %w", err)}
	}

	log := logging.Get("launcher")
	log.Info("starting tool", "input", job.Input, "output", job.OutputDir)
	log.Debug("command", "cmd", cmd.String(), "dir", cmd.Dir)

	cmd.Stdout, cmd.Stderr = l.Stdout, l.Stderr
	if onLine == nil {
		// Passthrough output is mirrored into the log file.
		mirror := logging.NewLineWriter(log, logging.LevelDebug)
		defer mirror.Flush()
		cmd.Stdout = tee(l.Stdout, mirror)
		cmd.Stderr = tee(l.Stderr, mirror)
	}

	res, err := l.Runner.Run(ctx, cmd, onLine)
	out := Result{
		ExitCode: res.ExitCode,
		Duration: res.Duration,
		Lines:    res.Lines,
		Err:      err,
	}

	switch {
	case err == nil:
		log.Info("tool finished", "duration", res.Duration.Round(time.Millisecond))
	case errors.Is(err, context.Canceled):
		log.Warn("tool canceled", "duration", res.Duration.Round(time.Millisecond))
	default:
		log.Error("tool failed", "exit_code", res.ExitCode, "error", err)
	}
	return out
}

func tee(w, mirror io.Writer) io.Writer {
	if w == nil {
		return mirror
	}
	return io.MultiWriter(w, mirror)
}
