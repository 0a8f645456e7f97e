package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/jamesainslie/meshgen/pkg/meshgen/events"
	"github.com/jamesainslie/meshgen/pkg/meshgen/history"
	"github.com/jamesainslie/meshgen/pkg/meshgen/launcher"
	"github.com/jamesainslie/meshgen/pkg/meshgen/metrics"
	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
	"github.com/jamesainslie/meshgen/pkg/meshgen/session"
	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

// fakeTool plays back lines and writes the tool's output layout under
// --output-dir: 0/input.png and 0/mesh.obj, or mesh.glb without baking.
type fakeTool struct {
	lines    []string
	exitCode int
	block    bool
	commands []launcher.Command
}

func (f *fakeTool) Run(ctx context.Context, cmd launcher.Command, onLine func(string)) (launcher.ExecResult, error) {
	f.commands = append(f.commands, cmd)
	for _, l := range f.lines {
		onLine(l)
	}
	if f.block {
		<-ctx.Done()
		return launcher.ExecResult{ExitCode: -1}, ctx.Err()
	}
	if f.exitCode != 0 {
		return launcher.ExecResult{ExitCode: f.exitCode, Lines: len(f.lines)},
			&launcher.ExitError{Command: cmd.Name, Code: f.exitCode}
	}
	dir := filepath.Join(argValue(cmd.Args, "--output-dir"), "0")
	mesh := "mesh.glb"
	if hasArg(cmd.Args, "--bake-texture") {
		mesh = "mesh.obj"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return launcher.ExecResult{ExitCode: 1}, err
	}
	for _, name := range []string{"input.png", mesh} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644); err != nil {
			return launcher.ExecResult{ExitCode: 1}, err
		}
	}
	return launcher.ExecResult{Lines: len(f.lines), Duration: time.Second}, nil
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

var successLines = []string{
	"2024-05-01 10:00:00,000 - INFO - Initializing model ...",
	"2024-05-01 10:00:05,000 - INFO - Running model ...",
	" 50%|#####     | 15/30",
	"2024-05-01 10:00:06,000 - INFO - Extracting mesh ...",
	"2024-05-01 10:00:07,000 - INFO - Exporting mesh and texture ...",
}

func newSession(t *testing.T, tool *fakeTool, tier params.Tier) (*session.Session, *history.Store, *events.Broadcaster) {
	t.Helper()
	store, err := history.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := events.New()
	t.Cleanup(b.Close)

	s := session.New(session.Options{
		Tool:    config.ToolConfig{Python: "python", Script: "run.py"},
		Runner:  tool,
		Tier:    tier,
		Events:  b,
		History: store,
		Metrics: metrics.New(),
	})
	return s, store, b
}

func TestRunBatchSingleImage(t *testing.T) {
	tool := &fakeTool{lines: successLines}
	s, store, b := newSession(t, tool, params.TierHigh)
	sub := b.Subscribe(events.EventStarted, events.EventStage, events.EventFinished)

	out := filepath.Join(t.TempDir(), "out")
	result, err := s.RunBatch(context.Background(), []string{"/img/chair.png"}, out, params.Default())
	require.NoError(t, err)

	require.Len(t, result.Runs, 1)
	run := result.Runs[0]
	assert.Equal(t, types.OutcomeSucceeded, run.Outcome)
	assert.Equal(t, "Done", run.Stage)
	assert.Equal(t, 100.0, run.Percent)
	require.Len(t, run.Artifacts, 1)
	assert.Equal(t, filepath.Join(out, "0", "mesh.obj"), run.Artifacts[0].Path)
	assert.Empty(t, result.Adjustments)
	assert.Empty(t, run.Previews)
	assert.FileExists(t, filepath.Join(out, "0", "input.png"))

	rec, err := store.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSucceeded, rec.Outcome)
	assert.Len(t, rec.Artifacts, 1)

	var got []events.Type
	var stages []string
	for len(sub.Events) > 0 {
		ev := <-sub.Events
		got = append(got, ev.Type)
		if ev.Type == events.EventStage {
			stages = append(stages, ev.Stage)
		}
	}
	assert.Equal(t, events.EventStarted, got[0])
	assert.Equal(t, events.EventFinished, got[len(got)-1])
	assert.Equal(t, []string{"Initializing model", "Running model", "Extracting mesh", "Exporting mesh"}, stages)
}

func TestRunBatchMultipleImages(t *testing.T) {
	tool := &fakeTool{lines: successLines}
	s, _, _ := newSession(t, tool, params.TierHigh)

	out := t.TempDir()
	result, err := s.RunBatch(context.Background(), []string{"/img/a.png", "/img/b.png"}, out, params.Default())
	require.NoError(t, err)

	require.Len(t, result.Runs, 2)
	assert.Equal(t, filepath.Join(out, "a"), result.Runs[0].OutputDir)
	assert.Equal(t, filepath.Join(out, "b"), result.Runs[1].OutputDir)
	assert.Equal(t, 2, result.Succeeded())
	assert.Len(t, tool.commands, 2)
}

func TestRunBatchClampsToTier(t *testing.T) {
	tool := &fakeTool{lines: successLines}
	s, _, _ := newSession(t, tool, params.TierCPU)

	p := params.Default()
	p.ChunkSize = 8192
	result, err := s.RunBatch(context.Background(), []string{"/img/a.png"}, t.TempDir(), p)
	require.NoError(t, err)

	assert.Equal(t, "cpu", result.Tier)
	assert.Equal(t, []string{"mc-resolution: 512 -> 256", "chunk-size: 8192 -> 4096"}, result.Adjustments)
	assert.Equal(t, 256, result.Params.MCResolution)
	assert.Equal(t, "256", argValue(tool.commands[0].Args, "--mc-resolution"))
	assert.Equal(t, "4096", argValue(tool.commands[0].Args, "--chunk-size"))
	assert.InDelta(t, 32.0, result.LoadScore, 1e-9)
}

func TestRunBatchSafeModeRunsBeforeClamp(t *testing.T) {
	tool := &fakeTool{lines: successLines}
	s, _, _ := newSession(t, tool, params.TierCPU)

	p := params.Default()
	p.SafeMode = true
	p.Render = true
	result, err := s.RunBatch(context.Background(), []string{"/img/a.png"}, t.TempDir(), p)
	require.NoError(t, err)

	args := tool.commands[0].Args
	assert.Equal(t, "96", argValue(args, "--mc-resolution"))
	assert.Equal(t, "16", argValue(args, "--chunk-size"))
	assert.Equal(t, "512", argValue(args, "--texture-resolution"))
	assert.False(t, hasArg(args, "--render"))
	assert.Equal(t, []string{"mc-resolution: 512 -> 96", "texture-resolution: 1024 -> 512", "render: true -> false"}, result.Adjustments)
}

func TestRunBatchDeletesPreviews(t *testing.T) {
	tool := &fakeTool{lines: successLines}
	s, _, _ := newSession(t, tool, params.TierHigh)

	p := params.Default()
	p.DeletePreview = true
	p.BakeTexture = false
	out := t.TempDir()
	result, err := s.RunBatch(context.Background(), []string{"/img/a.png"}, out, p)
	require.NoError(t, err)

	run := result.Runs[0]
	assert.Equal(t, []string{filepath.Join(out, "0", "input.png")}, run.Previews)
	assert.NoFileExists(t, filepath.Join(out, "0", "input.png"))
	require.Len(t, run.Artifacts, 1)
	assert.Equal(t, filepath.Join(out, "0", "mesh.glb"), run.Artifacts[0].Path)
	assert.Equal(t, "glb", argValue(tool.commands[0].Args, "--model-save-format"))
}

func TestRunBatchKeepsPreviewsOfFailedRuns(t *testing.T) {
	out := t.TempDir()
	preview := filepath.Join(out, "0", "input.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(preview), 0o755))
	require.NoError(t, os.WriteFile(preview, []byte("png"), 0o644))

	tool := &fakeTool{lines: []string{"RuntimeError: boom"}, exitCode: 1}
	s, _, _ := newSession(t, tool, params.TierHigh)
	p := params.Default()
	p.DeletePreview = true

	result, err := s.RunBatch(context.Background(), []string{"/img/a.png"}, out, p)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailed, result.Runs[0].Outcome)
	assert.FileExists(t, preview)
}

func TestPlanNeedsConfirmation(t *testing.T) {
	s, _, _ := newSession(t, &fakeTool{}, params.TierLow)
	p := params.Default()
	p.TextureResolution = 4096

	plan, err := s.Plan(p)
	require.NoError(t, err)
	assert.True(t, plan.NeedsConfirmation())
	assert.Equal(t, params.TierLow, plan.Tier)
	assert.Equal(t, 2048, plan.Params.TextureResolution)
}

func TestRunBatchInvalidParams(t *testing.T) {
	s, _, _ := newSession(t, &fakeTool{}, params.TierHigh)
	p := params.Default()
	p.MCResolution = 100

	_, err := s.RunBatch(context.Background(), []string{"/img/a.png"}, t.TempDir(), p)
	assert.ErrorIs(t, err, params.ErrInvalidParam)
}

func TestRunOneFailureCarriesHint(t *testing.T) {
	tool := &fakeTool{
		lines:    []string{"Initializing model ...", "Running model ...", "RuntimeError: CUDA out of memory."},
		exitCode: 1,
	}
	s, _, _ := newSession(t, tool, params.TierHigh)

	result, err := s.RunBatch(context.Background(), []string{"/img/a.png"}, t.TempDir(), params.Default())
	require.NoError(t, err)

	run := result.Runs[0]
	assert.Equal(t, types.OutcomeFailed, run.Outcome)
	assert.Equal(t, 1, run.ExitCode)
	assert.Equal(t, "Running model", run.Stage)
	assert.Contains(t, run.Error, "CUDA out of memory")
	assert.NotEmpty(t, run.Hint)
	assert.Empty(t, run.Artifacts)
}

func TestRunBatchCanceled(t *testing.T) {
	tool := &fakeTool{lines: []string{"Initializing model ..."}, block: true}
	s, _, _ := newSession(t, tool, params.TierHigh)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result, err := s.RunBatch(ctx, []string{"/img/a.png", "/img/b.png"}, t.TempDir(), params.Default())
	require.NoError(t, err)

	assert.True(t, result.Interrupted)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, types.OutcomeCanceled, result.Runs[0].Outcome)
}
