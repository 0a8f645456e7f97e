package classify

import (
	"strings"
	"testing"
)

func TestLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		kind     Kind
		stage    string
		fraction float64
	}{
		{"empty", "   ", KindOther, "", 0},
		{"noise", "Global seed set to 42", KindOther, "", 0},
		{"init", "2024-05-01 10:00:00,123 - INFO - Initializing model ...", KindStage, "Initializing model", 0},
		{"init finished", "2024-05-01 10:00:09,456 - INFO - Initializing model finished in 9333.12ms.", KindStage, "Initializing model", 0},
		{"bare message", "Extracting mesh ...", KindStage, "Extracting mesh", 0},
		{"case insensitive", "PROCESSING IMAGES ...", KindStage, "Processing images", 0},
		{"running image", "2024-05-01 10:00:10,000 - INFO - Running image 1/1 ...", KindStage, "Running image", 0},
		{"running model", "2024-05-01 10:00:10,001 - INFO - Running model ...", KindStage, "Running model", 0},
		{"render", "2024-05-01 10:00:11,000 - INFO - Rendering ...", KindStage, "Rendering", 0},
		{"bake", "2024-05-01 10:00:12,000 - INFO - Baking texture ...", KindStage, "Baking texture", 0},
		{"export with texture", "2024-05-01 10:00:13,000 - INFO - Exporting mesh and texture ...", KindStage, "Exporting mesh", 0},
		{"export", "2024-05-01 10:00:13,000 - INFO - Exporting mesh ...", KindStage, "Exporting mesh", 0},
		{"export finished", "2024-05-01 10:00:14,000 - INFO - Exporting mesh finished in 812.50ms.", KindStage, "Export finished", 0},
		{"echoed arguments", "python run.py chair.png --bake-texture --texture-resolution 1024 --render", KindOther, "", 0},
		{"stage word in a path", "saved to outputs/extracting mesh/0/mesh.obj", KindOther, "", 0},
		{"bare tqdm", "model.ckpt:  40%|####      | 671M/1.68G [00:04<00:06]", KindProgress, "", 0.4},
		{"oom", "torch.OutOfMemoryError: CUDA out of memory. Tried to allocate 2.00 GiB", KindError, "", 0},
		{"no cuda", "AssertionError: Torch not compiled with CUDA enabled", KindError, "", 0},
		{"module", "ModuleNotFoundError: No module named 'torchmcubes'", KindError, "", 0},
		{"traceback", "Traceback (most recent call last):", KindError, "", 0},
		{"exception", "RuntimeError: something broke", KindError, "", 0},
		{"argparse", "run.py: error: unrecognized arguments: --octree-resolution", KindError, "", 0},
		{"logged error", "2024-05-01 10:00:13,000 - ERROR - export failed", KindError, "", 0},
		{"user warning", "/venv/lib/python3.10/site-packages/torch/functional.py:504: UserWarning: torch.meshgrid: an error: is raised in a future release", KindOther, "", 0},
		{"warning with error word", "UserWarning: error: deprecated option", KindOther, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Line(tt.line)
			if got.Kind != tt.kind {
				t.Fatalf("Line(%q).Kind = %v, want %v", tt.line, got.Kind, tt.kind)
			}
			if got.Stage.Name != tt.stage {
				t.Errorf("stage = %q, want %q", got.Stage.Name, tt.stage)
			}
			if got.Fraction != tt.fraction {
				t.Errorf("fraction = %v, want %v", got.Fraction, tt.fraction)
			}
		})
	}
}

func TestErrorHints(t *testing.T) {
	oom := Line("RuntimeError: CUDA out of memory.")
	if oom.Label != "CUDA out of memory" || oom.Hint == "" {
		t.Errorf("oom = %+v", oom)
	}
	missing := Line("ModuleNotFoundError: No module named 'torch'")
	if missing.Hint == "" {
		t.Error("missing module hint is empty")
	}
	args := Line("run.py: error: argument --mc-resolution: invalid int value: 'x'")
	if args.Label != "Invalid tool arguments" || !strings.Contains(args.Hint, "extra_args") {
		t.Errorf("argparse = %+v", args)
	}
}

func TestStagesOrdered(t *testing.T) {
	stages := Stages()
	if len(stages) != 9 {
		t.Fatalf("len(Stages()) = %d, want 9", len(stages))
	}
	for i := 1; i < len(stages); i++ {
		if stages[i].Percent <= stages[i-1].Percent {
			t.Errorf("stage %q (%d%%) not after %q (%d%%)",
				stages[i].Name, stages[i].Percent, stages[i-1].Name, stages[i-1].Percent)
		}
	}
}

func TestTrackerMonotonic(t *testing.T) {
	tr := NewTracker()
	lines := []string{
		"Initializing model ...",
		"Running model ...",
		"model.ckpt:  50%|#####     | 840M/1.68G",
		"Initializing model finished in 10.00ms.",
		"model.ckpt:  20%|##        | 336M/1.68G",
		"Extracting mesh ...",
	}
	last := -1.0
	for _, l := range lines {
		tr.Observe(l)
		if p := tr.Percent(); p < last {
			t.Fatalf("progress went backwards on %q: %v < %v", l, p, last)
		} else {
			last = p
		}
	}
	if tr.Stage().Name != "Extracting mesh" {
		t.Errorf("Stage() = %q, want Extracting mesh", tr.Stage().Name)
	}
}

func TestTrackerInterpolates(t *testing.T) {
	tr := NewTracker()
	tr.Observe("Running model ...")
	tr.Observe(" 50%|#####     | 15/30")
	// halfway between 40 and 55
	if got := tr.Percent(); got != 47.5 {
		t.Errorf("Percent() = %v, want 47.5", got)
	}
}

func TestTrackerFailure(t *testing.T) {
	tr := NewTracker()
	tr.Observe("Running model ...")
	tr.Observe("torch.cuda.OutOfMemoryError: CUDA out of memory.")
	tr.Observe("RuntimeError: aborting")

	if !tr.Failed() {
		t.Fatal("Failed() = false")
	}
	label, hint, line := tr.Error()
	if label != "CUDA out of memory" || !strings.Contains(hint, "safe mode") {
		t.Errorf("Error() = %q, %q", label, hint)
	}
	if line != "torch.cuda.OutOfMemoryError: CUDA out of memory." {
		t.Errorf("line = %q", line)
	}
}

func TestTrackerIgnoresEchoedFlags(t *testing.T) {
	tr := NewTracker()
	tr.Observe("Namespace(bake_texture=True, render=False, ...)")
	tr.Observe("args: --bake-texture --texture-resolution 2048")
	if tr.Percent() != 0 || tr.Failed() {
		t.Errorf("echoed flags moved the tracker: %v %v", tr.Stage(), tr.Failed())
	}
}

func TestTrackerComplete(t *testing.T) {
	tr := NewTracker()
	tr.Observe("Baking texture ...")
	tr.Complete()
	if tr.Percent() != 100 || tr.Stage() != DoneStage {
		t.Errorf("after Complete: %v %v", tr.Percent(), tr.Stage())
	}
}
