package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jamesainslie/meshgen/pkg/meshgen/events"
	"github.com/jamesainslie/meshgen/pkg/meshgen/gpu"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
	"github.com/jamesainslie/meshgen/pkg/meshgen/output"
	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

// blockingRunner waits for cancellation and reports an interrupted batch.
type blockingRunner struct {
	images []string
}

func (r *blockingRunner) RunBatch(ctx context.Context, images []string, outputDir string, p params.Params) (*output.Result, error) {
	r.images = images
	<-ctx.Done()
	return &output.Result{
		Interrupted: true,
		Runs:        []output.Run{{Input: images[0], Outcome: types.OutcomeCanceled}},
	}, nil
}

func testOptions(runner BatchRunner, bus *events.Broadcaster) Options {
	return Options{
		Input:   "chair.png",
		Params:  params.Default(),
		System:  gpu.System{VRAMOverride: 24 * types.GiB},
		Session: runner,
		Events:  bus,
		Collect: func(ctx context.Context, path string) ([]string, error) {
			return []string{path}, nil
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("expected Model, got %T", next)
	}
	return nm, cmd
}

func TestNewModel(t *testing.T) {
	m := NewModel(testOptions(&blockingRunner{}, events.New()))

	if m.state != StateForm {
		t.Errorf("expected form state, got %d", m.state)
	}
	if m.logs == nil || m.logs.Open {
		t.Error("expected a closed log viewer")
	}
	if !strings.Contains(m.View(), "MESHGEN") {
		t.Error("expected header in view")
	}
}

func TestModelLaunchAndComplete(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	var launched launchMsg
	opts := testOptions(&blockingRunner{}, bus)
	opts.OnLaunch = func(input, outputDir string, p params.Params) {
		launched = launchMsg{Input: input, OutputDir: outputDir, Params: p}
	}
	m := NewModel(opts)

	req := launchMsg{Input: "chair.png", OutputDir: "out", Params: params.Default()}
	m, cmd := update(t, m, req)
	if m.state != StateRunning {
		t.Fatalf("expected running state, got %d", m.state)
	}
	if cmd == nil {
		t.Error("expected commands to start the batch")
	}
	if launched.Input != "chair.png" || launched.OutputDir != "out" {
		t.Errorf("OnLaunch not called with the request: %+v", launched)
	}
	if bus.SubscriberCount() != 1 {
		t.Errorf("expected one subscriber while running, got %d", bus.SubscriberCount())
	}

	m, cmd = update(t, m, eventMsg{&events.Event{Type: events.EventStage, Stage: "Initializing model", Percent: 5}})
	if m.running.Percent() != 5 {
		t.Errorf("expected event applied, got %v%%", m.running.Percent())
	}
	if cmd == nil {
		t.Error("expected to keep listening for events")
	}

	result := &output.Result{Runs: []output.Run{{Input: "chair.png", Outcome: types.OutcomeSucceeded}}}
	m, _ = update(t, m, batchDoneMsg{result: result})
	if m.state != StateComplete {
		t.Fatalf("expected complete state, got %d", m.state)
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected subscription released, got %d", bus.SubscriberCount())
	}
	if !m.complete.Succeeded() {
		t.Error("expected successful summary")
	}

	m, cmd = update(t, m, eventMsg{&events.Event{Type: events.EventLine, Line: "late"}})
	if cmd != nil {
		t.Error("late events should be dropped")
	}

	m, _ = update(t, m, keyMsg("enter"))
	if m.state != StateForm {
		t.Errorf("expected to return to the form, got %d", m.state)
	}
}

func TestModelCancelRunning(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	runner := &blockingRunner{}
	m := NewModel(testOptions(runner, bus))
	m, cmd := update(t, m, launchMsg{Input: "chair.png", Params: params.Default()})

	batch, ok := cmd().(tea.BatchMsg)
	if !ok {
		t.Fatalf("expected a batch of commands, got %T", cmd())
	}
	// spinner, batch runner, event listener, UI tick
	if len(batch) != 4 {
		t.Fatalf("expected 4 commands, got %d", len(batch))
	}

	done := make(chan tea.Msg, 1)
	go func() { done <- batch[1]() }()

	m, _ = update(t, m, keyMsg("c"))
	if !m.running.canceling {
		t.Error("expected canceling state")
	}

	msg, ok := (<-done).(batchDoneMsg)
	if !ok {
		t.Fatal("expected batchDoneMsg")
	}
	if msg.result == nil || !msg.result.Interrupted {
		t.Errorf("expected interrupted result, got %+v", msg.result)
	}
	if len(runner.images) != 1 || runner.images[0] != "chair.png" {
		t.Errorf("unexpected images %v", runner.images)
	}

	m, _ = update(t, m, msg)
	if !strings.Contains(m.View(), "Canceled") {
		t.Error("expected canceled summary")
	}
}

func TestModelFinishWaitsForBatch(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	m := NewModel(testOptions(&blockingRunner{}, bus))
	if res, err := m.Result(); res != nil || err != nil {
		t.Fatalf("expected no result before a batch, got %+v, %v", res, err)
	}
	m, cmd := update(t, m, launchMsg{Input: "chair.png", Params: params.Default()})
	batch := cmd().(tea.BatchMsg)

	returned := make(chan struct{})
	go func() {
		batch[1]()
		close(returned)
	}()

	// finish cancels the batch and collects its outcome before returning.
	m.finish()
	res, err := m.Result()
	<-returned
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || !res.Interrupted {
		t.Errorf("expected the interrupted result, got %+v", res)
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected subscription released, got %d", bus.SubscriberCount())
	}
}

func TestModelParentContextCancelsBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewModel(testOptions(&blockingRunner{}, events.New()))
	m.ctx = ctx

	_, cmd := update(t, m, launchMsg{Input: "chair.png", Params: params.Default()})
	batch := cmd().(tea.BatchMsg)

	done := make(chan tea.Msg, 1)
	go func() { done <- batch[1]() }()
	cancel()

	msg, ok := (<-done).(batchDoneMsg)
	if !ok {
		t.Fatal("expected batchDoneMsg")
	}
	if msg.result == nil || !msg.result.Interrupted {
		t.Errorf("expected interrupted result, got %+v", msg.result)
	}
}

func TestModelResultAfterBatch(t *testing.T) {
	m := NewModel(testOptions(&blockingRunner{}, events.New()))
	m, _ = update(t, m, launchMsg{Input: "chair.png", Params: params.Default()})

	result := &output.Result{Runs: []output.Run{{Input: "chair.png", Outcome: types.OutcomeFailed}}}
	m, _ = update(t, m, batchDoneMsg{result: result})

	got, err := m.Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != result {
		t.Errorf("expected the batch result, got %+v", got)
	}
}

func TestModelEscDuringConfirmation(t *testing.T) {
	opts := testOptions(&blockingRunner{}, events.New())
	opts.Params.ChunkSize = 2048
	m := NewModel(opts)

	m, _ = update(t, m, keyMsg("enter"))
	if !m.form.Confirming() {
		t.Fatal("expected the form to ask for confirmation")
	}

	m, cmd := update(t, m, keyMsg("esc"))
	if cmd != nil {
		if _, quit := cmd().(tea.QuitMsg); quit {
			t.Fatal("esc should close the prompt, not quit")
		}
	}
	if m.form.Confirming() {
		t.Error("expected the prompt closed")
	}
	if m.state != StateForm {
		t.Errorf("expected form state, got %d", m.state)
	}
}

func TestModelQuitKeys(t *testing.T) {
	tests := []struct {
		name  string
		state AppState
		key   string
		quits bool
	}{
		{"esc on form", StateForm, "esc", true},
		{"ctrl+c on form", StateForm, "ctrl+c", true},
		{"q on form types", StateForm, "q", false},
		{"q on complete", StateComplete, "q", true},
		{"ctrl+c while running cancels", StateRunning, "ctrl+c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel(testOptions(&blockingRunner{}, events.New()))
			m.state = tt.state
			m.complete = NewCompleteModel(&output.Result{}, nil)

			_, cmd := update(t, m, keyMsg(tt.key))
			quit := false
			if cmd != nil {
				_, quit = cmd().(tea.QuitMsg)
			}
			if quit != tt.quits {
				t.Errorf("quit = %v, want %v", quit, tt.quits)
			}
		})
	}
}

func TestModelLogViewerKeys(t *testing.T) {
	m := NewModel(testOptions(&blockingRunner{}, events.New()))

	m, _ = update(t, m, keyMsg("L"))
	if m.logs.Open {
		t.Error("L on the form should be typed, not toggle logs")
	}

	m, _ = update(t, m, keyMsg("ctrl+l"))
	if !m.logs.Open {
		t.Fatal("expected ctrl+l to open the logs")
	}
	if !strings.Contains(m.View(), "Logs [") {
		t.Error("expected the log pane in the view")
	}

	m.state = StateComplete
	m.complete = NewCompleteModel(&output.Result{}, nil)
	m, _ = update(t, m, keyMsg("3"))
	if m.logs.FilterLevel != logging.LevelWarn {
		t.Errorf("expected warn filter, got %s", m.logs.FilterLevel)
	}

	m, _ = update(t, m, keyMsg("L"))
	if m.logs.Open {
		t.Error("expected L to close the logs")
	}
}

func TestModelWindowSize(t *testing.T) {
	m := NewModel(testOptions(&blockingRunner{}, events.New()))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	if m.width != 120 || m.height != 40 {
		t.Errorf("unexpected size %dx%d", m.width, m.height)
	}
	if m.form.width != 120 {
		t.Errorf("expected form width 120, got %d", m.form.width)
	}
}
