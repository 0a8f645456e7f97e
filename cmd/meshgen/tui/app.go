package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jamesainslie/meshgen/pkg/meshgen/events"
	"github.com/jamesainslie/meshgen/pkg/meshgen/gpu"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
	"github.com/jamesainslie/meshgen/pkg/meshgen/output"
	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
)

// AppState represents the current state of the application.
type AppState int

const (
	StateForm AppState = iota
	StateRunning
	StateComplete
)

// BatchRunner runs images through the reconstruction tool.
type BatchRunner interface {
	RunBatch(ctx context.Context, images []string, outputDir string, p params.Params) (*output.Result, error)
}

// Options configures the TUI application.
type Options struct {
	Input     string
	OutputDir string
	Params    params.Params
	System    gpu.System

	// Session runs the batch and publishes its progress on Events.
	Session BatchRunner
	Events  *events.Broadcaster

	// Collect expands the input path into image files.
	Collect func(ctx context.Context, path string) ([]string, error)

	// OnLaunch is called with the form values each time a run starts.
	OnLaunch func(input, outputDir string, p params.Params)
}

// Model is the main Bubble Tea model for the meshgen TUI.
type Model struct {
	state    AppState
	form     FormModel
	running  RunningModel
	complete CompleteModel
	options  Options
	logs     *LogViewerState

	// ctx is the parent of every batch context.
	ctx    context.Context
	cancel context.CancelFunc
	sub    *events.Subscriber

	// done receives the outcome of the batch goroutine; last holds the
	// outcome of the most recent batch.
	done chan batchDoneMsg
	last *batchDoneMsg

	width  int
	height int
}

// batchDoneMsg is sent when the batch goroutine returns.
type batchDoneMsg struct {
	result *output.Result
	err    error
}

// tickUIMsg triggers a UI refresh.
type tickUIMsg struct{}

// NewModel creates a new TUI model with the given options.
func NewModel(opts Options) Model {
	return Model{
		ctx:     context.Background(),
		state:   StateForm,
		form:    NewFormModel(opts.Input, opts.OutputDir, opts.Params, opts.System.Tier()),
		options: opts,
		logs:    NewLogViewerState(logging.GetLogBuffer()),
		width:   80,
		height:  24,
	}
}

// Init starts the cursor blink of the focused input.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// tickUI returns a command that periodically triggers UI updates.
func tickUI() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg {
		return tickUIMsg{}
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.form.SetWidth(msg.Width)
		m.running.width = msg.Width
		m.complete.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case launchMsg:
		return m.start(msg)

	case eventMsg:
		if m.state != StateRunning || m.sub == nil {
			return m, nil
		}
		m.running.Apply(msg.Event)
		return m, m.listenForEvents()

	case batchDoneMsg:
		// The goroutine already returned; do not wait on it again.
		m.done = nil
		m.finish()
		m.last = &msg
		m.state = StateComplete
		m.complete = NewCompleteModel(msg.result, msg.err)
		m.complete.width = m.width
		return m, nil

	case tickUIMsg:
		if m.state == StateRunning {
			return m, tickUI()
		}
		return m, nil

	case spinner.TickMsg:
		if m.state == StateRunning {
			var cmd tea.Cmd
			m.running, cmd = m.running.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.state == StateForm {
		var cmd tea.Cmd
		m.form, cmd = m.form.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKey handles keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+l" || (key == "L" && m.state != StateForm) {
		m.logs.Toggle()
		return m, nil
	}
	if m.logs.Open && m.state != StateForm {
		switch key {
		case "1", "2", "3", "4":
			m.logs.SetFilterLevel(logging.Level(key[0] - '1'))
			return m, nil
		case "up", "k":
			m.logs.ScrollUp(m.logRows())
			return m, nil
		case "down", "j":
			m.logs.ScrollDown(m.logRows())
			return m, nil
		}
	}

	switch m.state {
	case StateForm:
		if key == "ctrl+c" || (key == "esc" && !m.form.Confirming()) {
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.form, cmd = m.form.Update(msg)
		return m, cmd

	case StateRunning:
		if key == "ctrl+c" || key == "c" {
			if m.cancel != nil {
				m.cancel()
			}
			m.running.SetCanceling()
		}

	case StateComplete:
		switch key {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "enter", "n":
			m.state = StateForm
		}
	}
	return m, nil
}

// start launches the batch described by req in the background.
func (m Model) start(req launchMsg) (tea.Model, tea.Cmd) {
	if m.options.OnLaunch != nil {
		m.options.OnLaunch(req.Input, req.OutputDir, req.Params)
	}

	parent := m.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	done := make(chan batchDoneMsg, 1)
	m.done = done
	m.state = StateRunning
	m.running = NewRunningModel(req.Input)
	m.running.width = m.width
	if m.options.Events != nil {
		m.sub = m.options.Events.Subscribe()
	}

	collect := m.options.Collect
	sess := m.options.Session
	batch := func() batchDoneMsg {
		images := []string{req.Input}
		if collect != nil {
			var err error
			if images, err = collect(ctx, req.Input); err != nil {
				return batchDoneMsg{err: err}
			}
		}
		res, err := sess.RunBatch(ctx, images, req.OutputDir, req.Params)
		return batchDoneMsg{result: res, err: err}
	}
	run := func() tea.Msg {
		msg := batch()
		done <- msg
		return msg
	}

	return m, tea.Batch(m.running.Init(), run, m.listenForEvents(), tickUI())
}

// finish releases the subscription and context of the last batch. A batch
// still in flight is canceled and waited for, so the tool process is gone
// when finish returns.
func (m *Model) finish() {
	if m.sub != nil {
		m.options.Events.Unsubscribe(m.sub.ID)
		m.sub = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.done != nil {
		msg := <-m.done
		m.done = nil
		m.last = &msg
	}
}

// Result returns the outcome of the most recent batch. Both values are nil
// when no batch was started.
func (m Model) Result() (*output.Result, error) {
	if m.last == nil {
		return nil, nil
	}
	return m.last.result, m.last.err
}

// listenForEvents returns a command that waits for the next run event.
func (m Model) listenForEvents() tea.Cmd {
	if m.sub == nil {
		return nil
	}
	ch := m.sub.Events
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{ev}
	}
}

func (m Model) logRows() int {
	return max(m.height/3, 5)
}

// View renders the current state.
func (m Model) View() string {
	contentWidth := max(m.width-4, 40)
	var b strings.Builder

	b.WriteString("\n")
	var hint string
	switch m.state {
	case StateForm:
		hint = "[Esc to quit]"
	case StateRunning:
		hint = "[c to cancel]"
	case StateComplete:
		hint = "[q to quit]"
	}
	b.WriteString(renderAppHeader(m.options.System, contentWidth, hint))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n\n")

	switch m.state {
	case StateForm:
		b.WriteString(m.form.View())
		b.WriteString("\n")
		b.WriteString("  " + renderKeyHints("↑/↓", "field", "←/→", "change", "Enter", "generate", "Ctrl+L", "logs"))
	case StateRunning:
		b.WriteString(m.running.View())
		b.WriteString("\n")
		b.WriteString("  " + renderKeyHints("c", "cancel", "L", "logs"))
	case StateComplete:
		b.WriteString(m.complete.View())
		b.WriteString("\n")
		b.WriteString("  " + renderKeyHints("Enter", "new run", "L", "logs", "q", "quit"))
	}
	b.WriteString("\n")

	if m.logs.Open {
		b.WriteString("\n")
		b.WriteString(m.logs.View(contentWidth, m.logRows()))
		b.WriteString("\n")
	}

	content := b.String()
	contentLines := strings.Count(content, "\n") + 1
	if available := m.height - 2; available > contentLines {
		content += strings.Repeat("\n", available-contentLines)
	}

	return outerBoxStyle.Width(m.width - 2).Render(content)
}

// Run starts the TUI application and returns the outcome of the last
// batch. Canceling ctx stops the program and any batch in flight.
func Run(ctx context.Context, opts Options) (*output.Result, error) {
	m := NewModel(opts)
	m.ctx = ctx
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	final, err := p.Run()
	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		if fm, ok := final.(Model); ok {
			fm.finish()
		}
		return nil, err
	}
	fm, ok := final.(Model)
	if !ok {
		return nil, nil
	}
	fm.finish()
	return fm.Result()
}
