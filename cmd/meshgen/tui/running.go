package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/meshgen/pkg/meshgen/events"
)

// maxToolLines is how many recent tool lines the running view keeps.
const maxToolLines = 8

// eventMsg wraps a run event for the Bubble Tea loop.
type eventMsg struct{ *events.Event }

// RunningModel shows a run in progress.
type RunningModel struct {
	spinner   spinner.Model
	startTime time.Time
	width     int

	input   string
	index   int
	total   int
	stage   string
	percent float64
	lines   []string
	count   int

	artifacts []string
	canceling bool
}

// NewRunningModel creates the running view for input.
func NewRunningModel(input string) RunningModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return RunningModel{
		spinner:   s,
		startTime: time.Now(),
		width:     80,
		input:     input,
		stage:     "Starting",
	}
}

// Init starts the spinner.
func (m RunningModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the running view.
func (m RunningModel) Update(msg tea.Msg) (RunningModel, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.Apply(msg.Event)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Apply folds one event into the view. Progress never moves backwards
// within a run; a new run in the batch starts again from zero.
func (m *RunningModel) Apply(ev *events.Event) {
	switch ev.Type {
	case events.EventStarted:
		m.input = ev.Input
		m.index, m.total = ev.Index, ev.Total
		m.stage = "Starting"
		m.percent = 0
		m.lines = nil
	case events.EventLine:
		m.count++
		m.lines = append(m.lines, ev.Line)
		if len(m.lines) > maxToolLines {
			m.lines = m.lines[len(m.lines)-maxToolLines:]
		}
	case events.EventStage, events.EventProgress:
		if ev.Stage != "" {
			m.stage = ev.Stage
		}
		m.percent = max(m.percent, ev.Percent)
	case events.EventArtifact:
		m.artifacts = append(m.artifacts, ev.Artifact)
	case events.EventFinished:
		m.stage = ev.Stage
		m.percent = max(m.percent, ev.Percent)
	}
}

// SetCanceling marks that cancellation was requested.
func (m *RunningModel) SetCanceling() {
	m.canceling = true
}

// Percent returns the overall progress of the current run.
func (m RunningModel) Percent() float64 {
	return m.percent
}

// View renders the running view body.
func (m RunningModel) View() string {
	contentWidth := max(m.width-4, 40)
	var b strings.Builder

	status := fmt.Sprintf("  %s %s: %s", m.spinner.View(), m.stage, filepath.Base(m.input))
	if m.canceling {
		status = warningTextStyle.Render("  Canceling, waiting for the tool to stop...")
	}
	b.WriteString(status)
	b.WriteString("\n\n")

	b.WriteString(renderProgressBar(m.percent, contentWidth))
	b.WriteString("\n")
	if metrics := renderRunMetrics(m.index, m.total, m.count, time.Since(m.startTime)); metrics != "" {
		b.WriteString(metrics)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.renderStats(contentWidth))
	b.WriteString("\n\n")

	b.WriteString(mutedTextStyle.Render("  Tool output"))
	b.WriteString("\n")
	for i := 0; i < maxToolLines; i++ {
		if i < len(m.lines) {
			b.WriteString(toolLineStyle.Render("  " + truncateLine(m.lines[i], contentWidth-4)))
		}
		b.WriteString("\n")
	}

	for _, a := range m.artifacts {
		b.WriteString(successTextStyle.Render("  + " + truncatePath(a, contentWidth-6)))
		b.WriteString("\n")
	}
	return b.String()
}

// renderStats renders the stage, progress, artifact and time boxes.
func (m RunningModel) renderStats(totalWidth int) string {
	boxWidth := max((totalWidth-10)/4, 12)

	stageBox := renderStatBox("Stage", truncateLine(m.stage, boxWidth-4), boxWidth)
	pctBox := renderStatBox("Progress", fmt.Sprintf("%.0f%%", m.percent), boxWidth)
	meshBox := renderStatBox("Meshes", humanize.Comma(int64(len(m.artifacts))), boxWidth)
	timeBox := renderStatBox("Time", formatDuration(time.Since(m.startTime)), boxWidth)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		"  ", stageBox, " ", pctBox, " ", meshBox, " ", timeBox)
}

// renderStatBox renders a single stat box.
func renderStatBox(label, value string, width int) string {
	labelStr := statsLabelStyle.Render(label)
	valueStr := statsValueStyle.Render(value)

	content := lipgloss.JoinVertical(lipgloss.Center,
		center(labelStr, width-4),
		center(valueStr, width-4))

	return statsBoxStyle.Width(width).Render(content)
}

// renderProgressBar renders a determinate bar for percent in [0, 100].
func renderProgressBar(percent float64, width int) string {
	barWidth := max(width-10, 10)
	filled := int(percent / 100 * float64(barWidth))
	filled = min(max(filled, 0), barWidth)

	return "  " + progressFillStyle.Render(strings.Repeat("█", filled)) +
		progressEmptyStyle.Render(strings.Repeat("░", barWidth-filled)) +
		fmt.Sprintf(" %3.0f%%", percent)
}
