package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
)

// Form rows in display order.
const (
	rowInput = iota
	rowOutput
	rowMC
	rowChunk
	rowTexture
	rowBake
	rowRender
	rowSafe
	rowPreview
	rowRembg
	rowRatio
	rowDevice
	rowStart
	rowCount
)

const ratioStep = 0.05

var devices = []params.Device{params.DeviceAuto, params.DeviceCUDA, params.DeviceCPU}

// launchMsg asks the app to start a run with the form's values.
type launchMsg struct {
	Input     string
	OutputDir string
	Params    params.Params
}

// FormModel edits the input paths and the generation parameters.
type FormModel struct {
	input  textinput.Model
	output textinput.Model

	sliders       []params.Slider
	bake          bool
	render        bool
	safe          bool
	deletePreview bool
	rembg         bool
	ratio         float64
	device        params.Device

	// confirm holds a plan waiting for the user's approval; pending is
	// the request it was made for.
	confirm *params.Plan
	pending launchMsg

	tier   params.Tier
	focus  int
	notice string
	err    string
	width  int
}

// NewFormModel creates a form pre-filled with p. Sliders above the
// tier's ceilings are lowered.
func NewFormModel(input, outputDir string, p params.Params, tier params.Tier) FormModel {
	p.Normalize()

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "image file or directory"
	in.SetValue(input)
	in.Focus()

	out := textinput.New()
	out.Prompt = ""
	out.Placeholder = "output directory"
	out.SetValue(outputDir)

	m := FormModel{
		input:         in,
		output:        out,
		bake:          p.BakeTexture,
		render:        p.Render,
		safe:          p.SafeMode,
		deletePreview: p.DeletePreview,
		rembg:         p.RemoveBackground,
		ratio:         p.ForegroundRatio,
		device:        p.Device,
		tier:          tier,
		width:         80,
	}
	for _, key := range params.SliderKeys {
		m.sliders = append(m.sliders, p.Slider(key))
	}
	m.enforceCeilings()
	return m
}

// ceiling returns the highest exponent allowed for key.
func (m FormModel) ceiling(key params.SliderKey) int {
	return params.CeilingsFor(m.tier).MaxExp(key)
}

func sliderIndex(row int) (int, bool) {
	if row >= rowMC && row <= rowTexture {
		return row - rowMC, true
	}
	return 0, false
}

func isTextRow(row int) bool {
	return row == rowInput || row == rowOutput
}

// Confirming reports whether the form waits for the user to approve a run.
func (m FormModel) Confirming() bool {
	return m.confirm != nil
}

// Params returns the parameters currently shown in the form.
func (m FormModel) Params() (params.Params, error) {
	p := params.Default()
	for _, s := range m.sliders {
		p.SetSlider(s)
	}
	p.BakeTexture = m.bake
	p.Render = m.render
	p.SafeMode = m.safe
	p.DeletePreview = m.deletePreview
	p.RemoveBackground = m.rembg
	p.ForegroundRatio = m.ratio
	p.Device = m.device
	return p, p.Validate()
}

// submit validates the form and returns the launch request together with
// the plan the run will use.
func (m FormModel) submit() (launchMsg, params.Plan, error) {
	input := strings.TrimSpace(m.input.Value())
	if input == "" {
		return launchMsg{}, params.Plan{}, errors.New("choose an input image first")
	}
	p, err := m.Params()
	if err != nil {
		return launchMsg{}, params.Plan{}, err
	}
	plan, err := p.Plan(m.tier)
	if err != nil {
		return launchMsg{}, params.Plan{}, err
	}
	req := launchMsg{Input: input, OutputDir: strings.TrimSpace(m.output.Value()), Params: p}
	return req, plan, nil
}

// Update handles messages for the form.
func (m FormModel) Update(msg tea.Msg) (FormModel, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m.updateText(msg)
	}
	if m.confirm != nil {
		return m.updateConfirm(key)
	}

	switch key.String() {
	case "up", "shift+tab":
		m.setFocus((m.focus + rowCount - 1) % rowCount)
		return m, nil
	case "down", "tab":
		m.setFocus((m.focus + 1) % rowCount)
		return m, nil
	case "enter":
		req, plan, err := m.submit()
		if err != nil {
			m.err = err.Error()
			return m, nil
		}
		m.err = ""
		if plan.NeedsConfirmation() {
			m.confirm = &plan
			m.pending = req
			return m, nil
		}
		return m, launch(req)
	case "left", "right", "h", "l", " ":
		if isTextRow(m.focus) {
			return m.updateText(msg)
		}
		delta := 1
		if s := key.String(); s == "left" || s == "h" {
			delta = -1
		}
		m.adjust(delta)
		return m, nil
	}
	return m.updateText(msg)
}

func (m FormModel) updateConfirm(key tea.KeyMsg) (FormModel, tea.Cmd) {
	switch key.String() {
	case "y", "Y", "enter":
		req := m.pending
		m.confirm = nil
		m.pending = launchMsg{}
		return m, launch(req)
	case "n", "N", "esc":
		m.confirm = nil
		m.pending = launchMsg{}
		m.notice = "Run not started"
	}
	return m, nil
}

func launch(req launchMsg) tea.Cmd {
	return func() tea.Msg { return req }
}

// updateText forwards msg to the focused text input.
func (m FormModel) updateText(msg tea.Msg) (FormModel, tea.Cmd) {
	var cmd tea.Cmd
	switch m.focus {
	case rowInput:
		m.input, cmd = m.input.Update(msg)
	case rowOutput:
		m.output, cmd = m.output.Update(msg)
	}
	return m, cmd
}

func (m *FormModel) setFocus(row int) {
	m.focus = row
	m.input.Blur()
	m.output.Blur()
	switch row {
	case rowInput:
		m.input.Focus()
	case rowOutput:
		m.output.Focus()
	}
}

// adjust changes the focused non-text row by one step in direction delta.
func (m *FormModel) adjust(delta int) {
	m.notice = ""
	if i, ok := sliderIndex(m.focus); ok {
		s := &m.sliders[i]
		if delta < 0 {
			s.Decrement()
			return
		}
		if limit := m.ceiling(s.Key); s.Exp >= limit && limit < s.MaxExp {
			m.notice = fmt.Sprintf("%s is limited to %d on the %s tier", s.Name, 1<<limit, m.tier)
			return
		}
		s.Increment()
		return
	}

	switch m.focus {
	case rowBake:
		m.bake = !m.bake
		if m.bake {
			m.notice = "Texture baking runs on the CPU and exports OBJ"
		}
	case rowRender:
		m.render = !m.render
	case rowSafe:
		m.safe = !m.safe
	case rowPreview:
		m.deletePreview = !m.deletePreview
	case rowRembg:
		m.rembg = !m.rembg
	case rowRatio:
		m.ratio = params.ClampForegroundRatio(m.ratio + ratioStep*float64(delta))
		// Keep two decimals so repeated steps do not drift.
		m.ratio = float64(int(m.ratio*100+0.5)) / 100
	case rowDevice:
		idx := 0
		for i, d := range devices {
			if d == m.device {
				idx = i
			}
		}
		m.device = devices[(idx+len(devices)+delta)%len(devices)]
	}
}

// enforceCeilings lowers sliders above the tier's ceilings.
func (m *FormModel) enforceCeilings() {
	var lowered []string
	for i := range m.sliders {
		s := &m.sliders[i]
		if limit := m.ceiling(s.Key); s.Exp > limit {
			s.SetExp(limit)
			lowered = append(lowered, s.Name)
		}
	}
	if len(lowered) > 0 {
		m.notice = fmt.Sprintf("Lowered for %s tier: %s", m.tier, strings.Join(lowered, ", "))
	}
}

// SetWidth sets the rendering width.
func (m *FormModel) SetWidth(w int) {
	m.width = w
	inputWidth := max(w-30, 20)
	m.input.Width = inputWidth
	m.output.Width = inputWidth
}

// View renders the form, or the confirmation prompt while one is open.
func (m FormModel) View() string {
	if m.confirm != nil {
		return m.confirmView()
	}

	var b strings.Builder
	for row := 0; row < rowCount; row++ {
		if row == rowMC || row == rowBake || row == rowRembg || row == rowStart {
			b.WriteString("\n")
		}
		b.WriteString(m.renderRow(row))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.err != "":
		b.WriteString(errorTextStyle.Render("  " + m.err))
	case m.notice != "":
		b.WriteString(warningTextStyle.Render("  " + m.notice))
	}
	b.WriteString("\n")
	return b.String()
}

func (m FormModel) confirmView() string {
	var b strings.Builder
	b.WriteString(warningTextStyle.Render("  Confirm run"))
	b.WriteString("\n\n")
	for _, w := range m.confirm.Warnings() {
		b.WriteString("  • " + w + "\n")
	}
	p := m.confirm.Params
	b.WriteString("\n")
	b.WriteString(mutedTextStyle.Render(fmt.Sprintf("  The run will use mc-resolution %d, chunk-size %d, texture-resolution %d.",
		p.MCResolution, p.ChunkSize, p.TextureResolution)))
	b.WriteString("\n\n")
	b.WriteString("  " + renderKeyHints("y/Enter", "start anyway", "n/Esc", "back"))
	b.WriteString("\n")
	return b.String()
}

func (m FormModel) renderRow(row int) string {
	cursor := "  "
	if row == m.focus {
		cursor = cursorStyle.Render("> ")
	}

	if row == rowStart {
		style := buttonStyle
		if row == m.focus {
			style = activeButtonStyle
		}
		return cursor + style.Render("Generate")
	}

	label, value := m.rowContent(row)
	if row == m.focus && !isTextRow(row) {
		return cursor + focusedRowStyle.Render(labelStyle.Render(label)) + value
	}
	return cursor + labelStyle.Render(label) + value
}

func (m FormModel) rowContent(row int) (string, string) {
	if i, ok := sliderIndex(row); ok {
		s := m.sliders[i]
		value := m.renderSlider(s)
		if s.Key == params.SliderTexture && !m.bake {
			value += mutedTextStyle.Render("  unused without baking")
		}
		return s.Name, value
	}

	switch row {
	case rowInput:
		return "Input", m.input.View()
	case rowOutput:
		return "Output directory", m.output.View()
	case rowBake:
		return "Bake texture", renderToggle(m.bake)
	case rowRender:
		return "Render views", renderToggle(m.render)
	case rowSafe:
		value := renderToggle(m.safe)
		if m.safe {
			value += mutedTextStyle.Render(fmt.Sprintf("  caps %d / %d / %d, no render",
				params.SafeMCResolution, params.SafeChunkSize, params.SafeTextureResolution))
		}
		return "Safe mode", value
	case rowPreview:
		return "Delete preview", renderToggle(m.deletePreview)
	case rowRembg:
		return "Remove background", renderToggle(m.rembg)
	case rowRatio:
		return "Foreground ratio", valueStyle.Render(strconv.FormatFloat(m.ratio, 'f', 2, 64))
	case rowDevice:
		if m.bake {
			return "Device", valueStyle.Render("cpu") + mutedTextStyle.Render("  texture baking")
		}
		return "Device", valueStyle.Render(string(m.device))
	}
	return "", ""
}

// renderSlider draws one cell per position: filled up to the current value,
// empty above it, and crossed out above the tier ceiling.
func (m FormModel) renderSlider(s params.Slider) string {
	limit := m.ceiling(s.Key)
	var bar strings.Builder
	for exp := s.MinExp; exp <= s.MaxExp; exp++ {
		switch {
		case exp <= s.Exp:
			bar.WriteString(progressFillStyle.Render("■"))
		case exp > limit:
			bar.WriteString(lockedStepStyle.Render("×"))
		default:
			bar.WriteString(progressEmptyStyle.Render("□"))
		}
	}
	out := bar.String() + " " + valueStyle.Render(strconv.Itoa(s.Value()))
	if limit < s.MaxExp {
		out += mutedTextStyle.Render(fmt.Sprintf("  max %d", 1<<limit))
	}
	return out
}

func renderToggle(on bool) string {
	if on {
		return successTextStyle.Render("on")
	}
	return mutedTextStyle.Render("off")
}
