package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pixlift/internal/crop"
	"pixlift/internal/media"
	"pixlift/internal/pipeline"
)

// cropOutcome is how one crop dialog ended.
type cropOutcome int

const (
	cropCommitted cropOutcome = iota
	cropSkipped
	cropFailed
	cropAborted
)

// Messages for async operations
type pipelineEventMsg struct {
	event pipeline.Event
}

type previewReadyMsg struct {
	art string
}

type commitResultMsg struct {
	err error
}

type cropTickMsg struct{}

// Color scheme
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

// Styles
var (
	cropHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	cropPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	cropLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	cropValueStyle = lipgloss.NewStyle().
			Foreground(successColor)

	cropErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	cropHelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	cropBusyStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)
)

const (
	panStep       = 0.02
	zoomStep      = 0.9
	minRegionSpan = 0.05
)

// cropModel drives the interactive crop dialog for one pending file.
type cropModel struct {
	ctx    context.Context
	ctrl   *pipeline.Controller
	events <-chan pipeline.Event

	file   *media.File
	region crop.Region
	aspect float64
	imgW   int
	imgH   int

	width  int
	height int
	ready  bool
	art    string

	spin    spinner.Model
	bar     progress.Model
	pct     int
	stage   string
	started time.Time

	committing bool
	stageErr   error

	outcome cropOutcome
	err     error
}

func newCropModel(ctx context.Context, ctrl *pipeline.Controller, events <-chan pipeline.Event, initial crop.Region) *cropModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	m := &cropModel{
		ctx:    ctx,
		ctrl:   ctrl,
		events: events,
		file:   ctrl.Pending(),
		region: initial,
		aspect: ctrl.AspectRatio(),
		spin:   s,
		bar:    progress.New(progress.WithDefaultGradient()),
		pct:    -1,
	}
	if m.file != nil {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(m.file.Data)); err == nil {
			m.imgW, m.imgH = cfg.Width, cfg.Height
		}
	}
	m.region = m.constrain(m.region)
	return m
}

func (m *cropModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.listenEvents())
}

func (m *cropModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, m.renderPreview()

	case previewReadyMsg:
		m.art = msg.art
		return m, nil

	case pipelineEventMsg:
		return m.handleEvent(msg.event)

	case commitResultMsg:
		return m.handleCommitResult(msg.err)

	case cropTickMsg:
		if m.committing {
			return m, m.tick()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *cropModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.outcome = cropAborted
		return m, tea.Quit
	}
	if m.committing {
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEsc:
		_ = m.ctrl.CancelCrop(m.ctx)
		m.outcome = cropSkipped
		return m, tea.Quit
	case tea.KeyEnter:
		m.committing = true
		m.stageErr = nil
		m.pct = -1
		m.stage = ""
		m.started = time.Now()
		return m, tea.Batch(m.commit(), m.tick())
	case tea.KeyLeft:
		m.region.X -= panStep
	case tea.KeyRight:
		m.region.X += panStep
	case tea.KeyUp:
		m.region.Y -= panStep
	case tea.KeyDown:
		m.region.Y += panStep
	}

	switch msg.String() {
	case "+", "=":
		m.scale(zoomStep)
	case "-", "_":
		m.scale(1 / zoomStep)
	case "r":
		m.region = crop.FullImage()
	}

	m.region = m.constrain(m.region)
	return m, nil
}

func (m *cropModel) handleEvent(ev pipeline.Event) (tea.Model, tea.Cmd) {
	if ev.Stage == pipeline.StageCompress && ev.Progress >= 0 {
		m.pct = ev.Progress
	}
	if ev.Stage == "" && ev.Err == nil {
		switch ev.State {
		case pipeline.StateCompressing:
			m.stage = "compressing"
		case pipeline.StateUploading:
			m.stage = "uploading"
		}
	}
	return m, m.listenEvents()
}

func (m *cropModel) handleCommitResult(err error) (tea.Model, tea.Cmd) {
	m.committing = false
	if err == nil {
		m.outcome = cropCommitted
		return m, tea.Quit
	}
	// A crop failure keeps the dialog open for another try; anything
	// later in the pipeline ends the dialog.
	if m.ctrl.State() == pipeline.StateCropping {
		m.stageErr = err
		return m, nil
	}
	m.outcome = cropFailed
	m.err = err
	return m, tea.Quit
}

func (m *cropModel) listenEvents() tea.Cmd {
	return func() tea.Msg {
		return pipelineEventMsg{event: <-m.events}
	}
}

func (m *cropModel) commit() tea.Cmd {
	region := m.region
	return func() tea.Msg {
		return commitResultMsg{err: m.ctrl.CommitCrop(m.ctx, region)}
	}
}

func (m *cropModel) tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return cropTickMsg{}
	})
}

func (m *cropModel) renderPreview() tea.Cmd {
	handle := m.ctrl.Preview()
	if handle == nil {
		return nil
	}
	w, h := m.previewSize()
	return func() tea.Msg {
		art, err := handle.Render(w, h)
		if err != nil {
			return previewReadyMsg{art: cropLabelStyle.Render("(preview unavailable)")}
		}
		return previewReadyMsg{art: art}
	}
}

func (m *cropModel) previewSize() (int, int) {
	w := m.width - 36
	if w < 20 {
		w = 20
	}
	h := m.height - 8
	if h < 8 {
		h = 8
	}
	return w, h
}

// scale resizes the crop box around its center.
func (m *cropModel) scale(factor float64) {
	cx := m.region.X + m.region.W/2
	cy := m.region.Y + m.region.H/2
	m.region.W *= factor
	m.region.H *= factor
	m.region.X = cx - m.region.W/2
	m.region.Y = cy - m.region.H/2
}

// constrain clamps the region into the unit square and, when an aspect
// ratio is configured and the dimensions are known, holds the box to it.
func (m *cropModel) constrain(r crop.Region) crop.Region {
	if m.aspect > 0 && m.imgW > 0 && m.imgH > 0 {
		// Aspect is width over height in pixels; regions are
		// normalized, so the image shape folds in.
		r.H = r.W * float64(m.imgW) / (m.aspect * float64(m.imgH))
	}
	if r.W < minRegionSpan {
		r.W = minRegionSpan
	}
	if r.W > 1 {
		r.W = 1
	}
	if r.H < minRegionSpan {
		r.H = minRegionSpan
	}
	if r.H > 1 {
		r.H = 1
	}
	if r.X < 0 {
		r.X = 0
	}
	if r.X+r.W > 1 {
		r.X = 1 - r.W
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.Y+r.H > 1 {
		r.Y = 1 - r.H
	}
	return r
}

func (m *cropModel) View() string {
	if !m.ready || m.file == nil {
		return "Loading crop dialog..."
	}

	header := cropHeaderStyle.Render(fmt.Sprintf("Crop: %s", m.file.Name)) +
		cropLabelStyle.Render(fmt.Sprintf("  %s · %s", media.FormatBytes(m.file.Size()), m.file.MIME))

	left := m.art
	if left == "" {
		left = cropLabelStyle.Render("(no preview)")
	}

	right := m.regionPanel()

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)

	var parts []string
	parts = append(parts, header, "", body, "")

	if m.committing {
		elapsed := time.Since(m.started).Truncate(time.Second)
		line := cropBusyStyle.Render(fmt.Sprintf("%s %s... ", m.spin.View(), m.stageLabel()))
		if m.pct >= 0 {
			line += m.bar.ViewAs(float64(m.pct) / 100)
		}
		line += cropLabelStyle.Render(fmt.Sprintf(" (%v)", elapsed))
		parts = append(parts, line)
	} else if m.stageErr != nil {
		parts = append(parts, cropErrorStyle.Render(fmt.Sprintf("✗ %v", m.stageErr))+
			cropLabelStyle.Render("  adjust the region and try again"))
	}

	help := cropHelpStyle.Render("  ←↑↓→ pan · +/- zoom · r reset · Enter upload · Esc skip · Ctrl+C quit")
	parts = append(parts, help)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *cropModel) stageLabel() string {
	if m.stage == "" {
		return "processing"
	}
	return m.stage
}

func (m *cropModel) regionPanel() string {
	var b strings.Builder
	b.WriteString(cropLabelStyle.Render("Region") + "\n")
	b.WriteString(fmt.Sprintf("%s %s  %s %s\n",
		cropLabelStyle.Render("x"), cropValueStyle.Render(fmt.Sprintf("%.2f", m.region.X)),
		cropLabelStyle.Render("y"), cropValueStyle.Render(fmt.Sprintf("%.2f", m.region.Y))))
	b.WriteString(fmt.Sprintf("%s %s  %s %s\n",
		cropLabelStyle.Render("w"), cropValueStyle.Render(fmt.Sprintf("%.2f", m.region.W)),
		cropLabelStyle.Render("h"), cropValueStyle.Render(fmt.Sprintf("%.2f", m.region.H))))
	if m.imgW > 0 && m.imgH > 0 {
		px := fmt.Sprintf("%dx%d px", int(m.region.W*float64(m.imgW)), int(m.region.H*float64(m.imgH)))
		b.WriteString(cropLabelStyle.Render(px) + "\n")
	}
	if m.aspect > 0 {
		b.WriteString(cropLabelStyle.Render(fmt.Sprintf("aspect %.2f locked", m.aspect)) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(m.minimap(20, 10))
	return cropPanelStyle.Render(b.String())
}

// minimap sketches where the crop box sits inside the frame.
func (m *cropModel) minimap(w, h int) string {
	var b strings.Builder
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			x := (float64(col) + 0.5) / float64(w)
			y := (float64(row) + 0.5) / float64(h)
			inside := x >= m.region.X && x < m.region.X+m.region.W &&
				y >= m.region.Y && y < m.region.Y+m.region.H
			if inside {
				b.WriteString(cropValueStyle.Render("█"))
			} else {
				b.WriteString(cropLabelStyle.Render("·"))
			}
		}
		if row < h-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// runCropTUI runs the dialog for the controller's pending file and reports
// how it ended. The controller keeps the preview alive for the dialog's
// lifetime; cancel and commit both release it.
func runCropTUI(ctx context.Context, ctrl *pipeline.Controller, events <-chan pipeline.Event, initial crop.Region) (cropOutcome, error) {
	model := newCropModel(ctx, ctrl, events, initial)

	program := tea.NewProgram(model, tea.WithAltScreen())
	finalModel, err := program.Run()
	if err != nil {
		return cropFailed, fmt.Errorf("crop dialog: %w", err)
	}

	final, ok := finalModel.(*cropModel)
	if !ok {
		return cropFailed, fmt.Errorf("crop dialog returned unexpected model")
	}
	return final.outcome, final.err
}
