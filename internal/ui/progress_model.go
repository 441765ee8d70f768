package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/micdrop/pitchcoach/internal/analysis"
)

// ProgressMsg delivers a progress update to the model.
type ProgressMsg analysis.Progress

// DoneMsg reports the end of the analysis.
type DoneMsg struct {
	Result *analysis.Result
	Err    error
}

// ProgressModel shows a live progress bar for one analysis and quits once
// it finishes. Pressing q, esc or ctrl+c invokes cancel.
type ProgressModel struct {
	title     string
	progress  analysis.Progress
	result    *analysis.Result
	err       error
	done      bool
	cancelled bool
	cancel    func()
}

// NewProgressModel creates a model titled title. cancel may be nil.
func NewProgressModel(title string, cancel func()) ProgressModel {
	return ProgressModel{
		title:    title,
		progress: analysis.Progress{Stage: analysis.StageUploading, Message: "Preparing audio upload..."},
		cancel:   cancel,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return nil
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		m.progress = analysis.Progress(msg)
		return m, nil

	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if !m.cancelled && m.cancel != nil {
				m.cancel()
			}
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	switch {
	case m.done && m.result != nil && m.result.Success && m.result.Metrics != nil:
		b.WriteString(RenderMetrics(*m.result.Metrics))
	case m.done && m.result != nil && m.result.Err != nil:
		b.WriteString(RenderError(m.result.Err))
	case m.done && m.err != nil:
		b.WriteString(ErrorStyle.Render("✗ " + m.err.Error()))
	case m.cancelled:
		b.WriteString(DimStyle.Render(analysis.CancelledMessage))
	default:
		b.WriteString(RenderProgress(m.progress))
		b.WriteString("\n")
		b.WriteString(DimStyle.Render("q to cancel"))
	}
	b.WriteString("\n")
	return b.String()
}

// Result returns the final result once DoneMsg has been received.
func (m ProgressModel) Result() (*analysis.Result, error) {
	return m.result, m.err
}

// Cancelled reports whether the user aborted the analysis.
func (m ProgressModel) Cancelled() bool {
	return m.cancelled
}
