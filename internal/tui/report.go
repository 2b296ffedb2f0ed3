package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"regaudit/internal/pipeline"
	"regaudit/internal/report"
)

type reportModel struct {
	viewport    viewport.Model
	renderer    *glamour.TermRenderer
	name        string
	markdown    string
	err         error
	width       int
	height      int
	initialized bool
}

// reportLoadedMsg carries a report's markdown.
type reportLoadedMsg struct {
	name     string
	markdown string
	err      error
}

func newReportModel() reportModel {
	return reportModel{}
}

func loadLatest(cfg Config) tea.Cmd {
	return func() tea.Msg {
		name, data, err := cfg.Storage.Latest(cfg.ctx)
		return reportLoadedMsg{name: name, markdown: string(data), err: err}
	}
}

func showReport(res *pipeline.Result) tea.Cmd {
	return func() tea.Msg {
		return reportLoadedMsg{name: res.Location, markdown: report.RenderMarkdown(res.Report)}
	}
}

func (m *reportModel) initViewport(width, height int) {
	m.width = width
	m.height = height

	// Layout: viewport + status bar (1 line).
	vpHeight := max(height-1, 5)
	m.viewport = viewport.New(width, vpHeight)
	m.viewport.SetContent(dimStyle.Render("Loading report..."))

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err == nil {
		m.renderer = r
	}
	m.initialized = true
}

func (m reportModel) Update(msg tea.Msg) (reportModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.initViewport(msg.Width, msg.Height)
		m.viewport.SetContent(m.render())
		return m, nil

	case reportLoadedMsg:
		m.name = msg.name
		m.markdown = msg.markdown
		m.err = msg.err
		m.viewport.SetContent(m.render())
		m.viewport.GotoTop()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m reportModel) render() string {
	if m.err != nil {
		return errorStyle.Render("Error: " + m.err.Error())
	}
	if m.markdown == "" {
		return dimStyle.Render("Loading report...")
	}
	if m.renderer == nil {
		return m.markdown
	}
	out, err := m.renderer.Render(m.markdown)
	if err != nil {
		return m.markdown
	}
	return strings.TrimRight(out, "\n")
}

func (m reportModel) View(width, height int) string {
	if !m.initialized {
		return ""
	}
	statusBar := statusBarStyle.
		Width(m.width).
		Render(fmt.Sprintf(" regaudit report • %s • %3.f%% • esc back", m.name, m.viewport.ScrollPercent()*100))

	return lipgloss.JoinVertical(lipgloss.Left, m.viewport.View(), statusBar)
}
