package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"regaudit/internal/index"
	"regaudit/internal/model"
)

type searchModel struct {
	viewport    viewport.Model
	input       textinput.Model
	spinner     spinner.Model
	renderer    *glamour.TermRenderer
	entries     []searchEntry
	ctx         context.Context
	idx         *index.Index
	searching   bool
	k           int
	width       int
	height      int
	initialized bool
}

type searchEntry struct {
	kind    string // query, results, error, system
	content string
}

// searchResultMsg is sent when a policy search completes.
type searchResultMsg struct {
	query   string
	results []model.Evidence
	err     error
}

func newSearchModel(ctx context.Context, idx *index.Index, k int) searchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle

	ti := textinput.New()
	ti.Placeholder = "Describe a requirement to find the policies that cover it..."
	ti.CharLimit = 2000
	ti.Focus()

	if k <= 0 {
		k = 5
	}
	return searchModel{
		spinner: sp,
		input:   ti,
		ctx:     ctx,
		idx:     idx,
		k:       k,
	}
}

func (m *searchModel) initViewport(width, height int) {
	m.width = width
	m.height = height

	// Layout: viewport + status bar (1 line) + input (1 line) + gap (1 line).
	vpHeight := max(height-3, 5)
	m.viewport = viewport.New(width, vpHeight)
	m.viewport.SetContent(dimStyle.Render("Search your internal policies.\n\nCommands: /help, /clear, /exit. Esc returns to the menu."))

	m.input.Width = width - 4

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err == nil {
		m.renderer = r
	}

	m.initialized = true
}

func runSearch(m searchModel, query string) tea.Cmd {
	ctx, idx, k := m.ctx, m.idx, m.k
	return func() tea.Msg {
		results, err := idx.Search(ctx, query, k)
		return searchResultMsg{query: query, results: results, err: err}
	}
}

func (m searchModel) Update(msg tea.Msg) (searchModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.initViewport(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case searchResultMsg:
		m.searching = false
		switch {
		case errors.Is(msg.err, index.ErrEmptyIndex):
			m.entries = append(m.entries, searchEntry{kind: "system", content: "The policy index is empty. Run a gap analysis or 'regaudit ingest' first."})
		case msg.err != nil:
			m.entries = append(m.entries, searchEntry{kind: "error", content: msg.err.Error()})
		default:
			m.entries = append(m.entries, searchEntry{kind: "results", content: formatResults(msg.results)})
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.searching {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			m.refresh()
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		if m.searching {
			return m, nil
		}
		if msg.Type == tea.KeyEnter {
			query := strings.TrimSpace(m.input.Value())
			if query == "" {
				return m, nil
			}
			m.input.Reset()

			switch query {
			case "/exit", "/quit":
				return m, tea.Quit
			case "/clear":
				m.entries = nil
				m.viewport.SetContent(dimStyle.Render("Results cleared."))
				return m, nil
			case "/help":
				m.entries = append(m.entries, searchEntry{kind: "system",
					content: "Commands:\n  /clear  - clear results\n  /exit   - quit\n  /help   - show this help\n  esc     - back to the menu"})
				m.refresh()
				return m, nil
			}

			m.entries = append(m.entries, searchEntry{kind: "query", content: query})
			m.searching = true
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, runSearch(m, query))
		}
	}

	if !m.searching {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *searchModel) refresh() {
	m.viewport.SetContent(m.renderEntries())
	m.viewport.GotoBottom()
}

func formatResults(results []model.Evidence) string {
	if len(results) == 0 {
		return "_No matching passages._"
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "**%d. %s** @%d (similarity %.3f)\n\n", i+1, r.Chunk.SourceDoc, r.Chunk.Offset, r.Similarity)
		for _, line := range strings.Split(strings.TrimSpace(r.Chunk.Text), "\n") {
			fmt.Fprintf(&sb, "> %s\n", line)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m searchModel) renderMarkdown(content string) string {
	if m.renderer == nil {
		return resultStyle.Render(content)
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return resultStyle.Render(content)
	}
	return strings.TrimRight(rendered, "\n")
}

func (m searchModel) renderEntries() string {
	var sb strings.Builder
	for _, e := range m.entries {
		switch e.kind {
		case "query":
			sb.WriteString(queryStyle.Render("Query: ") + e.content + "\n\n")
		case "results":
			sb.WriteString(m.renderMarkdown(e.content) + "\n\n")
		case "error":
			sb.WriteString(errorStyle.Render("Error: "+e.content) + "\n\n")
		case "system":
			sb.WriteString(dimStyle.Render(e.content) + "\n\n")
		}
	}
	if m.searching {
		sb.WriteString(m.spinner.View() + " " + dimStyle.Render("Searching...") + "\n")
	}
	return sb.String()
}

func (m searchModel) View(width, height int) string {
	if !m.initialized {
		return ""
	}

	status := "idle"
	if m.searching {
		status = "searching..."
	}
	statusBar := statusBarStyle.
		Width(m.width).
		Render(fmt.Sprintf(" regaudit search • top %d • %s", m.k, status))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewport.View(),
		statusBar,
		m.input.View(),
	)
}
