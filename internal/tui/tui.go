package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"regaudit/internal/index"
	"regaudit/internal/pipeline"
	"regaudit/internal/storage"
)

// ViewState represents which screen is active.
type ViewState int

const (
	ViewWelcome ViewState = iota
	ViewRun
	ViewReport
	ViewSearch
)

// programRef is an indirect pointer to the tea.Program so background goroutines
// can send messages. It must be set after tea.NewProgram returns but before Run.
type programRef struct {
	p *tea.Program
}

func (r *programRef) send(msg tea.Msg) {
	if r != nil && r.p != nil {
		r.p.Send(msg)
	}
}

// Config holds the collaborators passed from the CLI layer.
type Config struct {
	Index      *index.Index
	Storage    storage.Storage
	LedgerPath string
	TopK       int
	// NewPipeline builds a pipeline reporting to observer.
	NewPipeline func(observer pipeline.Observer) (*pipeline.Pipeline, error)

	ctx context.Context
	// program is set internally so background goroutines can send messages.
	program *programRef
}

// Model is the top-level Bubble Tea model.
type Model struct {
	state  ViewState
	config Config
	width  int
	height int

	welcome welcomeModel
	run     runModel
	report  reportModel
	search  searchModel
}

// New creates a new TUI model with the given config.
func New(cfg Config) Model {
	if cfg.ctx == nil {
		cfg.ctx = context.Background()
	}
	return Model{
		state:  ViewWelcome,
		config: cfg,
	}
}

func (m Model) Init() tea.Cmd {
	return checkStatus(m.config)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		var c tea.Cmd
		switch m.state {
		case ViewReport:
			m.report, c = m.report.Update(msg)
		case ViewSearch:
			m.search, c = m.search.Update(msg)
		}
		return m, c

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if m.state != ViewSearch {
				return m, tea.Quit
			}
		case "esc":
			if m.state == ViewReport || m.state == ViewSearch || (m.state == ViewRun && m.run.finished) {
				m.state = ViewWelcome
				m.welcome = welcomeModel{}
				return m, checkStatus(m.config)
			}
		}
	}

	var cmd tea.Cmd

	switch m.state {
	case ViewWelcome:
		m.welcome, cmd = m.welcome.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		keyMsg, ok := msg.(tea.KeyMsg)
		if !ok || !m.welcome.ready {
			break
		}
		switch keyMsg.String() {
		case "r":
			m.state = ViewRun
			m.run = newRunModel()
			return m, tea.Batch(m.run.spinner.Tick, startRun(m.config))
		case "s":
			m.state = ViewSearch
			m.search = newSearchModel(m.config.ctx, m.config.Index, m.config.TopK)
			m.search.initViewport(m.width, m.height)
			return m, nil
		case "v":
			if m.welcome.latest != "" {
				m.state = ViewReport
				m.report = newReportModel()
				m.report.initViewport(m.width, m.height)
				return m, loadLatest(m.config)
			}
		}

	case ViewRun:
		m.run, cmd = m.run.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.run.finished && m.run.result != nil {
			m.state = ViewReport
			m.report = newReportModel()
			m.report.initViewport(m.width, m.height)
			return m, showReport(m.run.result)
		}

	case ViewReport:
		m.report, cmd = m.report.Update(msg)
		return m, cmd

	case ViewSearch:
		m.search, cmd = m.search.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	switch m.state {
	case ViewWelcome:
		return m.welcome.View(m.width, m.height)
	case ViewRun:
		return m.run.View(m.width, m.height)
	case ViewReport:
		return m.report.View(m.width, m.height)
	case ViewSearch:
		return m.search.View(m.width, m.height)
	}
	return ""
}

// Run starts the TUI program. Cancelling ctx, or quitting, stops a pipeline
// run in progress.
func Run(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ref := &programRef{}
	cfg.program = ref
	cfg.ctx = ctx
	model := New(cfg)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	ref.p = p
	_, err := p.Run()
	return err
}
