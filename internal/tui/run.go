package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"regaudit/internal/pipeline"
)

type runModel struct {
	spinner    spinner.Model
	phase      pipeline.State
	regulation string
	message    string
	done       int
	total      int
	finished   bool
	result     *pipeline.Result
	err        error
}

func newRunModel() runModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle
	return runModel{
		spinner: sp,
		message: "Starting...",
	}
}

// runEventMsg relays a pipeline event.
type runEventMsg struct {
	ev pipeline.Event
}

// runDoneMsg is sent when the pipeline run completes.
type runDoneMsg struct {
	result *pipeline.Result
	err    error
}

func startRun(cfg Config) tea.Cmd {
	return func() tea.Msg {
		p, err := cfg.NewPipeline(func(ev pipeline.Event) {
			cfg.program.send(runEventMsg{ev: ev})
		})
		if err != nil {
			return runDoneMsg{err: err}
		}
		res, err := p.Run(cfg.ctx)
		return runDoneMsg{result: res, err: err}
	}
}

func (m runModel) Update(msg tea.Msg) (runModel, tea.Cmd) {
	switch msg := msg.(type) {
	case runDoneMsg:
		m.finished = true
		m.result = msg.result
		m.err = msg.err
		return m, nil
	case runEventMsg:
		m.phase = msg.ev.State
		m.message = msg.ev.Message
		if msg.ev.Regulation != "" {
			m.regulation = msg.ev.Regulation
		}
		m.done = msg.ev.Done
		m.total = msg.ev.Total
		return m, nil
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m runModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  Gap analysis") + "\n\n"

	if m.finished {
		if m.err != nil {
			s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
			s += dimStyle.Render("  Press Esc to go back, or q to quit.") + "\n"
			return s
		}
		r := m.result.Report
		s += successStyle.Render("  ✓ Run complete") + "\n\n"
		s += fmt.Sprintf("  Regulations: %d new, %d already processed\n", len(r.Regulations), m.result.AlreadyProcessed)
		if m.result.Deferred > 0 {
			s += dimStyle.Render(fmt.Sprintf("    %d more left for the next run", m.result.Deferred)) + "\n"
		}
		s += fmt.Sprintf("  Findings:    %d\n", len(r.Findings))
		for _, g := range r.Groups {
			s += riskStyle(g.Level).Render(fmt.Sprintf("    %-10s %d", g.Level, len(g.Findings))) + "\n"
		}
		if m.result.IngestErr != nil {
			s += warnStyle.Render("  ⚠ Policy ingestion incomplete: "+m.result.IngestErr.Error()) + "\n"
		}
		s += dimStyle.Render("  Saved to "+m.result.Location) + "\n\n"
		s += dimStyle.Render("  Press Enter to view the report, Esc to go back") + "\n"
		return s
	}

	s += fmt.Sprintf("  %s %s\n", m.spinner.View(), m.message)
	if m.regulation != "" {
		s += dimStyle.Render("    "+m.regulation) + "\n"
	}
	if m.total > 0 {
		s += fmt.Sprintf("  %d / %d %s\n", m.done, m.total, unit(m.phase))
	}
	s += "\n"
	s += dimStyle.Render("  Each mandate is audited against your policies; this may take a while...") + "\n"
	return s
}

func unit(s pipeline.State) string {
	switch s {
	case pipeline.StateIngest:
		return "documents"
	case pipeline.StateAudit:
		return "mandates"
	default:
		return "regulations"
	}
}
