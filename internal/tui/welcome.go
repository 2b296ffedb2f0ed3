package tui

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"regaudit/internal/ledger"
	"regaudit/internal/storage"
)

type welcomeModel struct {
	documents int
	chunks    int
	processed int
	latest    string
	err       error
	ready     bool // true once the check has completed
}

// statusMsg is sent after reading the index, ledger and report storage.
type statusMsg struct {
	documents int
	chunks    int
	processed int
	latest    string
	err       error
}

func checkStatus(cfg Config) tea.Cmd {
	return func() tea.Msg {
		var msg statusMsg

		st, err := cfg.Index.Stats(cfg.ctx)
		if err != nil {
			return statusMsg{err: err}
		}
		msg.documents, msg.chunks = st.Documents, st.Chunks

		l, err := ledger.Open(cfg.LedgerPath, nil)
		if err != nil {
			return statusMsg{err: err}
		}
		msg.processed = l.Len()

		name, _, err := cfg.Storage.Latest(cfg.ctx)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return statusMsg{err: err}
		}
		msg.latest = name
		return msg
	}
}

func (m welcomeModel) Update(msg tea.Msg) (welcomeModel, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.documents = msg.documents
		m.chunks = msg.chunks
		m.processed = msg.processed
		m.latest = msg.latest
		m.err = msg.err
		m.ready = true
	}
	return m, nil
}

func (m welcomeModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  ◆ regaudit") + "\n"
	s += subtitleStyle.Render("  Regulatory gap analysis over your internal policies") + "\n\n"

	if !m.ready {
		s += dimStyle.Render("  Checking index...") + "\n"
		return s
	}
	if m.err != nil {
		s += errorStyle.Render("  Error: "+m.err.Error()) + "\n\n"
	}

	if m.chunks > 0 {
		s += successStyle.Render(fmt.Sprintf("  ✓ %d policy documents indexed (%d chunks)", m.documents, m.chunks)) + "\n"
	} else {
		s += warnStyle.Render("  ✗ Policy index is empty; a run will ingest it first") + "\n"
	}
	s += dimStyle.Render(fmt.Sprintf("    %d regulations processed so far", m.processed)) + "\n"
	if m.latest != "" {
		s += dimStyle.Render("    Latest report: "+m.latest) + "\n"
	}

	s += "\n"
	s += listItemStyle.Render("  r  run gap analysis") + "\n"
	s += listItemStyle.Render("  s  search policies") + "\n"
	if m.latest != "" {
		s += listItemStyle.Render("  v  view latest report") + "\n"
	}
	s += helpStyle.Render("  q  quit") + "\n"
	return s
}
