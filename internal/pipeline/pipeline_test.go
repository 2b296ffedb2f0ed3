package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"regaudit/internal/audit"
	"regaudit/internal/embedder"
	"regaudit/internal/extract"
	"regaudit/internal/index"
	"regaudit/internal/ledger"
	"regaudit/internal/model"
	"regaudit/internal/report"
	"regaudit/internal/source"
	"regaudit/internal/storage"
)

func TestMain(m *testing.M) {
	// genai's transitive opencensus import starts a worker in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeSource serves a fixed candidate list; ids in failFetch cannot be
// fetched.
type fakeSource struct {
	mu        sync.Mutex
	regs      []model.Regulation
	failFetch map[string]bool
	fetched   []string
}

func (s *fakeSource) Discover(ctx context.Context, limit int) ([]model.Regulation, error) {
	if limit > 0 && len(s.regs) > limit {
		return s.regs[:limit], nil
	}
	return s.regs, nil
}

func (s *fakeSource) Fetch(ctx context.Context, reg model.Regulation) (model.Regulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, reg.ID)
	if s.failFetch[reg.ID] {
		return reg, source.ErrSourceFetch
	}
	return reg, nil
}

// routerLLM answers each stage's prompt with a canned response.
type routerLLM struct{}

func (routerLLM) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	switch {
	case strings.Contains(prompt, "Relevant sections from our internal policies"):
		return `{"compliance_status": "Major Gap", "risk_level": "High", "gap_description": "No matching procedure.", "impacted_documents": ["incident.md"], "confidence": 0.7}`, nil
	case strings.Contains(prompt, "Gap analysis findings"):
		return `{"executive_summary": "R1 has two high gaps.", "action_plan": [{"phase": "Immediate", "actions": ["Write a disclosure procedure"]}], "stakeholders": ["Legal"]}`, nil
	case strings.Contains(prompt, "Regulation: Concept Release"):
		return `{"document_type": "concept_release", "mandates": []}`, nil
	default:
		return `{"document_type": "rule", "mandates": [
  {"title": "Incident Disclosure", "requirement": "Disclose material cybersecurity incidents within four business days.", "category": "Disclosure"},
  {"title": "Record Retention", "requirement": "Retain incident records for five years.", "category": "Recordkeeping"}
]}`, nil
	}
}

type fixture struct {
	dir      string
	src      *fakeSource
	ledger   *ledger.Ledger
	storage  *storage.Local
	pipeline *Pipeline
	events   []Event
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newFixture(t *testing.T, regs []model.Regulation) *fixture {
	t.Helper()
	dir := t.TempDir()
	policies := filepath.Join(dir, "policies")
	writeFile(t, filepath.Join(policies, "incident.md"), strings.Repeat("Security incidents are escalated to the CISO within one day. ", 5))
	writeFile(t, filepath.Join(policies, "retention.md"), strings.Repeat("Operational records are retained for three years. ", 5))

	idx, err := index.Open(context.Background(), index.Config{
		DBPath:    filepath.Join(dir, "index.db"),
		Metric:    "cosine",
		Window:    200,
		Overlap:   40,
		BatchSize: 8,
	}, embedder.NewHashingEmbedder(64), nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	l, err := ledger.Open(filepath.Join(dir, "processed.jsonl"), nil)
	require.NoError(t, err)

	f := &fixture{
		dir:     dir,
		src:     &fakeSource{regs: regs, failFetch: map[string]bool{}},
		ledger:  l,
		storage: storage.NewLocal(filepath.Join(dir, "reports"), nil),
	}
	llm := routerLLM{}
	f.pipeline, err = New(Config{
		PoliciesDir:    policies,
		FetchLimit:     5,
		ExtractWorkers: 2,
		Index:          idx,
		Source:         f.src,
		Ledger:         l,
		Extractor:      extract.New(llm, 10000, 1000, nil),
		Auditor:        audit.New(llm, idx, 5, 1000, nil),
		Synthesizer:    report.New(llm, 10000, 1000, nil),
		Storage:        f.storage,
		Observer:       func(ev Event) { f.events = append(f.events, ev) },
	})
	require.NoError(t, err)
	return f
}

func regulations(t *testing.T, dir string) []model.Regulation {
	t.Helper()
	r1 := filepath.Join(dir, "regs", "r1.txt")
	r2 := filepath.Join(dir, "regs", "r2.txt")
	writeFile(t, r1, "Registrants must disclose material cybersecurity incidents within four business days.\n\nRegistrants shall retain incident records for five years.")
	writeFile(t, r2, "The Commission requests comment on potential changes to market structure.")
	return []model.Regulation{
		{ID: "R1", Title: "Cybersecurity Incident Disclosure", Date: "2026-03-01", LocalPath: r1},
		{ID: "R2", Title: "Concept Release on Market Structure", Date: "2026-02-10", LocalPath: r2},
	}
}

func TestRun_EndToEndAndIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.src.regs = regulations(t, f.dir)

	res, err := f.pipeline.Run(ctx)
	require.NoError(t, err)

	assert.True(t, f.ledger.Contains("R1"))
	assert.True(t, f.ledger.Contains("R2"))
	assert.Equal(t, []string{"R1", "R2"}, res.Committed)
	assert.Positive(t, res.ChunksAdded)
	assert.NoError(t, res.IngestErr)

	r := res.Report
	require.NotNil(t, r)
	require.Len(t, r.Regulations, 2)
	assert.Equal(t, model.StatusAnalyzed, r.Regulations[0].Status)
	assert.Equal(t, 2, r.Regulations[0].Mandates)
	assert.Equal(t, model.StatusNoActionableMandates, r.Regulations[1].Status)
	assert.Equal(t, model.KindConceptRelease, r.Regulations[1].Kind)
	assert.Contains(t, r.Regulations[1].Note, "no actionable mandates")

	var r1Findings int
	for _, fd := range r.Findings {
		if fd.RegulationID == "R1" {
			r1Findings++
			assert.Equal(t, model.RiskHigh, fd.RiskLevel)
			assert.Equal(t, []string{"incident.md"}, fd.ImpactedDocuments)
		}
	}
	assert.GreaterOrEqual(t, r1Findings, 2)
	assert.Equal(t, "R1 has two high gaps.", r.ExecutiveSummary)

	name, data, err := f.storage.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "compliance_report_"))
	assert.Contains(t, string(data), "No actionable mandates")
	assert.Contains(t, string(data), res.RunID)

	// Second run: nothing new to ingest or fetch.
	f.src.fetched = nil
	again, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.ChunksAdded)
	assert.Empty(t, f.src.fetched)
	assert.Equal(t, 2, again.AlreadyProcessed)
	assert.Empty(t, again.Committed)
	assert.Empty(t, again.Report.Regulations)
	assert.NotEqual(t, res.Location, again.Location)
	assert.Equal(t, 2, f.ledger.Len())
}

func TestRun_FetchLimitAppliesToUnprocessedCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.pipeline.cfg.FetchLimit = 2

	text := "Registrants must disclose material cybersecurity incidents within four business days."
	var regs []model.Regulation
	for _, id := range []string{"R1", "R2", "R3", "R4", "R5"} {
		path := filepath.Join(f.dir, "regs", id+".txt")
		writeFile(t, path, text)
		regs = append(regs, model.Regulation{ID: id, Title: "Rule " + id, Date: "2026-03-01", LocalPath: path})
	}
	f.src.regs = regs

	first, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, first.Committed)
	assert.Equal(t, 3, first.Deferred)

	second, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"R3", "R4"}, second.Committed)
	assert.Equal(t, 2, second.AlreadyProcessed)
	assert.Equal(t, 1, second.Deferred)

	third, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"R5"}, third.Committed)
	assert.Zero(t, third.Deferred)
	assert.Equal(t, 5, f.ledger.Len())
}

func TestRun_FetchFailureRetriedNextRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.src.regs = regulations(t, f.dir)
	f.src.failFetch["R1"] = true

	res, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"R2"}, res.Committed)
	assert.Equal(t, model.StatusSkipped, res.Report.Regulations[0].Status)
	assert.False(t, f.ledger.Contains("R1"))

	f.src.failFetch["R1"] = false
	res, err = f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, res.Committed)
	assert.True(t, f.ledger.Contains("R1"))
}

func TestRun_UnreadableRegulationIsRecordedAndCommitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	empty := filepath.Join(f.dir, "regs", "empty.txt")
	writeFile(t, empty, "   \n")
	f.src.regs = []model.Regulation{{ID: "R3", Title: "Blank Filing", LocalPath: empty}}

	res, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Report.Regulations, 1)
	assert.Equal(t, model.StatusCouldNotAnalyze, res.Report.Regulations[0].Status)
	assert.Empty(t, res.Report.Findings)
	assert.True(t, f.ledger.Contains("R3"))
}

func TestRun_NoMandatesIsRecordedNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := filepath.Join(f.dir, "regs", "history.txt")
	writeFile(t, p, "The Commission reviewed the history of this market.")
	f.src.regs = []model.Regulation{{ID: "R4", Title: "Historical Review", LocalPath: p}}

	f.pipeline.cfg.Extractor = extract.New(failingLLM{}, 10000, 1000, nil)

	res, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Report.Regulations, 1)
	assert.Equal(t, model.StatusCouldNotAnalyze, res.Report.Regulations[0].Status)
	assert.Contains(t, res.Report.Regulations[0].Note, "manual follow-up")
	assert.True(t, f.ledger.Contains("R4"))
}

func TestRun_EmitsStatesInOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.src.regs = regulations(t, f.dir)[:1]

	_, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	var states []State
	for _, ev := range f.events {
		if len(states) == 0 || states[len(states)-1] != ev.State {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []State{StateIngest, StateDiscover, StateFetch, StateExtract, StateAudit, StateReport, StateCommit, StateDone}, states)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	f.src.regs = regulations(t, f.dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Run(ctx)
	assert.Error(t, err)
	assert.Zero(t, f.ledger.Len())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

type failingLLM struct{}

func (failingLLM) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	return "", errors.New("model unavailable")
}
