// Package pipeline runs one gap-analysis pass: ingest internal policies,
// discover and fetch new regulations, extract and audit their mandates,
// write the report and commit the processed regulations to the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"regaudit/internal/audit"
	"regaudit/internal/extract"
	"regaudit/internal/index"
	"regaudit/internal/ledger"
	"regaudit/internal/model"
	"regaudit/internal/report"
	"regaudit/internal/source"
	"regaudit/internal/storage"
	"regaudit/internal/textract"
)

// State is a step of a run.
type State string

const (
	StateIngest   State = "ingest"
	StateDiscover State = "discover"
	StateFetch    State = "fetch"
	StateExtract  State = "extract"
	StateAudit    State = "audit"
	StateReport   State = "report"
	StateCommit   State = "commit"
	StateDone     State = "done"
)

// Event reports progress. Done and Total count work within the state, such
// as mandates audited out of the regulation's mandates.
type Event struct {
	State      State
	Regulation string
	Message    string
	Done       int
	Total      int
}

// Observer receives events synchronously from the running pipeline.
type Observer func(Event)

// Config wires the pipeline's collaborators.
type Config struct {
	PoliciesDir string
	// FetchLimit bounds the unprocessed candidates taken by one run.
	FetchLimit int
	// ExtractWorkers is the number of parallel policy text extractors.
	ExtractWorkers int

	Index       *index.Index
	Source      source.Source
	Ledger      *ledger.Ledger
	Extractor   *extract.Extractor
	Auditor     *audit.Auditor
	Synthesizer *report.Synthesizer
	Storage     storage.Storage

	Observer Observer
	Logger   *zap.Logger
}

// Result summarizes a run.
type Result struct {
	RunID    string
	Report   *model.Report
	Location string
	// ChunksAdded counts policy chunks ingested in this run.
	ChunksAdded int
	// IngestErr is set when a policy document failed to ingest. The run
	// continues against the documents that were indexed.
	IngestErr error
	// Discovered counts candidates returned by the source; AlreadyProcessed
	// of them were filtered out by the ledger.
	Discovered       int
	AlreadyProcessed int
	// Deferred counts new candidates left for a later run by FetchLimit.
	Deferred int
	Fetched  int
	Committed        []string
}

// Pipeline runs passes over the configured collaborators. Regulations and
// their mandates are processed one at a time.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Index == nil || cfg.Source == nil || cfg.Ledger == nil || cfg.Extractor == nil ||
		cfg.Auditor == nil || cfg.Synthesizer == nil || cfg.Storage == nil {
		return nil, errors.New("pipeline: missing collaborator")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, logger: logger, now: time.Now}, nil
}

func (p *Pipeline) emit(ev Event) {
	if p.cfg.Observer != nil {
		p.cfg.Observer(ev)
	}
}

// pending is a regulation outcome waiting to be committed.
type pending struct {
	reg    model.Regulation
	status model.EntryStatus
}

// Run executes one pass. Failures confined to one regulation or mandate are
// recorded in the report; Run returns an error only when the index is
// inconsistent, the report cannot be stored, the ledger cannot be written, or
// ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	log := p.logger.With(zap.String("run_id", res.RunID))
	log.Info("run started")

	if err := p.ingest(ctx, log, res); err != nil {
		return res, err
	}

	candidates, err := p.discover(ctx, log, res)
	if err != nil {
		return res, err
	}

	var (
		entries  []model.RegulationEntry
		findings []model.Finding
		commits  []pending
	)
	for i, reg := range candidates {
		entry, fs, commit, err := p.processRegulation(ctx, log, reg, i+1, len(candidates))
		if err != nil {
			return res, err
		}
		if entry.Status != model.StatusSkipped {
			res.Fetched++
		}
		entries = append(entries, entry)
		findings = append(findings, fs...)
		if commit {
			commits = append(commits, pending{reg: entry.Regulation, status: entry.Status})
		}
	}

	p.emit(Event{State: StateReport, Message: "Synthesizing report..."})
	r, err := p.cfg.Synthesizer.Synthesize(ctx, entries, findings)
	if err != nil {
		return res, err
	}
	r.RunID = res.RunID
	res.Report = r

	loc, err := p.store(ctx, r)
	if err != nil {
		return res, goerr.Wrap(err, "store report", goerr.V("run_id", res.RunID))
	}
	res.Location = loc
	log.Info("report stored", zap.String("location", loc), zap.Int("findings", len(r.Findings)))

	p.emit(Event{State: StateCommit, Message: "Updating ledger...", Total: len(commits)})
	at := p.now()
	for i, c := range commits {
		if err := p.cfg.Ledger.Append(ledger.NewEntry(c.reg, c.status, at)); err != nil {
			return res, goerr.Wrap(err, "commit regulation to ledger", goerr.V("regulation", c.reg.ID))
		}
		res.Committed = append(res.Committed, c.reg.ID)
		p.emit(Event{State: StateCommit, Regulation: c.reg.ID, Done: i + 1, Total: len(commits)})
	}

	p.emit(Event{State: StateDone, Message: "Run complete"})
	log.Info("run complete",
		zap.Int("regulations", len(entries)),
		zap.Int("findings", len(findings)),
		zap.Int("committed", len(res.Committed)))
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, log *zap.Logger, res *Result) error {
	p.emit(Event{State: StateIngest, Message: "Reading policy documents..."})

	if _, err := os.Stat(p.cfg.PoliciesDir); err != nil {
		log.Warn("policies directory unavailable; using the existing index",
			zap.String("dir", p.cfg.PoliciesDir), zap.Error(err))
		return nil
	}
	docs, err := index.CollectDocuments(p.cfg.PoliciesDir, p.cfg.ExtractWorkers, log)
	if err != nil {
		log.Warn("policy documents could not be listed; using the existing index", zap.Error(err))
		return nil
	}

	added, err := p.cfg.Index.Ingest(ctx, docs)
	res.ChunksAdded = added
	switch {
	case errors.Is(err, index.ErrIngestion):
		log.Error("policy ingestion failed; continuing with indexed documents", zap.Error(err))
		res.IngestErr = err
	case err != nil:
		return goerr.Wrap(err, "ingest policy documents")
	}
	p.emit(Event{State: StateIngest, Message: fmt.Sprintf("%d policy chunks added", added), Done: len(docs), Total: len(docs)})
	return nil
}

// discover lists candidates and drops those already in the ledger. A failed
// discovery pass yields no candidates; the run still produces a report.
func (p *Pipeline) discover(ctx context.Context, log *zap.Logger, res *Result) ([]model.Regulation, error) {
	p.emit(Event{State: StateDiscover, Message: "Discovering regulations..."})

	// The fetch limit bounds new work, so it applies after the ledger filter.
	// Capping the source listing instead would starve every candidate past
	// the first FetchLimit once those are processed.
	regs, err := p.cfg.Source.Discover(ctx, 0)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error("regulation discovery failed", zap.Error(err))
		return nil, nil
	}
	res.Discovered = len(regs)

	var fresh []model.Regulation
	seen := make(map[string]bool)
	for _, reg := range regs {
		if seen[reg.ID] {
			continue
		}
		seen[reg.ID] = true
		if p.cfg.Ledger.Contains(reg.ID) {
			res.AlreadyProcessed++
			log.Debug("regulation already processed", zap.String("regulation", reg.ID))
			continue
		}
		fresh = append(fresh, reg)
	}
	if limit := p.cfg.FetchLimit; limit > 0 && len(fresh) > limit {
		res.Deferred = len(fresh) - limit
		fresh = fresh[:limit]
	}

	log.Info("regulations discovered",
		zap.Int("discovered", len(regs)), zap.Int("new", len(fresh)),
		zap.Int("already_processed", res.AlreadyProcessed), zap.Int("deferred", res.Deferred))
	p.emit(Event{State: StateDiscover, Message: fmt.Sprintf("%d new regulation(s)", len(fresh)), Total: len(fresh)})
	return fresh, nil
}

// processRegulation fetches, extracts and audits one regulation. commit
// reports whether the outcome belongs in the ledger: fetch failures are
// retried on the next run, every other outcome is final.
func (p *Pipeline) processRegulation(ctx context.Context, log *zap.Logger, reg model.Regulation, n, total int) (entry model.RegulationEntry, findings []model.Finding, commit bool, err error) {
	log = log.With(zap.String("regulation", reg.ID))
	entry = model.RegulationEntry{Regulation: reg}

	p.emit(Event{State: StateFetch, Regulation: reg.ID, Message: reg.Title, Done: n - 1, Total: total})
	fetched, err := p.cfg.Source.Fetch(ctx, reg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return entry, nil, false, ctxErr
		}
		log.Warn("regulation fetch failed; will retry next run", zap.Error(err))
		entry.Status = model.StatusSkipped
		entry.Note = "document could not be fetched; it will be retried on the next run"
		return entry, nil, false, nil
	}
	entry.Regulation = fetched

	text, err := textract.Extract(fetched.LocalPath)
	if err != nil {
		log.Warn("regulation text unreadable", zap.Error(err))
		entry.Status = model.StatusCouldNotAnalyze
		entry.Note = "document text could not be read; manual review required"
		return entry, nil, true, nil
	}

	p.emit(Event{State: StateExtract, Regulation: reg.ID, Message: "Extracting mandates..."})
	ext, err := p.cfg.Extractor.Extract(ctx, fetched, text)
	if ext != nil {
		entry.Kind = ext.Kind
	}
	switch {
	case errors.Is(err, extract.ErrNoMandatesExtracted):
		log.Warn("no mandates extracted", zap.Error(err))
		entry.Status = model.StatusCouldNotAnalyze
		entry.Note = "no mandates could be extracted; manual follow-up required"
		return entry, nil, true, nil
	case err != nil:
		return entry, nil, false, err
	}

	var notes []string
	if ext.Truncated {
		notes = append(notes, "regulation text was truncated before extraction")
	}
	if ext.ModelErr != nil {
		notes = append(notes, "model call failed; mandates were recovered heuristically")
	}

	if len(ext.Mandates) == 0 {
		entry.Status = model.StatusNoActionableMandates
		entry.Note = strings.Join(append([]string{"concept release: no actionable mandates"}, notes...), "; ")
		log.Info("no actionable mandates", zap.String("kind", string(ext.Kind)))
		return entry, nil, true, nil
	}

	for i, m := range ext.Mandates {
		p.emit(Event{State: StateAudit, Regulation: reg.ID, Message: m.Title, Done: i, Total: len(ext.Mandates)})
		f, err := p.cfg.Auditor.Audit(ctx, m, ext.Kind, i+1)
		if err != nil {
			return entry, nil, false, err
		}
		findings = append(findings, f)
	}
	p.emit(Event{State: StateAudit, Regulation: reg.ID, Done: len(ext.Mandates), Total: len(ext.Mandates)})

	entry.Status = model.StatusAnalyzed
	entry.Mandates = len(ext.Mandates)
	entry.Note = strings.Join(notes, "; ")
	log.Info("regulation analyzed", zap.Int("mandates", len(ext.Mandates)), zap.String("strategy", string(ext.Strategy)))
	return entry, findings, true, nil
}

// store writes the rendered report. Two runs in the same second share a
// timestamp, so the second gets the run id appended to its name.
func (p *Pipeline) store(ctx context.Context, r *model.Report) (string, error) {
	data := []byte(report.RenderMarkdown(r))
	name := report.FileName(r.GeneratedAt)
	loc, err := p.cfg.Storage.Put(ctx, name, data)
	if errors.Is(err, storage.ErrExists) {
		name = strings.TrimSuffix(name, ".md") + "_" + r.RunID[:8] + ".md"
		loc, err = p.cfg.Storage.Put(ctx, name, data)
	}
	return loc, err
}
