// Package audit compares each mandate with the internal policies retrieved
// for it and classifies the gap.
package audit

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"regaudit/internal/index"
	"regaudit/internal/model"
)

// NoCoverage is the gap description of a finding for which the index had no
// internal documents at all.
const NoCoverage = "no internal policy coverage found: the policy index holds no documents to compare against"

// InferredNote marks a finding whose risk level was defaulted.
const InferredNote = "[risk level inferred]"

// Completer is the generative-model call the auditor needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Searcher retrieves policy evidence for a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]model.Evidence, error)
}

// Auditor is the gap audit stage.
type Auditor struct {
	llm       Completer
	index     Searcher
	k         int
	maxTokens int
	logger    *zap.Logger
}

// New creates an auditor retrieving k chunks per mandate.
func New(c Completer, s Searcher, k, maxTokens int, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if k <= 0 {
		k = 5
	}
	return &Auditor{llm: c, index: s, k: k, maxTokens: maxTokens, logger: logger}
}

// Audit produces the finding for mandate m, the seq-th mandate of its
// regulation. kind is the regulation's document kind; concept releases have
// model-assigned risk levels weighted down one step.
//
// Failures of retrieval or of the model call become visible notes on a
// Medium finding instead of errors. Only context cancellation is returned.
func (a *Auditor) Audit(ctx context.Context, m model.Mandate, kind model.DocumentKind, seq int) (model.Finding, error) {
	log := a.logger.With(zap.String("mandate", m.ID))
	f := model.Finding{
		MandateID:    m.ID,
		RegulationID: m.RegulationID,
		Seq:          seq,
		Requirement:  m.RequirementText,
	}

	evidence, err := a.index.Search(ctx, query(m), a.k)
	switch {
	case errors.Is(err, index.ErrEmptyIndex):
		log.Warn("no internal documents indexed; marking mandate as uncovered")
		f.RiskLevel = model.RiskHigh
		f.GapDescription = NoCoverage
		f.ImpactedDocuments = []string{}
		return f, nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return f, ctxErr
		}
		log.Warn("policy retrieval failed", zap.Error(err))
		f.RiskLevel = model.RiskMedium
		f.RiskLevelInferred = true
		f.GapDescription = fmt.Sprintf("%s policy retrieval failed (%v); manual review required.", InferredNote, err)
		f.ImpactedDocuments = []string{}
		return f, nil
	}
	f.Evidence = evidence

	resp, err := a.llm.Complete(ctx, systemPrompt, buildPrompt(m, evidence), a.maxTokens)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return f, ctxErr
		}
		log.Warn("gap analysis call failed", zap.Error(err))
		f.RiskLevel = model.RiskMedium
		f.RiskLevelInferred = true
		f.GapDescription = fmt.Sprintf("%s gap analysis could not be generated (%v); manual review required.", InferredNote, err)
		f.ImpactedDocuments = sources(evidence)
		return f, nil
	}

	v := parseVerdict(resp)
	f.ComplianceStatus = v.status
	f.Confidence = v.confidence
	f.ImpactedDocuments = impacted(v.documents, evidence)

	gap := v.gap
	if gap == "" {
		gap = "The model did not describe the gap."
	}
	if v.risk == "" {
		log.Warn("risk level not found in model response; defaulting to Medium")
		f.RiskLevel = model.RiskMedium
		f.RiskLevelInferred = true
		f.GapDescription = InferredNote + " " + gap
		return f, nil
	}

	f.RiskLevel = v.risk
	f.GapDescription = gap
	if kind == model.KindConceptRelease && v.risk != v.risk.Downgrade() {
		f.RiskLevel = v.risk.Downgrade()
		f.GapDescription = fmt.Sprintf("%s (Concept release: risk weighted down from %s.)", gap, v.risk)
	}

	log.Debug("mandate audited",
		zap.String("risk", string(f.RiskLevel)),
		zap.Int("evidence", len(evidence)),
		zap.Strings("impacted", f.ImpactedDocuments))
	return f, nil
}

// query is the retrieval text for a mandate.
func query(m model.Mandate) string {
	if m.Category == "" || m.Category == "General" {
		return m.RequirementText
	}
	return m.RequirementText + "\nCategory: " + m.Category
}

// sources lists the distinct evidence documents in retrieval order.
func sources(evidence []model.Evidence) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, e := range evidence {
		if !seen[e.Chunk.SourceDoc] {
			seen[e.Chunk.SourceDoc] = true
			out = append(out, e.Chunk.SourceDoc)
		}
	}
	return out
}

// impacted keeps the model-named documents that were actually retrieved,
// mapped to their canonical names. If the model named none of them, every
// retrieved document is impacted.
func impacted(named []string, evidence []model.Evidence) []string {
	all := sources(evidence)
	seen := make(map[string]bool)
	out := []string{}
	for _, n := range named {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		for _, src := range all {
			base := strings.ToLower(path.Base(src))
			stem := strings.TrimSuffix(base, path.Ext(base))
			if !seen[src] && (strings.Contains(n, base) || strings.Contains(n, stem) || strings.Contains(base, n)) {
				seen[src] = true
				out = append(out, src)
			}
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}
