// Package report aggregates the findings of a run into the prioritized
// compliance report.
package report

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"regaudit/internal/llm"
	"regaudit/internal/model"
)

// Disclaimer is attached to every report.
const Disclaimer = "This is an AI-generated preliminary analysis and requires comprehensive review by human legal and compliance professionals before any action is taken."

// SummaryFailed prefixes the executive summary when the summary call fails.
const SummaryFailed = "Executive summary generation failed"

// Completer is the generative-model call the synthesizer needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Synthesizer builds reports.
type Synthesizer struct {
	llm       Completer
	maxChars  int
	maxTokens int
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a synthesizer. maxChars bounds the findings text submitted for
// summarization.
func New(c Completer, maxChars, maxTokens int, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{llm: c, maxChars: maxChars, maxTokens: maxTokens, logger: logger, now: time.Now}
}

// Synthesize groups findings by risk level and asks the model for an
// executive summary and phased action plan. entries are the regulations in
// processing order. The grouped findings come from local data only, so a
// failed summary call still yields a complete report; the error return is
// reserved for context cancellation.
func (s *Synthesizer) Synthesize(ctx context.Context, entries []model.RegulationEntry, findings []model.Finding) (*model.Report, error) {
	ordered := Order(entries, findings)
	r := &model.Report{
		GeneratedAt: s.now(),
		Regulations: slices.Clone(entries),
		Findings:    ordered,
		Groups:      Group(ordered),
		Disclaimer:  Disclaimer,
	}
	if r.Regulations == nil {
		r.Regulations = []model.RegulationEntry{}
	}

	if len(ordered) == 0 {
		r.ExecutiveSummary = noFindingsSummary(entries)
		r.ActionPlan = LocalPlan(r.Groups)
		return r, nil
	}

	full := findingsText(r)
	text, truncated := llm.Truncate(full, s.maxChars)
	if truncated {
		s.logger.Warn("findings text truncated before summarization",
			zap.Int("max_chars", s.maxChars), zap.Int("original_chars", len([]rune(full))))
	}

	resp, err := s.llm.Complete(ctx, systemPrompt, buildPrompt(entries, text), s.maxTokens)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("summary generation failed; using local action plan", zap.Error(err))
		r.ExecutiveSummary = fmt.Sprintf("%s (%v). The detailed findings below are complete.", SummaryFailed, err)
		r.ActionPlan = LocalPlan(r.Groups)
		return r, nil
	}

	sum := parseSummary(resp)
	r.ExecutiveSummary = sum.summary
	r.ActionPlan = sum.plan
	r.Stakeholders = sum.stakeholders
	if r.ExecutiveSummary == "" {
		s.logger.Warn("model response had no executive summary")
		r.ExecutiveSummary = SummaryFailed + " (the model response could not be parsed). The detailed findings below are complete."
	}
	if len(r.ActionPlan) == 0 {
		r.ActionPlan = LocalPlan(r.Groups)
	}
	return r, nil
}

// Order sorts findings by risk level, then by regulation processing order,
// then by mandate order. Findings of regulations not in entries sort after
// the known ones. The input is not modified.
func Order(entries []model.RegulationEntry, findings []model.Finding) []model.Finding {
	pos := make(map[string]int, len(entries))
	for i, e := range entries {
		if _, ok := pos[e.Regulation.ID]; !ok {
			pos[e.Regulation.ID] = i
		}
	}
	regPos := func(id string) int {
		if p, ok := pos[id]; ok {
			return p
		}
		return len(entries)
	}

	out := slices.Clone(findings)
	if out == nil {
		out = []model.Finding{}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RiskLevel.Rank() != b.RiskLevel.Rank() {
			return a.RiskLevel.Rank() < b.RiskLevel.Rank()
		}
		if pa, pb := regPos(a.RegulationID), regPos(b.RegulationID); pa != pb {
			return pa < pb
		}
		if a.RegulationID != b.RegulationID {
			return a.RegulationID < b.RegulationID
		}
		return a.Seq < b.Seq
	})
	return out
}

// Group splits ordered findings into one group per non-empty risk level,
// most severe first. Each group's impacted documents are the deduplicated
// union of its findings' documents in first-seen order.
func Group(ordered []model.Finding) []model.RiskGroup {
	var groups []model.RiskGroup
	for _, level := range model.RiskLevels {
		g := model.RiskGroup{Level: level, ImpactedDocuments: []string{}}
		seen := make(map[string]bool)
		for _, f := range ordered {
			if f.RiskLevel != level {
				continue
			}
			g.Findings = append(g.Findings, f)
			for _, d := range f.ImpactedDocuments {
				if !seen[d] {
					seen[d] = true
					g.ImpactedDocuments = append(g.ImpactedDocuments, d)
				}
			}
		}
		if len(g.Findings) > 0 {
			groups = append(groups, g)
		}
	}
	if groups == nil {
		groups = []model.RiskGroup{}
	}
	return groups
}

// LocalPlan derives a phased action plan from the risk groups without a
// model call.
func LocalPlan(groups []model.RiskGroup) []model.Phase {
	phases := []struct {
		name   string
		levels []model.RiskLevel
		verb   string
	}{
		{"Immediate (0-30 days)", []model.RiskLevel{model.RiskCritical, model.RiskHigh}, "Remediate"},
		{"Near-term (30-90 days)", []model.RiskLevel{model.RiskMedium}, "Review and strengthen policy for"},
		{"Monitor", []model.RiskLevel{model.RiskLow}, "Monitor"},
	}

	var plan []model.Phase
	for _, ph := range phases {
		var actions []string
		for _, g := range groups {
			if !slices.Contains(ph.levels, g.Level) {
				continue
			}
			for _, f := range g.Findings {
				req, cut := llm.Truncate(f.Requirement, 120)
				if cut {
					req += "..."
				}
				actions = append(actions, fmt.Sprintf("%s %s (%s): %s", ph.verb, f.MandateID, f.RegulationID, req))
			}
		}
		if len(actions) > 0 {
			plan = append(plan, model.Phase{Name: ph.name, Actions: actions})
		}
	}
	if len(plan) == 0 {
		plan = []model.Phase{{
			Name:    "Monitor",
			Actions: []string{"No remediation required; keep internal policies under periodic review."},
		}}
	}
	return plan
}

func noFindingsSummary(entries []model.RegulationEntry) string {
	if len(entries) == 0 {
		return "No new regulations were processed in this run."
	}
	return fmt.Sprintf("%d regulation(s) were considered and no compliance findings were produced. See the regulation list for the status of each.", len(entries))
}

// findingsText is the plain-text rendering of the grouped findings submitted
// for summarization.
func findingsText(r *model.Report) string {
	var b strings.Builder
	for _, g := range r.Groups {
		fmt.Fprintf(&b, "== %s (%d) ==\n", g.Level, len(g.Findings))
		for _, f := range g.Findings {
			fmt.Fprintf(&b, "- [%s] %s: %s\n  Gap: %s\n", f.RegulationID, f.MandateID, f.Requirement, f.GapDescription)
			if len(f.ImpactedDocuments) > 0 {
				fmt.Fprintf(&b, "  Impacted documents: %s\n", strings.Join(f.ImpactedDocuments, ", "))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
