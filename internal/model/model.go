// Package model defines the artifacts passed between pipeline stages.
// Each stage produces new values; nothing here is mutated after construction.
package model

import (
	"strings"
	"time"
)

// Regulation identifies one source regulation.
type Regulation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	URL       string `json:"url"`
	LocalPath string `json:"local_path"`
}

// DocumentKind separates binding rules from non-binding releases.
type DocumentKind string

const (
	KindRule           DocumentKind = "rule"
	KindConceptRelease DocumentKind = "concept_release"
)

// ParseDocumentKind maps model output such as "Final Rule" or
// "concept release" onto a DocumentKind. Anything unrecognised is a rule.
func ParseDocumentKind(s string) DocumentKind {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	if strings.Contains(s, "concept") {
		return KindConceptRelease
	}
	return KindRule
}

// Mandate is one discrete compliance requirement.
type Mandate struct {
	ID              string `json:"id"`
	RegulationID    string `json:"regulation_id"`
	Title           string `json:"title,omitempty"`
	RequirementText string `json:"requirement_text"`
	Category        string `json:"category"`
	SourceExcerpt   string `json:"source_excerpt"`
}

// Chunk is a bounded window of an internal policy document.
type Chunk struct {
	ID        int64  `json:"id"`
	SourceDoc string `json:"source_doc"`
	Text      string `json:"text"`
	Offset    int    `json:"offset"`
}

// Evidence is a retrieved chunk and its similarity to the query.
type Evidence struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// Finding is the gap analysis result for one mandate.
type Finding struct {
	MandateID         string     `json:"mandate_id"`
	RegulationID      string     `json:"regulation_id"`
	Seq               int        `json:"seq"`
	Requirement       string     `json:"requirement"`
	RiskLevel         RiskLevel  `json:"risk_level"`
	RiskLevelInferred bool       `json:"risk_level_inferred"`
	ComplianceStatus  string     `json:"compliance_status,omitempty"`
	Confidence        float64    `json:"confidence,omitempty"`
	GapDescription    string     `json:"gap_description"`
	Evidence          []Evidence `json:"evidence"`
	ImpactedDocuments []string   `json:"impacted_documents"`
}

// EntryStatus records how far a regulation got through the pipeline.
type EntryStatus string

const (
	StatusAnalyzed             EntryStatus = "analyzed"
	StatusNoActionableMandates EntryStatus = "no_actionable_mandates"
	StatusCouldNotAnalyze      EntryStatus = "could_not_analyze"
	StatusSkipped              EntryStatus = "skipped"
)

// Label is the human readable form used in reports.
func (s EntryStatus) Label() string {
	switch s {
	case StatusAnalyzed:
		return "Analyzed"
	case StatusNoActionableMandates:
		return "No actionable mandates"
	case StatusCouldNotAnalyze:
		return "Could not be analyzed"
	case StatusSkipped:
		return "Skipped"
	default:
		return string(s)
	}
}

// RegulationEntry is a regulation as it appears in a report, in processing
// order, with the outcome of its run.
type RegulationEntry struct {
	Regulation Regulation   `json:"regulation"`
	Kind       DocumentKind `json:"kind"`
	Status     EntryStatus  `json:"status"`
	Mandates   int          `json:"mandates"`
	Note       string       `json:"note,omitempty"`
}

// RiskGroup is the findings of one risk level in display order.
type RiskGroup struct {
	Level             RiskLevel `json:"level"`
	Findings          []Finding `json:"findings"`
	ImpactedDocuments []string  `json:"impacted_documents"`
}

// Phase is one step of the remediation plan.
type Phase struct {
	Name    string   `json:"phase"`
	Actions []string `json:"actions"`
}

// Report is the terminal artifact of a run.
type Report struct {
	RunID            string            `json:"run_id"`
	GeneratedAt      time.Time         `json:"generated_at"`
	Regulations      []RegulationEntry `json:"regulations"`
	Findings         []Finding         `json:"findings"`
	Groups           []RiskGroup       `json:"groups"`
	ExecutiveSummary string            `json:"executive_summary"`
	ActionPlan       []Phase           `json:"action_plan"`
	Stakeholders     []string          `json:"stakeholders,omitempty"`
	Disclaimer       string            `json:"disclaimer"`
}
