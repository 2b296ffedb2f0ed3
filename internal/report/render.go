package report

import (
	"fmt"
	"strings"
	"time"

	"regaudit/internal/model"
)

const fileNameLayout = "20060102_150405"

// FileName is the artifact name of a report generated at t. Names sort
// chronologically.
func FileName(t time.Time) string {
	return "compliance_report_" + t.Format(fileNameLayout) + ".md"
}

// RenderMarkdown renders r as a markdown document.
func RenderMarkdown(r *model.Report) string {
	var b strings.Builder

	b.WriteString("# Regulatory Compliance Gap Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format(time.RFC1123))
	if r.RunID != "" {
		fmt.Fprintf(&b, "Run: `%s`\n", r.RunID)
	}

	b.WriteString("\n## Executive Summary\n\n")
	b.WriteString(r.ExecutiveSummary)
	b.WriteString("\n")

	b.WriteString("\n## Regulations Considered\n\n")
	if len(r.Regulations) == 0 {
		b.WriteString("No regulations were processed in this run.\n")
	} else {
		b.WriteString("| Regulation | Date | Type | Status | Mandates | Note |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, e := range r.Regulations {
			title := cell(e.Regulation.Title)
			if e.Regulation.URL != "" {
				title = fmt.Sprintf("[%s](%s)", title, e.Regulation.URL)
			}
			fmt.Fprintf(&b, "| %s (%s) | %s | %s | %s | %d | %s |\n",
				title, cell(e.Regulation.ID), cell(e.Regulation.Date), kindLabel(e.Kind),
				e.Status.Label(), e.Mandates, cell(e.Note))
		}
	}

	b.WriteString("\n## Findings by Risk Level\n")
	if len(r.Groups) == 0 {
		b.WriteString("\nNo findings.\n")
	}
	for _, g := range r.Groups {
		fmt.Fprintf(&b, "\n### %s (%d)\n\n", g.Level, len(g.Findings))
		if len(g.ImpactedDocuments) > 0 {
			fmt.Fprintf(&b, "Impacted documents: %s\n", strings.Join(g.ImpactedDocuments, ", "))
		}
		for _, f := range g.Findings {
			renderFinding(&b, f)
		}
	}

	b.WriteString("\n## Action Plan\n")
	for _, p := range r.ActionPlan {
		fmt.Fprintf(&b, "\n### %s\n\n", p.Name)
		for _, a := range p.Actions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	if len(r.Stakeholders) > 0 {
		b.WriteString("\n## Recommended Stakeholders for Notification\n\n")
		for _, s := range r.Stakeholders {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	fmt.Fprintf(&b, "\n---\n\n**Disclaimer:** %s\n", r.Disclaimer)
	return b.String()
}

func renderFinding(b *strings.Builder, f model.Finding) {
	fmt.Fprintf(b, "\n#### %s (%s)\n\n", f.MandateID, f.RegulationID)
	fmt.Fprintf(b, "**Requirement:** %s\n\n", f.Requirement)
	fmt.Fprintf(b, "**Gap:** %s\n\n", f.GapDescription)
	if f.ComplianceStatus != "" {
		fmt.Fprintf(b, "**Compliance status:** %s\n\n", f.ComplianceStatus)
	}
	if f.Confidence > 0 {
		fmt.Fprintf(b, "**Confidence:** %.2f\n\n", f.Confidence)
	}
	if len(f.ImpactedDocuments) > 0 {
		fmt.Fprintf(b, "**Impacted documents:** %s\n\n", strings.Join(f.ImpactedDocuments, ", "))
	}
	if len(f.Evidence) > 0 {
		b.WriteString("**Evidence:**\n\n")
		for _, e := range f.Evidence {
			fmt.Fprintf(b, "- `%s` @%d (similarity %.3f)\n", e.Chunk.SourceDoc, e.Chunk.Offset, e.Similarity)
		}
	}
}

func kindLabel(k model.DocumentKind) string {
	switch k {
	case model.KindConceptRelease:
		return "Concept release"
	case model.KindRule:
		return "Rule"
	}
	return "-"
}

// cell makes s safe inside a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	if s == "" {
		return "-"
	}
	return s
}
