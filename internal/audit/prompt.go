package audit

import (
	"fmt"
	"strings"

	"regaudit/internal/model"
)

const systemPrompt = `You are a compliance auditor performing a gap analysis of one regulatory mandate against excerpts of the company's internal policies. Answer only in the requested JSON format.`

func buildPrompt(m model.Mandate, evidence []model.Evidence) string {
	var ctx strings.Builder
	for i, e := range evidence {
		if i > 0 {
			ctx.WriteString("\n\n===\n\n")
		}
		fmt.Fprintf(&ctx, "Source: %s\n%s", e.Chunk.SourceDoc, e.Chunk.Text)
	}

	return fmt.Sprintf(`Regulatory mandate to analyze:
Title: %s
Requirement: %s
Category: %s
Source text: %s

Relevant sections from our internal policies:
%s

Your task:
1. Compare the internal policy text with the requirement of the mandate.
2. Decide whether we are fully compliant, partially compliant, or have a major gap.
3. Name the impacted documents, using the "Source:" names above.
4. Explain why the current policy is insufficient or where the gap is.
5. Assign a risk level: Critical, High, Medium, Low, or Compliant.
6. Give a confidence score between 0.0 and 1.0.

Respond with JSON only:
{
  "compliance_status": "Fully Compliant" | "Partially Compliant" | "Major Gap",
  "risk_level": "Critical" | "High" | "Medium" | "Low" | "Compliant",
  "gap_description": "...",
  "impacted_documents": ["..."],
  "confidence": 0.0
}`, m.Title, m.RequirementText, m.Category, m.SourceExcerpt, ctx.String())
}
