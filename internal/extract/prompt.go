package extract

import (
	"fmt"

	"regaudit/internal/model"
)

const systemPrompt = `You are a regulatory analyst. You extract binding compliance requirements from regulatory text and answer only in the requested JSON format.`

func buildPrompt(reg model.Regulation, text string) string {
	return fmt.Sprintf(`Analyze the following regulation and extract every actionable mandate a company must meet to be compliant.
Ignore the document's history, commentary and non-binding suggestions; focus only on direct requirements.

First classify the document:
- "rule" for a final or proposed rule that imposes obligations
- "concept_release" for a non-binding release that solicits comment

Respond with JSON only, in this shape:
{
  "document_type": "rule" | "concept_release",
  "mandates": [
    {
      "title": "short descriptive title, e.g. Incident Disclosure Timeline",
      "requirement": "one sentence stating what the company must do",
      "category": "e.g. Disclosure, Recordkeeping, Cybersecurity, Governance",
      "source_excerpt": "exact quote from the regulation that defines the mandate"
    }
  ]
}

A concept release usually has no mandates; return an empty list in that case.

Regulation: %s
---
%s
---`, reg.Title, text)
}
