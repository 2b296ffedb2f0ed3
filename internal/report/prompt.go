package report

import (
	"fmt"
	"strings"

	"regaudit/internal/model"
)

const systemPrompt = `You are writing a compliance report for a company's legal team. Your tone is professional, clear and actionable. Answer only in the requested JSON format.`

func buildPrompt(entries []model.RegulationEntry, findings string) string {
	var regs strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&regs, "- %s (%s, %s): %s\n", e.Regulation.Title, e.Regulation.ID, e.Regulation.Date, e.Status.Label())
	}

	return fmt.Sprintf(`Regulations considered in this run:
%s
Gap analysis findings, grouped by risk level:
---
%s
---

Write:
1. An executive summary giving a high-level overview of the key compliance gaps.
2. A phased action plan (for example Immediate, Near-term, Monitor), each phase with concrete actions.
3. The stakeholders who should be notified (for example Legal, CISO, Board of Directors, HR).

Respond with JSON only:
{
  "executive_summary": "...",
  "action_plan": [{"phase": "...", "actions": ["..."]}],
  "stakeholders": ["..."]
}`, regs.String(), findings)
}
