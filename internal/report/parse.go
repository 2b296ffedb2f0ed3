package report

import (
	"encoding/json"
	"regexp"
	"strings"

	"regaudit/internal/llm"
	"regaudit/internal/model"
)

type summary struct {
	summary      string
	plan         []model.Phase
	stakeholders []string
}

type summaryJSON struct {
	ExecutiveSummary string        `json:"executive_summary"`
	ActionPlan       []model.Phase `json:"action_plan"`
	Stakeholders     []string      `json:"stakeholders"`
}

// parseSummary reads the summary response as JSON, falling back to section
// headings.
func parseSummary(resp string) summary {
	clean := llm.Clean(resp)

	if obj := llm.JSONObject(clean); obj != "" {
		var j summaryJSON
		if err := json.Unmarshal([]byte(obj), &j); err == nil && strings.TrimSpace(j.ExecutiveSummary) != "" {
			return summary{
				summary:      strings.TrimSpace(j.ExecutiveSummary),
				plan:         cleanPlan(j.ActionPlan),
				stakeholders: cleanList(j.Stakeholders),
			}
		}
	}
	return parseSections(clean)
}

var (
	sectionRe = regexp.MustCompile(`(?i)^(executive summary|high-level overview|action plan|recommended stakeholders(?: for notification)?|stakeholders)\s*:?\s*(.*)$`)
	phaseRe   = regexp.MustCompile(`(?i)^(phase\b.*|immediate.*|near[- ]term.*|short[- ]term.*|long[- ]term.*|monitor.*)$`)
	bulletRe  = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+(.*)$`)
	leaderRe  = regexp.MustCompile(`^[\s#>]*`)
)

func parseSections(s string) summary {
	var (
		out     summary
		section string
		text    []string
		phase   *model.Phase
	)
	flushPhase := func() {
		if phase != nil && len(phase.Actions) > 0 {
			out.plan = append(out.plan, *phase)
		}
		phase = nil
	}

	for _, raw := range strings.Split(s, "\n") {
		line := strings.TrimSpace(leaderRe.ReplaceAllString(strings.ReplaceAll(raw, "**", ""), ""))
		if line == "" {
			continue
		}
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			key := strings.ToLower(m[1])
			switch {
			case strings.Contains(key, "stakeholder"):
				section = "stakeholders"
			case key == "action plan":
				section = "plan"
			default:
				section = "summary"
			}
			if rest := strings.TrimSpace(m[2]); rest != "" {
				if section == "summary" {
					text = append(text, rest)
				} else if section == "stakeholders" {
					out.stakeholders = append(out.stakeholders, splitNames(rest)...)
				}
			}
			continue
		}

		bullet := ""
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			bullet = strings.TrimSpace(m[1])
		}
		switch section {
		case "summary":
			text = append(text, line)
		case "stakeholders":
			if bullet != "" {
				out.stakeholders = append(out.stakeholders, bullet)
			} else {
				out.stakeholders = append(out.stakeholders, splitNames(line)...)
			}
		case "plan":
			if bullet == "" && phaseRe.MatchString(line) {
				flushPhase()
				phase = &model.Phase{Name: strings.TrimSuffix(line, ":")}
				continue
			}
			if phase == nil {
				phase = &model.Phase{Name: "Actions"}
			}
			if bullet == "" {
				bullet = line
			}
			phase.Actions = append(phase.Actions, bullet)
		}
	}
	flushPhase()

	out.summary = strings.TrimSpace(strings.Join(text, " "))
	out.stakeholders = cleanList(out.stakeholders)
	return out
}

func cleanPlan(plan []model.Phase) []model.Phase {
	var out []model.Phase
	for _, p := range plan {
		p.Name = strings.TrimSpace(p.Name)
		p.Actions = cleanList(p.Actions)
		if p.Name == "" || len(p.Actions) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

func cleanList(items []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

func splitNames(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
}
