package audit

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"regaudit/internal/llm"
	"regaudit/internal/model"
)

// verdict is what could be recovered from a gap-analysis response.
type verdict struct {
	risk       model.RiskLevel
	status     string
	gap        string
	documents  []string
	confidence float64
}

// parseVerdict runs the parse cascade: structured JSON first, then section
// headings and keywords. Fields found by an earlier strategy are kept; later
// strategies only fill what is missing. risk stays empty when no strategy
// finds one.
func parseVerdict(resp string) verdict {
	clean := llm.Clean(resp)

	v := parseStructured(clean)
	if v.risk != "" && v.gap != "" {
		return v
	}

	h := parseHeadings(clean)
	if v.risk == "" {
		v.risk = h.risk
	}
	if v.status == "" {
		v.status = h.status
	}
	if v.gap == "" {
		v.gap = h.gap
	}
	if len(v.documents) == 0 {
		v.documents = h.documents
	}
	if v.confidence == 0 {
		v.confidence = h.confidence
	}

	if v.risk == "" {
		v.risk = keywordRisk(clean)
	}
	if v.gap == "" && v.risk != "" {
		// Keep the whole response as the description when it has no
		// recognisable sections.
		v.gap, _ = llm.Truncate(strings.TrimSpace(clean), 1200)
	}
	return v
}

type verdictJSON struct {
	ComplianceStatus  string          `json:"compliance_status"`
	RiskLevel         string          `json:"risk_level"`
	GapDescription    string          `json:"gap_description"`
	GapAnalysis       string          `json:"gap_analysis"`
	ImpactedDocuments json.RawMessage `json:"impacted_documents"`
	Confidence        json.RawMessage `json:"confidence"`
}

func parseStructured(s string) verdict {
	var v verdict
	obj := llm.JSONObject(s)
	if obj == "" {
		return v
	}
	var j verdictJSON
	if err := json.Unmarshal([]byte(obj), &j); err != nil {
		return v
	}

	v.status = strings.TrimSpace(j.ComplianceStatus)
	v.gap = strings.TrimSpace(j.GapDescription)
	if v.gap == "" {
		v.gap = strings.TrimSpace(j.GapAnalysis)
	}
	if r, ok := model.ParseRiskLevel(j.RiskLevel); ok {
		v.risk = r
	} else if r, ok := statusRisk(v.status); ok {
		v.risk = r
	}
	v.documents = stringList(j.ImpactedDocuments)
	v.confidence = number(j.Confidence)
	return v
}

// stringList accepts either a JSON array of strings or a single string.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return splitList(one)
	}
	return nil
}

// number accepts a JSON number or a numeric string and clamps to [0, 1].
func number(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		f = parseConfidence(s)
	}
	return clamp01(f)
}

var headingRe = regexp.MustCompile(`(?i)^(risk level|risk|compliance status|status|gap analysis|gap description|gap|impacted documents?|confidence score|confidence)\s*:\s*(.*)$`)

var headingLeaderRe = regexp.MustCompile(`^[\s\-*#>•]*`)

func parseHeadings(s string) verdict {
	var (
		v       verdict
		section string
		gap     []string
	)
	for _, raw := range strings.Split(s, "\n") {
		line := strings.ReplaceAll(raw, "**", "")
		line = strings.TrimSpace(headingLeaderRe.ReplaceAllString(line, ""))

		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			if section == "gap" && line != "" {
				gap = append(gap, line)
			}
			continue
		}

		key, val := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		section = ""
		switch {
		case strings.HasPrefix(key, "risk"):
			if r, ok := model.ParseRiskLevel(val); ok {
				v.risk = r
			}
		case strings.Contains(key, "status"):
			v.status = strings.Trim(val, "[]")
			if v.risk == "" {
				if r, ok := statusRisk(val); ok {
					v.risk = r
				}
			}
		case strings.HasPrefix(key, "gap"):
			section = "gap"
			if val != "" {
				gap = append(gap, val)
			}
		case strings.HasPrefix(key, "impacted"):
			v.documents = splitList(val)
		case strings.HasPrefix(key, "confidence"):
			v.confidence = clamp01(parseConfidence(val))
		}
	}
	v.gap = strings.TrimSpace(strings.Join(gap, " "))
	return v
}

// negatedCompliantRe matches a negated compliance claim. The qualifier group
// is set for "not fully compliant" and similar, which reads as a partial gap.
var negatedCompliantRe = regexp.MustCompile(`\b(?:not|isn't|isn’t|aren't|never|no longer|cannot be considered)\s+(?:yet\s+)?(fully|entirely|completely|wholly)?\s*compliant\b`)

// statusRisk maps a compliance status onto a risk level. Negations are
// checked before "fully compliant" so a gap never reads as compliant.
func statusRisk(s string) (model.RiskLevel, bool) {
	s = strings.ToLower(s)
	if m := negatedCompliantRe.FindStringSubmatch(s); m != nil {
		if m[1] != "" {
			return model.RiskMedium, true
		}
		return model.RiskHigh, true
	}
	switch {
	case strings.Contains(s, "major gap"), strings.Contains(s, "non-compliant"),
		strings.Contains(s, "noncompliant"):
		return model.RiskHigh, true
	case strings.Contains(s, "partial"):
		return model.RiskMedium, true
	case strings.Contains(s, "fully compliant"), strings.TrimSpace(s) == "compliant":
		return model.RiskCompliant, true
	}
	return "", false
}

var riskWordRe = regexp.MustCompile(`(?i)\b(critical|high|medium|low)\s+risk\b|\brisk(?:\s+level)?\s*(?:is|of|:|=|-)?\s*(critical|high|medium|low)\b`)

// keywordRisk scans free text for a risk level or compliance status.
func keywordRisk(s string) model.RiskLevel {
	if m := riskWordRe.FindStringSubmatch(s); m != nil {
		word := m[1]
		if word == "" {
			word = m[2]
		}
		if r, ok := model.ParseRiskLevel(word); ok {
			return r
		}
	}
	if r, ok := statusRisk(s); ok {
		return r
	}
	return ""
}

var confidenceRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// parseConfidence reads "0.85", "85%" or "85" as a fraction.
func parseConfidence(s string) float64 {
	m := confidenceRe.FindString(s)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	if f > 1 {
		f /= 100
	}
	return f
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func splitList(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
