package model

import "strings"

// RiskLevel classifies a finding. The zero value is not a valid level.
type RiskLevel string

const (
	RiskCritical  RiskLevel = "Critical"
	RiskHigh      RiskLevel = "High"
	RiskMedium    RiskLevel = "Medium"
	RiskLow       RiskLevel = "Low"
	RiskCompliant RiskLevel = "Compliant"
)

// RiskLevels lists every level in report order, most severe first.
var RiskLevels = []RiskLevel{RiskCritical, RiskHigh, RiskMedium, RiskLow, RiskCompliant}

// Rank orders levels for sorting; lower is more severe. Unknown levels sort last.
func (r RiskLevel) Rank() int {
	for i, l := range RiskLevels {
		if l == r {
			return i
		}
	}
	return len(RiskLevels)
}

// Valid reports whether r is one of the defined levels.
func (r RiskLevel) Valid() bool { return r.Rank() < len(RiskLevels) }

// Downgrade returns the next less severe non-compliant level.
// Low and Compliant are unchanged.
func (r RiskLevel) Downgrade() RiskLevel {
	switch r {
	case RiskCritical:
		return RiskHigh
	case RiskHigh:
		return RiskMedium
	case RiskMedium:
		return RiskLow
	default:
		return r
	}
}

// ParseRiskLevel matches free text such as "high", "HIGH RISK" or
// "Compliant" against the defined levels.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	// "non-compliant" must not match Compliant.
	if strings.Contains(s, "non-compliant") || strings.Contains(s, "noncompliant") || strings.Contains(s, "not compliant") {
		return "", false
	}
	for _, l := range RiskLevels {
		if strings.Contains(s, strings.ToLower(string(l))) {
			return l, true
		}
	}
	return "", false
}
