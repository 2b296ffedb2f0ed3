package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		in   string
		want RiskLevel
		ok   bool
	}{
		{"High", RiskHigh, true},
		{"  critical risk ", RiskCritical, true},
		{"MEDIUM", RiskMedium, true},
		{"low", RiskLow, true},
		{"Compliant", RiskCompliant, true},
		{"non-compliant", "", false},
		{"", "", false},
		{"unclear", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRiskLevel(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestRiskLevelRankAndDowngrade(t *testing.T) {
	assert.Less(t, RiskCritical.Rank(), RiskHigh.Rank())
	assert.Less(t, RiskLow.Rank(), RiskCompliant.Rank())
	assert.False(t, RiskLevel("Severe").Valid())

	assert.Equal(t, RiskHigh, RiskCritical.Downgrade())
	assert.Equal(t, RiskMedium, RiskHigh.Downgrade())
	assert.Equal(t, RiskLow, RiskMedium.Downgrade())
	assert.Equal(t, RiskLow, RiskLow.Downgrade())
	assert.Equal(t, RiskCompliant, RiskCompliant.Downgrade())
}

func TestParseDocumentKind(t *testing.T) {
	assert.Equal(t, KindConceptRelease, ParseDocumentKind("Concept Release"))
	assert.Equal(t, KindConceptRelease, ParseDocumentKind("concept_release"))
	assert.Equal(t, KindRule, ParseDocumentKind("Final Rule"))
	assert.Equal(t, KindRule, ParseDocumentKind(""))
}
