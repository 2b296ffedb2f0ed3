package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regaudit/internal/llm"
	"regaudit/internal/model"
)

// fakeLLM returns a canned response and records the prompt it was given.
type fakeLLM struct {
	resp   string
	err    error
	prompt string
}

func (f *fakeLLM) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	f.prompt = prompt
	return f.resp, f.err
}

var rule = model.Regulation{ID: "34-99001", Title: "Cybersecurity Incident Disclosure"}

const ruleText = `Registrants must disclose any material cybersecurity incident within four business days.

The Commission has historically issued guidance on this topic.

Registrants shall describe their processes for assessing cybersecurity risk in the annual report.`

func TestExtract_StructuredJSON(t *testing.T) {
	f := &fakeLLM{resp: "```json\n" + `{
  "document_type": "rule",
  "mandates": [
    {"title": "Incident Disclosure", "requirement": "Disclose material incidents within four business days.", "category": "Disclosure", "source_excerpt": "must disclose any material cybersecurity incident"},
    {"title": "Risk Process", "requirement": "Describe cybersecurity risk processes annually.", "category": "Governance"},
    {"title": "Empty", "requirement": "   "}
  ]
}` + "\n```"}

	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), rule, ruleText)
	require.NoError(t, err)

	assert.Equal(t, StrategyStructured, ext.Strategy)
	assert.Equal(t, model.KindRule, ext.Kind)
	require.Len(t, ext.Mandates, 2)

	m := ext.Mandates[0]
	assert.Equal(t, "34-99001-M001", m.ID)
	assert.Equal(t, "34-99001", m.RegulationID)
	assert.Equal(t, "Incident Disclosure", m.Title)
	assert.Equal(t, "Disclosure", m.Category)
	assert.Equal(t, "must disclose any material cybersecurity incident", m.SourceExcerpt)

	// Missing excerpt falls back to the requirement text.
	assert.Equal(t, "34-99001-M002", ext.Mandates[1].ID)
	assert.Equal(t, ext.Mandates[1].RequirementText, ext.Mandates[1].SourceExcerpt)
	assert.Contains(t, f.prompt, ruleText)
}

func TestExtract_BareArray(t *testing.T) {
	f := &fakeLLM{resp: `Here are the mandates: [{"mandate": "Recordkeeping", "requirement": "Keep records for five years.", "source_text": "retain for five years"}]`}
	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), rule, ruleText)
	require.NoError(t, err)
	require.Len(t, ext.Mandates, 1)
	assert.Equal(t, StrategyStructured, ext.Strategy)
	assert.Equal(t, "Recordkeeping", ext.Mandates[0].Title)
	assert.Equal(t, "General", ext.Mandates[0].Category)
	assert.Equal(t, "retain for five years", ext.Mandates[0].SourceExcerpt)
}

func TestExtract_MarkerBlocks(t *testing.T) {
	f := &fakeLLM{resp: `**Mandate:** Incident Disclosure Timeline
**Requirement:** Disclose material cybersecurity incidents within four business days.
**Category:** Disclosure
**Source Text:** "Registrants must disclose any material cybersecurity incident
within four business days."

**Mandate:** Risk Management Description
**Requirement:** Describe processes for assessing cybersecurity risk.
**Source Text:** "Registrants shall describe their processes"`}

	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), rule, ruleText)
	require.NoError(t, err)
	assert.Equal(t, StrategyDelimited, ext.Strategy)
	require.Len(t, ext.Mandates, 2)
	assert.Equal(t, "Incident Disclosure Timeline", ext.Mandates[0].Title)
	assert.Equal(t, "Registrants must disclose any material cybersecurity incident within four business days.", ext.Mandates[0].SourceExcerpt)
	assert.Equal(t, "General", ext.Mandates[1].Category)
}

func TestExtract_TruncatedJSONRecoveredByDelimiter(t *testing.T) {
	f := &fakeLLM{resp: `{
  "document_type": "rule",
  "mandates": [
    {
      "title": "Incident Disclosure",
      "requirement": "Disclose material incidents within four business days.",
      "category": "Disclosure"
    },
    {
      "title": "Risk Proc`}

	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), rule, ruleText)
	require.NoError(t, err)
	assert.Equal(t, StrategyDelimited, ext.Strategy)
	require.Len(t, ext.Mandates, 1)
	assert.Equal(t, "Disclose material incidents within four business days.", ext.Mandates[0].RequirementText)
	assert.Equal(t, "Disclosure", ext.Mandates[0].Category)
}

func TestExtract_PipeRows(t *testing.T) {
	f := &fakeLLM{resp: `| Title | Requirement | Category | Excerpt |
|---|---|---|---|
| Disclosure | File Form 8-K within four days | Disclosure | must disclose |
| Governance | Describe board oversight | Governance | shall describe |`}

	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), rule, ruleText)
	require.NoError(t, err)
	assert.Equal(t, StrategyDelimited, ext.Strategy)
	require.Len(t, ext.Mandates, 2)
	assert.Equal(t, "File Form 8-K within four days", ext.Mandates[0].RequirementText)
	assert.Equal(t, "shall describe", ext.Mandates[1].SourceExcerpt)
}

func TestExtract_HeuristicOverResponse(t *testing.T) {
	f := &fakeLLM{resp: `Sure.

Companies must notify investors of material incidents promptly.

That is the main point of the release.`}

	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), rule, ruleText)
	require.NoError(t, err)
	assert.Equal(t, StrategyHeuristic, ext.Strategy)
	require.Len(t, ext.Mandates, 1)
	assert.Equal(t, "Companies must notify investors of material incidents promptly.", ext.Mandates[0].RequirementText)
}

func TestExtract_ModelFailureFallsBackToRegulationText(t *testing.T) {
	f := &fakeLLM{err: errors.Join(llm.ErrModelCall, context.DeadlineExceeded)}

	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), rule, ruleText)
	require.NoError(t, err)
	assert.Equal(t, StrategySourceText, ext.Strategy)
	assert.ErrorIs(t, ext.ModelErr, llm.ErrModelCall)
	require.Len(t, ext.Mandates, 2, "only the two paragraphs with mandatory language")
	assert.True(t, strings.HasPrefix(ext.Mandates[0].RequirementText, "Registrants must disclose"))
}

func TestExtract_NoCuesAnywhere(t *testing.T) {
	f := &fakeLLM{resp: "I could not identify anything."}
	text := "The Commission reviewed the history of this market.\n\nCommenters offered a range of views."

	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), rule, text)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMandatesExtracted)
	assert.Empty(t, ext.Mandates)
}

func TestExtract_ConceptReleaseDeclaredByModel(t *testing.T) {
	f := &fakeLLM{resp: `{"document_type": "concept_release", "mandates": []}`}
	reg := model.Regulation{ID: "33-11000", Title: "Request for Comment on Market Structure"}

	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), reg, ruleText)
	require.NoError(t, err)
	assert.Equal(t, model.KindConceptRelease, ext.Kind)
	assert.Empty(t, ext.Mandates)
}

func TestExtract_ConceptReleaseFromTitleWhenModelFails(t *testing.T) {
	f := &fakeLLM{err: llm.ErrModelCall}
	reg := model.Regulation{ID: "33-11001", Title: "Concept Release on Climate Disclosure"}

	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), reg, ruleText)
	require.NoError(t, err)
	assert.Equal(t, model.KindConceptRelease, ext.Kind)
	assert.Empty(t, ext.Mandates)
}

func TestExtract_ConceptReleaseKeepsMandateStructure(t *testing.T) {
	f := &fakeLLM{resp: `{"document_type": "Concept Release", "mandates": [{"title": "T", "requirement": "Firms would be required to file.", "category": "Disclosure"}]}`}
	ext, err := New(f, 10000, 1000, nil).Extract(context.Background(), rule, ruleText)
	require.NoError(t, err)
	assert.Equal(t, model.KindConceptRelease, ext.Kind)
	require.Len(t, ext.Mandates, 1)
	assert.Equal(t, "34-99001-M001", ext.Mandates[0].ID)
}

func TestExtract_TruncatesInput(t *testing.T) {
	f := &fakeLLM{resp: `[{"requirement": "Do the thing."}]`}
	long := strings.Repeat("a", 50) + "TAIL"

	ext, err := New(f, 50, 1000, nil).Extract(context.Background(), rule, long)
	require.NoError(t, err)
	assert.True(t, ext.Truncated)
	assert.NotContains(t, f.prompt, "TAIL")
	assert.Contains(t, f.prompt, strings.Repeat("a", 50))
}

func TestHeuristicMandates_LongParagraphSplitIntoSentences(t *testing.T) {
	para := strings.Repeat("Background sentence without cues. ", 20) + "Firms must file annually. " + strings.Repeat("More background. ", 10)
	got := heuristicMandates(para)
	require.Len(t, got, 1)
	assert.Equal(t, "Firms must file annually.", got[0].requirement)
}

func TestHeuristicMandates_Bounded(t *testing.T) {
	var b strings.Builder
	for range 30 {
		b.WriteString("Firms must comply.\n\n")
	}
	assert.Len(t, heuristicMandates(b.String()), maxHeuristicMandates)
}
