// Package extract turns regulation text into discrete mandates.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"regaudit/internal/llm"
	"regaudit/internal/model"
)

// ErrNoMandatesExtracted means every parse strategy came back empty for a
// binding regulation. The regulation is recorded and flagged for manual
// follow-up.
var ErrNoMandatesExtracted = errors.New("no mandates extracted")

// Completer is the generative-model call the extractor needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Strategy names the parse strategy that produced a result.
type Strategy string

const (
	StrategyStructured Strategy = "structured"
	StrategyDelimited  Strategy = "delimited"
	StrategyHeuristic  Strategy = "heuristic"
	// StrategySourceText is the heuristic applied to the regulation itself
	// when the model response yielded nothing or the call failed.
	StrategySourceText Strategy = "source_text"
	StrategyNone       Strategy = "none"
)

// Extraction is the output of one regulation's extraction.
type Extraction struct {
	Kind      model.DocumentKind
	Mandates  []model.Mandate
	Strategy  Strategy
	Truncated bool
	// ModelErr is set when the model call failed and the result comes from
	// the regulation text alone.
	ModelErr error
}

// Extractor is the mandate extraction stage.
type Extractor struct {
	llm       Completer
	maxChars  int
	maxTokens int
	logger    *zap.Logger
}

// New creates an extractor. Regulation text beyond maxChars runes is cut
// before it is sent to the model.
func New(c Completer, maxChars, maxTokens int, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{llm: c, maxChars: maxChars, maxTokens: maxTokens, logger: logger}
}

// Extract returns the mandates of reg, whose full text is text.
//
// A concept release with no mandates is a valid, empty result. A binding
// regulation with no mandates returns ErrNoMandatesExtracted.
func (e *Extractor) Extract(ctx context.Context, reg model.Regulation, text string) (*Extraction, error) {
	log := e.logger.With(zap.String("regulation", reg.ID))

	input, truncated := llm.Truncate(text, e.maxChars)
	if truncated {
		log.Warn("regulation text truncated before extraction; mandates after the cutoff are not analyzed",
			zap.Int("original_chars", len([]rune(text))), zap.Int("kept_chars", e.maxChars))
	}

	result := &Extraction{Kind: detectKind(reg.Title, input), Truncated: truncated, Strategy: StrategyNone}

	resp, err := e.llm.Complete(ctx, systemPrompt, buildPrompt(reg, input), e.maxTokens)
	if err != nil {
		log.Warn("mandate extraction call failed; falling back to regulation text", zap.Error(err))
		result.ModelErr = err
	} else {
		parsed := parseResponse(resp)
		if parsed.kindSet {
			result.Kind = parsed.kind
		}
		if len(parsed.mandates) > 0 {
			result.Strategy = parsed.strategy
			result.Mandates = finalize(reg.ID, parsed.mandates)
		} else if parsed.kindSet && parsed.kind == model.KindConceptRelease {
			// The model read the document and declared nothing binding.
			result.Strategy = StrategyStructured
			log.Info("concept release with no actionable mandates")
			return result, nil
		}
	}

	if len(result.Mandates) == 0 && result.Kind == model.KindRule {
		if drafts := heuristicMandates(input); len(drafts) > 0 {
			result.Strategy = StrategySourceText
			result.Mandates = finalize(reg.ID, drafts)
		}
	}

	if len(result.Mandates) == 0 {
		if result.Kind == model.KindConceptRelease {
			log.Info("concept release with no actionable mandates")
			return result, nil
		}
		cause := ErrNoMandatesExtracted
		if result.ModelErr != nil {
			return result, goerr.Wrap(cause, "extraction cascade empty after model failure",
				goerr.V("regulation", reg.ID), goerr.V("model_error", result.ModelErr.Error()))
		}
		return result, goerr.Wrap(cause, "extraction cascade empty", goerr.V("regulation", reg.ID))
	}

	log.Info("mandates extracted",
		zap.Int("count", len(result.Mandates)),
		zap.String("strategy", string(result.Strategy)),
		zap.String("kind", string(result.Kind)))
	return result, nil
}

// finalize assigns ids and fills defaults, in response order.
func finalize(regID string, drafts []draft) []model.Mandate {
	out := make([]model.Mandate, 0, len(drafts))
	for _, d := range drafts {
		req := collapse(d.requirement)
		if req == "" {
			continue
		}
		title := collapse(d.title)
		if title == "" {
			title = titleFrom(req)
		}
		category := collapse(d.category)
		if category == "" {
			category = "General"
		}
		excerpt := strings.Trim(collapse(d.excerpt), `"“” `)
		if excerpt == "" {
			excerpt = req
		}
		out = append(out, model.Mandate{
			ID:              fmt.Sprintf("%s-M%03d", regID, len(out)+1),
			RegulationID:    regID,
			Title:           title,
			RequirementText: req,
			Category:        category,
			SourceExcerpt:   excerpt,
		})
	}
	return out
}

// detectKind recognises concept releases from the title or the opening of
// the document.
func detectKind(title, text string) model.DocumentKind {
	if strings.Contains(strings.ToLower(title), "concept release") {
		return model.KindConceptRelease
	}
	head, _ := llm.Truncate(text, 2000)
	if strings.Contains(strings.ToLower(head), "concept release") {
		return model.KindConceptRelease
	}
	return model.KindRule
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// titleFrom builds a short title from the first words of a requirement.
func titleFrom(req string) string {
	words := strings.Fields(req)
	if len(words) > 8 {
		return strings.Join(words[:8], " ") + "..."
	}
	return strings.Join(words, " ")
}
