package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"regaudit/internal/llm"
	"regaudit/internal/model"
)

// draft is a mandate before it is assigned an id.
type draft struct {
	title       string
	requirement string
	category    string
	excerpt     string
}

type parsed struct {
	mandates []draft
	strategy Strategy
	kind     model.DocumentKind
	kindSet  bool
}

// parseResponse runs the parse cascade over a model response. The first
// strategy that yields at least one mandate wins. The document kind is
// taken from whichever strategy reports one.
func parseResponse(resp string) parsed {
	clean := llm.Clean(resp)

	var p parsed
	if kind, ok, mandates := parseStructured(clean); ok {
		p.kind, p.kindSet = kind, kind != ""
		if len(mandates) > 0 {
			p.mandates, p.strategy = mandates, StrategyStructured
			return p
		}
		if p.kindSet {
			// A well-formed response that lists nothing is an answer, not
			// a parse failure.
			return p
		}
	}

	kind, mandates := parseDelimited(clean)
	if kind != "" && !p.kindSet {
		p.kind, p.kindSet = kind, true
	}
	if len(mandates) > 0 {
		p.mandates, p.strategy = mandates, StrategyDelimited
		return p
	}

	if mandates := heuristicMandates(clean); len(mandates) > 0 {
		p.mandates, p.strategy = mandates, StrategyHeuristic
	}
	return p
}

type mandateJSON struct {
	Title         string `json:"title"`
	Mandate       string `json:"mandate"`
	Requirement   string `json:"requirement"`
	Category      string `json:"category"`
	SourceExcerpt string `json:"source_excerpt"`
	SourceText    string `json:"source_text"`
}

type extractionJSON struct {
	DocumentType string        `json:"document_type"`
	Mandates     []mandateJSON `json:"mandates"`
}

// parseStructured accepts either the requested object or a bare array of
// mandates. ok is false when no JSON could be decoded at all.
func parseStructured(s string) (kind model.DocumentKind, ok bool, out []draft) {
	var items []mandateJSON
	if obj := llm.JSONObject(s); obj != "" {
		var ext extractionJSON
		if err := json.Unmarshal([]byte(obj), &ext); err == nil && (ext.DocumentType != "" || ext.Mandates != nil) {
			ok = true
			if ext.DocumentType != "" {
				kind = model.ParseDocumentKind(ext.DocumentType)
			}
			items = ext.Mandates
		}
	}
	if !ok {
		if arr := llm.JSONArray(s); arr != "" {
			if err := json.Unmarshal([]byte(arr), &items); err == nil {
				ok = true
			}
		}
	}

	for _, m := range items {
		title := m.Title
		if title == "" {
			title = m.Mandate
		}
		excerpt := m.SourceExcerpt
		if excerpt == "" {
			excerpt = m.SourceText
		}
		if strings.TrimSpace(m.Requirement) == "" {
			continue
		}
		out = append(out, draft{title: title, requirement: m.Requirement, category: m.Category, excerpt: excerpt})
	}
	return kind, ok, out
}

var (
	markerRe   = regexp.MustCompile(`(?i)^"?(mandate|title|requirement|category|source[ _](?:text|excerpt)|excerpt|document[ _]type)"?\s*:\s*(.*)$`)
	leaderRe   = regexp.MustCompile(`^[\s\-*#>•]*(?:\d+[.)]\s*)?`)
	pipeSepRe  = regexp.MustCompile(`^[\s|:\-]+$`)
	jsonPunct  = regexp.MustCompile(`^[\[\]{},]+$`)
	emphasisRe = regexp.MustCompile(`\*\*|__`)
)

// parseDelimited reads "Mandate: / Requirement: / Category: / Source Text:"
// marker blocks, which also recovers key lines from truncated JSON, falling back to pipe-delimited rows of
// title | requirement | category | excerpt.
func parseDelimited(s string) (model.DocumentKind, []draft) {
	var (
		kind  model.DocumentKind
		out   []draft
		cur   *draft
		field *string
	)
	flush := func() {
		if cur != nil && strings.TrimSpace(cur.requirement) != "" {
			out = append(out, *cur)
		}
		cur, field = nil, nil
	}

	for _, raw := range strings.Split(s, "\n") {
		line := strings.TrimSpace(emphasisRe.ReplaceAllString(raw, ""))
		line = strings.TrimSpace(leaderRe.ReplaceAllString(line, ""))
		if line == "" || jsonPunct.MatchString(line) {
			field = nil
			continue
		}

		m := markerRe.FindStringSubmatch(line)
		if m == nil {
			// Continuation of the previous field.
			if field != nil {
				*field += " " + line
			}
			continue
		}

		key := strings.ReplaceAll(strings.ToLower(m[1]), "_", " ")
		val := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[2]), `",`))
		switch key {
		case "document type":
			kind = model.ParseDocumentKind(val)
			field = nil
			continue
		case "mandate", "title":
			flush()
			cur = &draft{title: val}
			field = &cur.title
		case "requirement":
			if cur == nil || cur.requirement != "" {
				flush()
				cur = &draft{}
			}
			cur.requirement = val
			field = &cur.requirement
		case "category":
			if cur == nil {
				cur = &draft{}
			}
			cur.category = val
			field = &cur.category
		default: // source text, source excerpt, excerpt
			if cur == nil {
				cur = &draft{}
			}
			cur.excerpt = strings.Trim(val, `"“”`)
			field = &cur.excerpt
		}
	}
	flush()

	if len(out) > 0 {
		return kind, out
	}
	return kind, parsePipes(s)
}

func parsePipes(s string) []draft {
	var out []draft
	for _, raw := range strings.Split(s, "\n") {
		line := strings.TrimSpace(raw)
		if strings.Count(line, "|") < 2 || pipeSepRe.MatchString(line) {
			continue
		}
		cells := strings.Split(strings.Trim(line, "|"), "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(emphasisRe.ReplaceAllString(cells[i], ""))
		}
		if len(cells) < 2 {
			continue
		}
		// Header row.
		if strings.EqualFold(cells[1], "requirement") || strings.EqualFold(cells[0], "mandate") || strings.EqualFold(cells[0], "title") {
			continue
		}
		d := draft{title: cells[0], requirement: cells[1]}
		if len(cells) > 2 {
			d.category = cells[2]
		}
		if len(cells) > 3 {
			d.excerpt = cells[3]
		}
		out = append(out, d)
	}
	return out
}

// maxHeuristicMandates bounds the paragraph fallback so one long document
// cannot flood the audit stage.
const maxHeuristicMandates = 20

// maxHeuristicChars bounds the length of one heuristic mandate.
const maxHeuristicChars = 600

var cueRe = regexp.MustCompile(`(?i)\b(must|shall|required|requires|obligated|mandatory|prohibited)\b`)

// heuristicMandates treats each paragraph containing mandatory language as
// one mandate. Paragraphs longer than maxHeuristicChars are split into
// sentences and only the sentences with a cue are kept.
func heuristicMandates(s string) []draft {
	var out []draft
	for _, para := range splitParagraphs(s) {
		if !cueRe.MatchString(para) {
			continue
		}
		texts := []string{para}
		if len([]rune(para)) > maxHeuristicChars {
			texts = nil
			for _, sent := range splitSentences(para) {
				if cueRe.MatchString(sent) {
					texts = append(texts, sent)
				}
			}
		}
		for _, t := range texts {
			t, _ = llm.Truncate(collapse(t), maxHeuristicChars)
			out = append(out, draft{requirement: t, excerpt: t})
			if len(out) == maxHeuristicMandates {
				return out
			}
		}
	}
	return out
}

func splitParagraphs(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	for _, p := range paragraphRe.Split(s, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var paragraphRe = regexp.MustCompile(`\n\s*\n`)

var sentenceEndRe = regexp.MustCompile(`([.;!?])\s+`)

func splitSentences(p string) []string {
	marked := sentenceEndRe.ReplaceAllString(p, "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
