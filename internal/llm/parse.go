package llm

import (
	"strings"
)

// StripFences removes a surrounding markdown code fence, if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		// Remove first line (the fence opener)
		idx := strings.Index(s, "\n")
		if idx < 0 {
			return ""
		}
		s = s[idx+1:]
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}

// StripThinking removes <think>...</think> blocks some local models emit
// before their answer.
func StripThinking(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "</think>")
		if end < 0 {
			return s[:start]
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
}

// JSONObject returns the outermost {...} span of s, or "" if there is none.
func JSONObject(s string) string {
	return span(s, "{", "}")
}

// JSONArray returns the outermost [...] span of s, or "" if there is none.
func JSONArray(s string) string {
	return span(s, "[", "]")
}

func span(s, open, close string) string {
	start := strings.Index(s, open)
	end := strings.LastIndex(s, close)
	if start == -1 || end == -1 || start >= end {
		return ""
	}
	return s[start : end+1]
}

// Truncate limits s to maxLen runes. It reports whether s was cut.
func Truncate(s string, maxLen int) (string, bool) {
	if maxLen <= 0 || len(s) <= maxLen {
		return s, false
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s, false
	}
	return string(r[:maxLen]), true
}

// Clean prepares a raw completion for parsing.
func Clean(s string) string {
	return StripFences(StripThinking(s))
}
