// Package source discovers regulations and stages their documents locally.
package source

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode"

	"regaudit/internal/model"
)

// ErrSourceFetch means a listing, detail page or document could not be
// retrieved after the configured retries.
var ErrSourceFetch = errors.New("regulation source fetch failed")

// UnknownDate is the date of a regulation whose source gives none.
const UnknownDate = "unknown"

// Source yields candidate regulations and stages their documents.
type Source interface {
	// Discover lists up to limit candidate regulations, newest first where
	// the source has an order. limit <= 0 means no limit.
	Discover(ctx context.Context, limit int) ([]model.Regulation, error)
	// Fetch stages the regulation's document and returns the record with
	// LocalPath set.
	Fetch(ctx context.Context, reg model.Regulation) (model.Regulation, error)
}

// TitleFromFilename turns "final_rule_cyber-disclosure.pdf" into
// "Final Rule Cyber-disclosure".
func TitleFromFilename(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	words := strings.Fields(strings.ReplaceAll(stem, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// slug keeps letters, digits, dots, dashes and underscores, mapping anything else to a
// dash.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
			dash = r == '-'
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
