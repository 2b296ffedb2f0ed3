package chunker

import (
	"unicode"
)

// RawChunk is a window of document text before it is embedded and assigned an id.
type RawChunk struct {
	SourceDoc string
	Offset    int // rune offset into the source text
	Content   string
}

// WindowChunker splits text into fixed-size overlapping windows measured in
// runes. A window that would end mid-word is pulled back to the last
// whitespace, provided that leaves at least half a window.
type WindowChunker struct {
	window  int
	overlap int
}

// NewWindowChunker creates a chunker. overlap must be smaller than window;
// out-of-range values are clamped.
func NewWindowChunker(window, overlap int) *WindowChunker {
	if window <= 0 {
		window = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= window {
		overlap = window - 1
	}
	return &WindowChunker{window: window, overlap: overlap}
}

// Window returns the maximum chunk length in runes.
func (c *WindowChunker) Window() int { return c.window }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *WindowChunker) Overlap() int { return c.overlap }

// Chunk splits text into windows. The result depends only on the input and the
// chunker's window and overlap. Whitespace-only windows are dropped.
func (c *WindowChunker) Chunk(sourceDoc, text string) []RawChunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []RawChunk
	start := 0
	for {
		end := start + c.window
		if end >= n {
			end = n
		} else {
			end = c.backOff(runes, start, end)
		}

		if !blank(runes[start:end]) {
			chunks = append(chunks, RawChunk{
				SourceDoc: sourceDoc,
				Offset:    start,
				Content:   string(runes[start:end]),
			})
		}
		if end == n {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// backOff moves end back to just after the last whitespace in the second half
// of the window. If there is none, end is returned unchanged.
func (c *WindowChunker) backOff(runes []rune, start, end int) int {
	min := start + c.window/2
	for i := end - 1; i > min; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

func blank(rs []rune) bool {
	for _, r := range rs {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
