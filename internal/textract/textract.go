// Package textract pulls plain text out of regulation and policy files.
package textract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText means the file was read but yielded no usable text, e.g. a
// scanned PDF without a text layer.
var ErrNoText = errors.New("no extractable text")

// ErrUnsupported means the file extension has no extractor.
var ErrUnsupported = errors.New("unsupported file type")

// maxFileSize bounds how much of a file is read.
const maxFileSize = 64 << 20

// Extensions returns the file extensions (without dot) that Extract handles.
func Extensions() map[string]bool {
	return map[string]bool{"pdf": true, "txt": true, "md": true}
}

// Supported reports whether path has an extension Extract handles.
func Supported(path string) bool {
	return Extensions()[strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")]
}

// Extract returns the text content of the file at path.
func Extract(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = extractPDF(path)
	case ".txt", ".md":
		text, err = extractPlain(path)
	default:
		return "", fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	if err != nil {
		return "", err
	}

	text = normalize(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", path, ErrNoText)
	}
	return text, nil
}

func extractPlain(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxFileSize))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func extractPDF(path string) (text string, err error) {
	// The PDF reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text %s: %w", path, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(plain, maxFileSize)); err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", path, err)
	}
	return buf.String(), nil
}

// normalize drops NUL bytes and trailing spaces and collapses runs of blank
// lines, so chunk windows are not wasted on layout whitespace.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
