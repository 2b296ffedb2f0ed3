// Package ledger persists the set of regulations already carried through the
// full pipeline, as a JSON Lines file.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"regaudit/internal/model"
)

// Entry is one processed regulation.
type Entry struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Date        string            `json:"date"`
	URL         string            `json:"url,omitempty"`
	LocalPath   string            `json:"local_path,omitempty"`
	Status      model.EntryStatus `json:"status"`
	ProcessedAt time.Time         `json:"processed_at"`
}

// NewEntry records reg as processed with the given outcome.
func NewEntry(reg model.Regulation, status model.EntryStatus, at time.Time) Entry {
	return Entry{
		ID:          reg.ID,
		Title:       reg.Title,
		Date:        reg.Date,
		URL:         reg.URL,
		LocalPath:   reg.LocalPath,
		Status:      status,
		ProcessedAt: at.UTC(),
	}
}

// Ledger is the processed-regulation set. It is loaded once on Open and
// every Append is written through to disk before it returns.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	ids     map[string]bool
	// torn is set when the file does not end in a newline, so the next
	// append must start a fresh line.
	torn   bool
	logger *zap.Logger
}

// Open loads the ledger at path. A missing file is an empty ledger. Lines
// that do not parse, such as a last line torn by a crash mid-append, are
// logged and ignored.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{path: path, ids: make(map[string]bool), logger: logger}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	l.torn = len(data) > 0 && data[len(data)-1] != '\n'

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			logger.Warn("ignoring malformed ledger line", zap.String("path", path), zap.Int("line", lineNo))
			continue
		}
		if l.ids[e.ID] {
			continue
		}
		l.ids[e.ID] = true
		l.entries = append(l.entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Contains reports whether id has been processed.
func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids[id]
}

// Len returns the number of processed regulations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns the processed regulations in the order they were committed.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Append records e and syncs the file. Appending an id that is already
// present is a no-op.
func (l *Ledger) Append(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("ledger entry has no id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ids[e.ID] {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	if l.torn {
		data = append([]byte{'\n'}, data...)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}

	l.torn = false
	l.ids[e.ID] = true
	l.entries = append(l.entries, e)
	l.logger.Debug("ledger entry committed", zap.String("regulation", e.ID), zap.String("status", string(e.Status)))
	return nil
}
