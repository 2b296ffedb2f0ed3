package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regaudit/internal/embedder"
	"regaudit/internal/index"
	"regaudit/internal/ledger"
	"regaudit/internal/model"
	"regaudit/internal/storage"
)

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text, res.IsError
}

func testIndex(t *testing.T) *index.Index {
	t.Helper()
	idx, err := index.Open(context.Background(), index.Config{
		DBPath:  filepath.Join(t.TempDir(), "index.db"),
		Window:  200,
		Overlap: 40,
	}, embedder.NewHashingEmbedder(64), nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSearchHandler(t *testing.T) {
	idx := testIndex(t)
	h := makeSearchHandler(idx)

	text, isErr := callTool(t, h, map[string]any{"query": "incident reporting"})
	assert.False(t, isErr)
	assert.Contains(t, text, "index is empty")

	_, err := idx.Ingest(context.Background(), []index.Document{
		{SourceID: "incident.md", Text: "Security incidents are reported to the response team within four hours."},
	})
	require.NoError(t, err)

	text, isErr = callTool(t, h, map[string]any{"query": "incident reporting", "k": 1})
	assert.False(t, isErr)
	assert.Contains(t, text, "`incident.md`")

	_, isErr = callTool(t, h, map[string]any{})
	assert.True(t, isErr)
}

func TestLedgerHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := ledger.Open(path, nil)
	require.NoError(t, err)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(ledger.NewEntry(model.Regulation{ID: "R1", Title: "Rule One", Date: "2026-02-01"}, model.StatusAnalyzed, at)))
	require.NoError(t, l.Append(ledger.NewEntry(model.Regulation{ID: "R2", Title: "Rule Two", Date: "unknown"}, model.StatusSkipped, at)))

	h := makeLedgerHandler(path)
	text, _ := callTool(t, h, nil)
	assert.Contains(t, text, "(2)")
	assert.Contains(t, text, "**R1**")

	text, _ = callTool(t, h, map[string]any{"status": "skipped"})
	assert.Contains(t, text, "(1)")
	assert.NotContains(t, text, "**R1**")
}

func TestReportHandler(t *testing.T) {
	st := storage.NewLocal(t.TempDir(), nil)
	h := makeReportHandler(st)

	text, _ := callTool(t, h, nil)
	assert.Contains(t, text, "No report available")

	_, err := st.Put(context.Background(), "compliance_report_20260301_090000.md", []byte("# Report A"))
	require.NoError(t, err)
	_, err = st.Put(context.Background(), "compliance_report_20260302_090000.md", []byte("# Report B"))
	require.NoError(t, err)

	text, _ = callTool(t, h, nil)
	assert.Contains(t, text, "# Report B")
}

func TestStatsHandler(t *testing.T) {
	idx := testIndex(t)
	_, err := idx.Ingest(context.Background(), []index.Document{{SourceID: "aml.md", Text: "Customer due diligence applies at onboarding."}})
	require.NoError(t, err)

	text, isErr := callTool(t, makeStatsHandler(idx), nil)
	assert.False(t, isErr)
	assert.Contains(t, text, "**Documents:** 1")
	assert.Contains(t, text, "- aml.md (1 chunks")
}
