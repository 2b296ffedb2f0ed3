package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"regaudit/internal/index"
	"regaudit/internal/ledger"
	"regaudit/internal/model"
	"regaudit/internal/storage"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing policy search and report tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	idx, err := openIndex(ctx, false, nil)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	st, err := storage.New(ctx, cfg.Reports, logger.Named("storage"))
	if err != nil {
		return err
	}

	s := newMCPServer(idx, st, cfg.Ledger.Path)
	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func newMCPServer(idx *index.Index, st storage.Storage, ledgerPath string) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("regaudit", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(searchPoliciesTool(), makeSearchHandler(idx))
	s.AddTool(listProcessedTool(), makeLedgerHandler(ledgerPath))
	s.AddTool(latestReportTool(), makeReportHandler(st))
	s.AddTool(indexStatsTool(), makeStatsHandler(idx))
	return s
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchPoliciesTool() mcp.Tool {
	return mcp.NewTool("search_policies",
		mcp.WithDescription("Search the internal policy index by semantic similarity. Returns the most relevant policy passages with their source document and similarity."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("A compliance requirement or natural language question"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of passages to return (default 5)"),
		),
	)
}

func listProcessedTool() mcp.Tool {
	return mcp.NewTool("list_processed_regulations",
		mcp.WithDescription("List the regulations already processed by previous runs, with their outcome."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("status",
			mcp.Description("Optional status filter: analyzed, no_actionable_mandates, could_not_analyze or skipped"),
		),
	)
}

func latestReportTool() mcp.Tool {
	return mcp.NewTool("get_latest_report",
		mcp.WithDescription("Get the most recent gap analysis report as markdown."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func indexStatsTool() mcp.Tool {
	return mcp.NewTool("get_index_stats",
		mcp.WithDescription("Describe the policy index: documents, chunks and the embedding configuration."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handler factories ---

func makeSearchHandler(idx *index.Index) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", 5)
		if k <= 0 {
			k = 5
		}

		results, err := idx.Search(ctx, query, k)
		if errors.Is(err, index.ErrEmptyIndex) {
			return mcp.NewToolResultText("The policy index is empty. Run 'regaudit ingest' first."), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(query, results)), nil
	}
}

func makeLedgerHandler(path string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := strings.ToLower(req.GetString("status", ""))

		// Reopened per call so entries committed by a concurrent run show up.
		l, err := ledger.Open(path, nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read ledger failed: %v", err)), nil
		}

		var filtered []ledger.Entry
		for _, e := range l.Entries() {
			if filter == "" || string(e.Status) == filter {
				filtered = append(filtered, e)
			}
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Processed regulations (%d)\n\n", len(filtered))
		for _, e := range filtered {
			fmt.Fprintf(&sb, "- **%s** %s (%s): %s, processed %s\n",
				e.ID, e.Title, e.Date, e.Status.Label(), e.ProcessedAt.Format("2006-01-02 15:04"))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeReportHandler(st storage.Storage) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, data, err := st.Latest(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return mcp.NewToolResultText("No report available yet. Run 'regaudit run' to generate one."), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read report failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("<!-- %s -->\n%s", name, data)), nil
	}
}

func makeStatsHandler(idx *index.Index) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := idx.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		docs, err := idx.Documents(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list documents failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Policy index\n\n**Model:** %s  \n**Dimensions:** %d  \n**Metric:** %s  \n**Documents:** %d  \n**Chunks:** %d\n\n",
			st.Model, st.Dimensions, st.Metric, st.Documents, st.Chunks)
		for _, d := range docs {
			fmt.Fprintf(&sb, "- %s (%d chunks, ingested %s)\n", d.SourceID, d.Chunks, d.IngestedAt.Format("2006-01-02"))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// --- Formatting helpers ---

func formatSearchResults(query string, results []model.Evidence) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d passages)\n\n", query, len(results))
	for i, r := range results {
		fmt.Fprintf(&sb, "### Result %d: `%s`\n\n", i+1, r.Chunk.SourceDoc)
		fmt.Fprintf(&sb, "**Offset:** %d  \n**Similarity:** %.3f\n\n", r.Chunk.Offset, r.Similarity)
		fmt.Fprintf(&sb, "%s\n\n", r.Chunk.Text)
	}
	return sb.String()
}
