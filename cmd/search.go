package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"regaudit/internal/index"
)

var flagK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the policy passages nearest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		idx, err := openIndex(ctx, false, nil)
		if err != nil {
			return err
		}
		defer idx.Close()

		k := flagK
		if k <= 0 {
			k = cfg.Index.TopK
		}
		query := strings.Join(args, " ")
		results, err := idx.Search(ctx, query, k)
		if errors.Is(err, index.ErrEmptyIndex) {
			return fmt.Errorf("no policy documents indexed; run 'regaudit ingest' first")
		}
		if err != nil {
			return err
		}

		for i, r := range results {
			fmt.Printf("%d. %s @%d  (similarity %.3f)\n", i+1, r.Chunk.SourceDoc, r.Chunk.Offset, r.Similarity)
			fmt.Printf("   %s\n\n", truncate(strings.Join(strings.Fields(r.Chunk.Text), " "), 300))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagK, "k", 0, "number of passages (default: index.top_k)")
	rootCmd.AddCommand(searchCmd)
}
