package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"regaudit/internal/index"
)

var (
	flagRebuild bool
	flagWorkers int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index the internal policy documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		idx, err := openIndex(ctx, flagRebuild, func(msg string, done, total int) {
			fmt.Printf("\r%s %d/%d", msg, done, total)
		})
		if err != nil {
			return err
		}
		defer idx.Close()

		fmt.Printf("Ingesting %s...\n", cfg.PoliciesDir)
		start := time.Now()

		docs, err := index.CollectDocuments(cfg.PoliciesDir, flagWorkers, logger.Named("index"))
		if err != nil {
			return err
		}
		added, err := idx.Ingest(ctx, docs)
		elapsed := time.Since(start)

		st, serr := idx.Stats(ctx)
		fmt.Printf("\nDone in %s\n", elapsed.Round(time.Millisecond))
		fmt.Printf("  Documents: %d read, %d chunks added\n", len(docs), added)
		if serr == nil {
			fmt.Printf("  Index:     %d documents, %d chunks (%s, %d dims, %s)\n",
				st.Documents, st.Chunks, st.Model, st.Dimensions, st.Metric)
		}
		return err
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&flagRebuild, "rebuild", false, "discard the index and re-embed every document")
	ingestCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel text extractors (default: number of CPUs)")
	rootCmd.AddCommand(ingestCmd)
}
