package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"regaudit/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full gap analysis pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		idx, err := openIndex(ctx, false, nil)
		if err != nil {
			return err
		}
		defer idx.Close()

		p, err := newPipeline(ctx, idx, func(ev pipeline.Event) {
			if ev.Regulation != "" {
				logger.Debug(ev.Message, zap.String("state", string(ev.State)), zap.String("regulation", ev.Regulation))
			}
		})
		if err != nil {
			return err
		}

		res, err := p.Run(ctx)
		if err != nil {
			return err
		}

		r := res.Report
		fmt.Printf("Report:      %s\n", res.Location)
		fmt.Printf("Regulations: %d new, %d already processed\n", len(r.Regulations), res.AlreadyProcessed)
		if res.Deferred > 0 {
			fmt.Printf("             %d more left for the next run (source.fetch_limit)\n", res.Deferred)
		}
		for _, e := range r.Regulations {
			fmt.Printf("  - %-40s %s\n", truncate(e.Regulation.Title, 40), e.Status.Label())
		}
		fmt.Printf("Findings:    %d\n", len(r.Findings))
		for _, g := range r.Groups {
			fmt.Printf("  %-10s %d\n", g.Level, len(g.Findings))
		}
		if res.IngestErr != nil {
			fmt.Printf("Warning: policy ingestion incomplete: %v\n", res.IngestErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
