package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"regaudit/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List the regulations already processed",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := ledger.Open(cfg.Ledger.Path, logger.Named("ledger"))
		if err != nil {
			return err
		}
		entries := l.Entries()
		if len(entries) == 0 {
			fmt.Println("No regulations processed yet.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%-32s %-12s %-24s %s\n", truncate(e.ID, 32), e.Date, e.Status.Label(), e.Title)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
}
