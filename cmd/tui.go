package cmd

import (
	"context"
	"os"
	"path/filepath"

	"regaudit/internal/pipeline"
	"regaudit/internal/storage"
	"regaudit/internal/tui"
)

func runTUI(ctx context.Context) error {
	// Log lines would corrupt the alt screen, so the TUI logs to a file.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	l, err := newLogger(cfg.Logging, flagVerbose, filepath.Join(cfg.DataDir, "regaudit.log"))
	if err != nil {
		return err
	}
	_ = logger.Sync()
	logger = l

	idx, err := openIndex(ctx, false, nil)
	if err != nil {
		return err
	}
	defer idx.Close()

	st, err := storage.New(ctx, cfg.Reports, logger.Named("storage"))
	if err != nil {
		return err
	}

	return tui.Run(ctx, tui.Config{
		Index:      idx,
		Storage:    st,
		LedgerPath: cfg.Ledger.Path,
		TopK:       cfg.Index.TopK,
		NewPipeline: func(observer pipeline.Observer) (*pipeline.Pipeline, error) {
			return newPipeline(ctx, idx, observer)
		},
	})
}
