package cmd

import (
	"context"
	"fmt"
	"net/http"

	"regaudit/internal/audit"
	"regaudit/internal/embedder"
	"regaudit/internal/extract"
	"regaudit/internal/index"
	"regaudit/internal/ledger"
	"regaudit/internal/llm"
	"regaudit/internal/pipeline"
	"regaudit/internal/report"
	"regaudit/internal/source"
	"regaudit/internal/storage"
)

func openIndex(ctx context.Context, rebuild bool, onProgress index.ProgressFunc) (*index.Index, error) {
	e := cfg.Embedding
	emb, err := embedder.New(ctx, e.Provider, e.Model, e.BaseURL, e.APIKey, e.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	return index.Open(ctx, index.Config{
		DBPath:       cfg.Index.Path,
		Metric:       cfg.Index.Metric,
		Window:       cfg.Chunk.Window,
		Overlap:      cfg.Chunk.Overlap,
		BatchSize:    e.BatchSize,
		SnapshotPath: cfg.Index.SnapshotPath,
		Rebuild:      rebuild,
		OnProgress:   onProgress,
	}, emb, logger.Named("index"))
}

func newLLM(ctx context.Context) (*llm.Client, error) {
	l := cfg.LLM
	p, err := llm.NewProvider(ctx, l.Provider, l.Model, l.BaseURL, l.APIKey)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	return llm.NewClient(p,
		llm.WithTimeout(l.Timeout),
		llm.WithMaxTokens(l.MaxOutputTokens, l.MaxOutputTokensCap),
		llm.WithTemperature(l.Temperature),
		llm.WithLogger(logger.Named("llm")),
	), nil
}

func newSource() source.Source {
	s := cfg.Source
	if s.Type == "sec" {
		return source.NewSEC(source.SECConfig{
			BaseURL:    s.BaseURL,
			ListingURL: s.ListingURL,
			UserAgent:  s.UserAgent,
			StagingDir: s.StagingDir,
			Delay:      s.RequestDelay,
			Timeout:    s.Timeout,
			Retries:    s.Retries,
			Backoff:    s.Backoff,
		}, &http.Client{Timeout: s.Timeout}, logger.Named("source"))
	}
	return source.NewDir(s.Dir, logger.Named("source"))
}

// newPipeline wires a pipeline around idx from the loaded config.
func newPipeline(ctx context.Context, idx *index.Index, observer pipeline.Observer) (*pipeline.Pipeline, error) {
	client, err := newLLM(ctx)
	if err != nil {
		return nil, err
	}

	l, err := ledger.Open(cfg.Ledger.Path, logger.Named("ledger"))
	if err != nil {
		return nil, err
	}

	st, err := storage.New(ctx, cfg.Reports, logger.Named("storage"))
	if err != nil {
		return nil, err
	}

	maxTokens := cfg.LLM.MaxOutputTokens
	return pipeline.New(pipeline.Config{
		PoliciesDir: cfg.PoliciesDir,
		FetchLimit:  cfg.Source.FetchLimit,
		Index:       idx,
		Source:      newSource(),
		Ledger:      l,
		Extractor:   extract.New(client, cfg.Limits.MaxExtractChars, maxTokens, logger.Named("extract")),
		Auditor:     audit.New(client, idx, cfg.Index.TopK, maxTokens, logger.Named("audit")),
		Synthesizer: report.New(client, cfg.Limits.MaxReportChars, maxTokens, logger.Named("report")),
		Storage:     st,
		Observer:    observer,
		Logger:      logger.Named("pipeline"),
	})
}
