// Package index is the embedding index over internal policy documents.
// Ingestion is the only write path; every other operation reads.
package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"regaudit/internal/chunker"
	"regaudit/internal/embedder"
	"regaudit/internal/model"
	"regaudit/internal/store"
)

var (
	// ErrIngestion means a document could not be embedded or written. The
	// document's previous state in the index is unchanged.
	ErrIngestion = errors.New("ingestion failed")
	// ErrEmptyIndex means there are no chunks to search: no internal
	// documents are available, which is different from "no gap found".
	ErrEmptyIndex = errors.New("index holds no chunks")
	// ErrDimensionMismatch means the index was built with a different
	// embedding model, dimensionality or metric and must be rebuilt.
	ErrDimensionMismatch = errors.New("index was built with a different embedding configuration")
	// ErrInconsistent means the chunk store and vector table key sets differ.
	ErrInconsistent = errors.New("chunk and vector key sets differ")
)

const (
	metaModel      = "embedding_model"
	metaDimensions = "embedding_dimensions"
	metaMetric     = "distance_metric"
)

// ProgressFunc is called as documents are ingested.
type ProgressFunc func(message string, done, total int)

// Config holds the index configuration.
type Config struct {
	DBPath       string
	Metric       string // cosine or l2
	Window       int
	Overlap      int
	BatchSize    int
	SnapshotPath string
	// Rebuild discards any existing index content on open.
	Rebuild    bool
	OnProgress ProgressFunc
}

// Index is the public API for ingesting and searching policy documents.
type Index struct {
	store    store.Store
	embedder embedder.Embedder
	chunker  *chunker.WindowChunker
	config   Config
	logger   *zap.Logger
}

// Open creates or loads the index at cfg.DBPath. The stored embedding model,
// dimensionality and metric must match emb and cfg unless cfg.Rebuild is set,
// and the chunk and vector key sets must agree.
func Open(ctx context.Context, cfg Config, emb embedder.Embedder, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Metric == "" {
		cfg.Metric = "cosine"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, goerr.Wrap(err, "create index directory", goerr.V("path", cfg.DBPath))
	}

	s, err := store.Open(cfg.DBPath, emb.Dimensions(), cfg.Metric)
	if err != nil {
		return nil, goerr.Wrap(err, "open index store", goerr.V("path", cfg.DBPath))
	}

	idx := &Index{
		store:    s,
		embedder: emb,
		chunker:  chunker.NewWindowChunker(cfg.Window, cfg.Overlap),
		config:   cfg,
		logger:   logger,
	}

	if cfg.Rebuild {
		if err := idx.Rebuild(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := idx.checkMeta(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := idx.Verify(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return idx, nil
}

// checkMeta records the embedding configuration on a fresh index and rejects
// a mismatch on an existing one.
func (idx *Index) checkMeta(ctx context.Context) error {
	want := map[string]string{
		metaModel:      idx.embedder.Model(),
		metaDimensions: strconv.Itoa(idx.embedder.Dimensions()),
		metaMetric:     idx.config.Metric,
	}
	for _, key := range []string{metaModel, metaDimensions, metaMetric} {
		got, err := idx.store.GetMeta(ctx, key)
		if err != nil {
			return goerr.Wrap(err, "read index metadata", goerr.V("key", key))
		}
		if got == "" {
			if err := idx.store.SetMeta(ctx, key, want[key]); err != nil {
				return goerr.Wrap(err, "write index metadata", goerr.V("key", key))
			}
			continue
		}
		if got != want[key] {
			return goerr.Wrap(ErrDimensionMismatch, "run ingest --rebuild",
				goerr.V("key", key), goerr.V("stored", got), goerr.V("configured", want[key]))
		}
	}
	return nil
}

// Rebuild empties the index and recreates the vector table for the current
// embedder.
func (idx *Index) Rebuild(ctx context.Context) error {
	idx.logger.Info("rebuilding index",
		zap.String("model", idx.embedder.Model()),
		zap.Int("dimensions", idx.embedder.Dimensions()),
		zap.String("metric", idx.config.Metric))
	if err := idx.store.Reset(ctx, idx.embedder.Dimensions(), idx.config.Metric); err != nil {
		return goerr.Wrap(err, "reset index")
	}
	return idx.checkMeta(ctx)
}

// Verify checks that every chunk has exactly one vector and vice versa.
func (idx *Index) Verify(ctx context.Context) error {
	chunkIDs, err := idx.store.ChunkIDs(ctx)
	if err != nil {
		return goerr.Wrap(err, "list chunk ids")
	}
	vecIDs, err := idx.store.VectorIDs(ctx)
	if err != nil {
		return goerr.Wrap(err, "list vector ids")
	}
	if len(chunkIDs) != len(vecIDs) {
		return goerr.Wrap(ErrInconsistent, "key set sizes differ",
			goerr.V("chunks", len(chunkIDs)), goerr.V("vectors", len(vecIDs)))
	}
	for i := range chunkIDs {
		if chunkIDs[i] != vecIDs[i] {
			return goerr.Wrap(ErrInconsistent, "key sets differ",
				goerr.V("chunk_id", chunkIDs[i]), goerr.V("vector_id", vecIDs[i]))
		}
	}
	return nil
}

// Search returns up to k chunks most similar to query, highest similarity
// first, ties broken by lowest chunk id.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]model.Evidence, error) {
	if k <= 0 {
		return nil, nil
	}
	st, err := idx.store.Stats(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "count chunks")
	}
	if st.Chunks == 0 {
		return nil, ErrEmptyIndex
	}

	vec, err := embedder.EmbedSingle(ctx, idx.embedder, query)
	if err != nil {
		return nil, goerr.Wrap(err, "embed query")
	}

	// Over-fetch so ties at the k-th distance resolve by id, not by scan order.
	results, err := idx.store.Search(ctx, vec, k*2)
	if err != nil {
		return nil, goerr.Wrap(err, "vector search", goerr.V("k", k))
	}

	ev := make([]model.Evidence, 0, len(results))
	for _, r := range results {
		ev = append(ev, model.Evidence{
			Chunk: model.Chunk{
				ID:        r.Chunk.ID,
				SourceDoc: r.Chunk.SourceDoc,
				Text:      r.Chunk.Content,
				Offset:    r.Chunk.Offset,
			},
			Similarity: idx.similarity(r.Distance),
		})
	}
	sortEvidence(ev)
	if len(ev) > k {
		ev = ev[:k]
	}
	return ev, nil
}

// similarity maps a distance onto a score where higher is more similar.
func (idx *Index) similarity(distance float64) float64 {
	if idx.config.Metric == "l2" {
		return 1 / (1 + distance)
	}
	return 1 - distance
}

// Persist flushes committed ingestion batches into the main database file and
// refreshes the snapshot, if one is configured.
func (idx *Index) Persist(ctx context.Context) error {
	if err := idx.store.Checkpoint(ctx); err != nil {
		return goerr.Wrap(err, "checkpoint index")
	}
	if idx.config.SnapshotPath != "" {
		return idx.Snapshot(ctx, idx.config.SnapshotPath)
	}
	return nil
}

// Snapshot writes a consistent copy of the index to path. The copy is built
// in a temporary file and renamed into place, so an interrupted snapshot never
// replaces a previous valid one.
func (idx *Index) Snapshot(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return goerr.Wrap(err, "create snapshot directory", goerr.V("path", path))
	}
	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return goerr.Wrap(err, "remove stale snapshot temp file", goerr.V("path", tmp))
	}
	if err := idx.store.VacuumInto(ctx, tmp); err != nil {
		return goerr.Wrap(err, "write snapshot", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return goerr.Wrap(err, "install snapshot", goerr.V("path", path))
	}
	idx.logger.Debug("index snapshot written", zap.String("path", path))
	return nil
}

// Stats describes the index.
type Stats struct {
	store.Stats
	Model      string
	Dimensions int
	Metric     string
}

// Stats returns document, chunk and vector counts and the embedding configuration.
func (idx *Index) Stats(ctx context.Context) (Stats, error) {
	st, err := idx.store.Stats(ctx)
	if err != nil {
		return Stats{}, goerr.Wrap(err, "index stats")
	}
	return Stats{
		Stats:      st,
		Model:      idx.embedder.Model(),
		Dimensions: idx.embedder.Dimensions(),
		Metric:     idx.config.Metric,
	}, nil
}

// Documents lists the ingested documents.
func (idx *Index) Documents(ctx context.Context) ([]store.Document, error) {
	return idx.store.Documents(ctx)
}

// Close releases resources.
func (idx *Index) Close() error {
	return idx.store.Close()
}
