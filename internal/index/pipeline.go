package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"regaudit/internal/model"
	"regaudit/internal/store"
	"regaudit/internal/textract"
	"regaudit/internal/walker"
)

// Document is an internal policy document ready for ingestion.
type Document struct {
	SourceID string
	Text     string
}

// CollectDocuments walks root and extracts the text of every supported
// document, using numWorkers parallel extractors. Unreadable files are logged
// and skipped. The result is ordered by source id.
func CollectDocuments(root string, numWorkers int, logger *zap.Logger) ([]Document, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	fileCh, walkErrCh := walker.Walk(root, textract.Extensions())

	var (
		mu   sync.Mutex
		docs []Document
		wg   sync.WaitGroup
	)
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fi := range fileCh {
				text, err := textract.Extract(fi.Path)
				if err != nil {
					logger.Warn("skipping unreadable policy document",
						zap.String("path", fi.RelPath), zap.Error(err))
					continue
				}
				mu.Lock()
				docs = append(docs, Document{SourceID: fi.RelPath, Text: text})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := <-walkErrCh; err != nil {
		return nil, goerr.Wrap(err, "walk policies directory", goerr.V("root", root))
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].SourceID < docs[j].SourceID })
	return docs, nil
}

// Ingest chunks, embeds and stores docs one at a time and returns the number
// of chunks added. Documents whose content is unchanged since the last ingest
// are skipped; a changed document replaces its previous chunks.
//
// Each document is all-or-nothing: its chunks are embedded in full before
// anything is written. On an embedding or write failure Ingest stops and
// returns ErrIngestion; documents committed before the failure are kept and
// persisted.
func (idx *Index) Ingest(ctx context.Context, docs []Document) (int, error) {
	added := 0
	for i, doc := range docs {
		n, err := idx.ingestOne(ctx, doc)
		if err != nil {
			if perr := idx.Persist(ctx); perr != nil {
				idx.logger.Error("persist after failed ingestion", zap.Error(perr))
			}
			return added, err
		}
		added += n
		if idx.config.OnProgress != nil {
			idx.config.OnProgress("Ingesting policy documents...", i+1, len(docs))
		}
	}

	if err := idx.Verify(ctx); err != nil {
		return added, err
	}
	if err := idx.Persist(ctx); err != nil {
		return added, err
	}
	idx.logger.Info("ingestion complete", zap.Int("documents", len(docs)), zap.Int("chunks_added", added))
	return added, nil
}

func (idx *Index) ingestOne(ctx context.Context, doc Document) (int, error) {
	hash := idx.contentHash(doc.Text)

	existing, err := idx.store.GetDocumentHash(ctx, doc.SourceID)
	if err != nil {
		return 0, goerr.Wrap(ErrIngestion, "read document hash",
			goerr.V("document", doc.SourceID), goerr.V("cause", err.Error()))
	}
	if existing == hash {
		idx.logger.Debug("document unchanged", zap.String("document", doc.SourceID))
		return 0, nil
	}

	raw := idx.chunker.Chunk(doc.SourceID, doc.Text)
	if len(raw) == 0 {
		idx.logger.Warn("document produced no chunks", zap.String("document", doc.SourceID))
		if existing == "" {
			return 0, nil
		}
		// Clear the stale chunks and record the new hash.
		if _, err := idx.store.ReplaceDocument(ctx, store.Document{SourceID: doc.SourceID, Hash: hash}, nil, nil); err != nil {
			return 0, goerr.Wrap(ErrIngestion, "clear document",
				goerr.V("document", doc.SourceID), goerr.V("cause", err.Error()))
		}
		return 0, nil
	}

	texts := make([]string, len(raw))
	for i, c := range raw {
		texts[i] = embeddingText(c.SourceDoc, c.Content)
	}

	// Embed in sub-batches of BatchSize.
	embeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += idx.config.BatchSize {
		end := min(i+idx.config.BatchSize, len(texts))
		embs, err := idx.embedder.Embed(ctx, texts[i:end])
		if err != nil {
			return 0, goerr.Wrap(ErrIngestion, "embed chunks",
				goerr.V("document", doc.SourceID), goerr.V("cause", err.Error()))
		}
		if len(embs) != end-i {
			return 0, goerr.Wrap(ErrIngestion, "embedder returned wrong number of vectors",
				goerr.V("document", doc.SourceID), goerr.V("want", end-i), goerr.V("got", len(embs)))
		}
		embeddings = append(embeddings, embs...)
	}

	chunks := make([]store.Chunk, len(raw))
	for i, c := range raw {
		chunks[i] = store.Chunk{SourceDoc: c.SourceDoc, Offset: c.Offset, Content: c.Content}
	}

	ids, err := idx.store.ReplaceDocument(ctx, store.Document{SourceID: doc.SourceID, Hash: hash}, chunks, embeddings)
	if err != nil {
		return 0, goerr.Wrap(ErrIngestion, "store document",
			goerr.V("document", doc.SourceID), goerr.V("cause", err.Error()))
	}

	verb := "added"
	if existing != "" {
		verb = "replaced"
	}
	idx.logger.Info("document ingested",
		zap.String("document", doc.SourceID), zap.String("action", verb), zap.Int("chunks", len(ids)))
	return len(ids), nil
}

// contentHash covers the chunking parameters too, so changing them re-chunks
// every document on the next ingest.
func (idx *Index) contentHash(text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%d:", idx.chunker.Window(), idx.chunker.Overlap())
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// embeddingText prefixes the chunk with its source so retrieval can match on
// the document name as well as its content.
func embeddingText(source, content string) string {
	return "Source: " + source + "\n" + content
}

func sortEvidence(ev []model.Evidence) {
	sort.SliceStable(ev, func(i, j int) bool {
		if ev[i].Similarity != ev[j].Similarity {
			return ev[i].Similarity > ev[j].Similarity
		}
		return ev[i].Chunk.ID < ev[j].Chunk.ID
	})
}
