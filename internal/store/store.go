package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Store provides persistence for ingested documents, chunks, and embeddings.
type Store interface {
	// GetDocumentHash returns the stored hash for a document, or "" if not ingested.
	GetDocumentHash(ctx context.Context, sourceID string) (string, error)
	// ReplaceDocument stores a document with its chunks and embeddings in one
	// transaction, superseding any chunks previously stored for it.
	ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk, embeddings [][]float32) ([]int64, error)
	// Search finds the k chunks closest to the query embedding.
	Search(ctx context.Context, queryEmbedding []float32, k int) ([]SearchResult, error)
	// ChunkIDs and VectorIDs return the sorted key sets of the two tables.
	ChunkIDs(ctx context.Context) ([]int64, error)
	VectorIDs(ctx context.Context) ([]int64, error)
	// Stats counts documents, chunks and vectors.
	Stats(ctx context.Context) (Stats, error)
	// Documents lists ingested documents ordered by source id.
	Documents(ctx context.Context) ([]Document, error)
	// GetMeta returns a metadata value by key, or "" if not set.
	GetMeta(ctx context.Context, key string) (string, error)
	// SetMeta sets a metadata key-value pair.
	SetMeta(ctx context.Context, key, value string) error
	// Reset drops all documents, chunks and vectors and recreates the vector
	// table with the given dimensionality and metric.
	Reset(ctx context.Context, dims int, metric string) error
	// Checkpoint flushes the write-ahead log into the main database file.
	Checkpoint(ctx context.Context) error
	// VacuumInto writes a consistent copy of the database to path.
	VacuumInto(ctx context.Context, path string) error
	// Close closes the underlying database.
	Close() error
}

// SQLiteStore implements Store backed by SQLite + sqlite-vec.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and initializes
// the schema. dims and metric only apply when the vector table is created.
func Open(dbPath string, dims int, metric string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db, dims, metric); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetDocumentHash(ctx context.Context, sourceID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT hash FROM documents WHERE source_id = ?", sourceID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func (s *SQLiteStore) ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk, embeddings [][]float32) ([]int64, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("mismatched chunks (%d) and embeddings (%d)", len(chunks), len(embeddings))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var docID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM documents WHERE source_id = ?", doc.SourceID).Scan(&docID)
	switch {
	case err == nil:
		// Existing document: drop its vectors and chunks before re-inserting.
		oldIDs, err := chunkIDsForDocument(ctx, tx, docID)
		if err != nil {
			return nil, err
		}
		for _, cid := range oldIDs {
			if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE chunk_id = ?", cid); err != nil {
				return nil, fmt.Errorf("delete old embedding %d: %w", cid, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", docID); err != nil {
			return nil, fmt.Errorf("delete old chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET hash = ?, ingested_at = CURRENT_TIMESTAMP WHERE id = ?", doc.Hash, docID,
		); err != nil {
			return nil, fmt.Errorf("update document: %w", err)
		}
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, "INSERT INTO documents (source_id, hash) VALUES (?, ?)", doc.SourceID, doc.Hash)
		if err != nil {
			return nil, fmt.Errorf("insert document: %w", err)
		}
		if docID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	chunkStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (document_id, source_doc, char_offset, content) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return nil, err
	}
	defer chunkStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
	if err != nil {
		return nil, err
	}
	defer vecStmt.Close()

	ids := make([]int64, 0, len(chunks))
	for i, c := range chunks {
		res, err := chunkStmt.ExecContext(ctx, docID, c.SourceDoc, c.Offset, c.Content)
		if err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}

		blob, err := sqlite_vec.SerializeFloat32(embeddings[i])
		if err != nil {
			return nil, fmt.Errorf("serialize embedding for chunk %d: %w", id, err)
		}
		if _, err := vecStmt.ExecContext(ctx, id, blob); err != nil {
			return nil, fmt.Errorf("insert embedding for chunk %d: %w", id, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func chunkIDsForDocument(ctx context.Context, tx *sql.Tx, docID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM chunks WHERE document_id = ?", docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Search(ctx context.Context, queryEmbedding []float32, k int) ([]SearchResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH knn AS (
			SELECT chunk_id, distance
			FROM vec_chunks
			WHERE embedding MATCH ? AND k = ?
		)
		SELECT c.id, c.document_id, c.source_doc, c.char_offset, c.content, knn.distance
		FROM knn
		JOIN chunks c ON c.id = knn.chunk_id
		ORDER BY knn.distance, c.id
	`, blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		err := rows.Scan(
			&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.SourceDoc, &r.Chunk.Offset, &r.Chunk.Content,
			&r.Distance,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) ChunkIDs(ctx context.Context) ([]int64, error) {
	return s.ids(ctx, "SELECT id FROM chunks")
}

func (s *SQLiteStore) VectorIDs(ctx context.Context) ([]int64, error) {
	return s.ids(ctx, "SELECT chunk_id FROM vec_chunks")
}

func (s *SQLiteStore) ids(ctx context.Context, query string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM vec_chunks)
	`).Scan(&st.Documents, &st.Chunks, &st.Vectors)
	return st, err
}

func (s *SQLiteStore) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.source_id, d.hash, d.ingested_at, COUNT(c.id)
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		GROUP BY d.id
		ORDER BY d.source_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.SourceID, &d.Hash, &d.IngestedAt, &d.Chunks); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (s *SQLiteStore) Reset(ctx context.Context, dims int, metric string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS vec_chunks"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM meta"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, vecDDL(dims, metric)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *SQLiteStore) VacuumInto(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
