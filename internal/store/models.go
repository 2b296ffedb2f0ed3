package store

import "time"

// Document is an ingested internal policy document.
type Document struct {
	ID         int64
	SourceID   string
	Hash       string
	Chunks     int
	IngestedAt time.Time
}

// Chunk is a stored window of a document.
type Chunk struct {
	ID         int64
	DocumentID int64
	SourceDoc  string
	Offset     int
	Content    string
}

// SearchResult is a chunk with its distance from the query vector.
type SearchResult struct {
	Chunk    Chunk
	Distance float64
}

// Stats summarises the store contents.
type Stats struct {
	Documents int
	Chunks    int
	Vectors   int
}
