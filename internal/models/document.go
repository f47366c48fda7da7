package models

import "time"

// Document is a source text unit submitted for ingestion. Content is set once
// at creation; there is no update path.
type Document struct {
	ID        string
	Title     string
	Source    string
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a contiguous, possibly overlapping slice of a document's content.
// Index is zero-based and unique within the owning document.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	TokenCount int
	Metadata   map[string]interface{}
}

// Embedding is one stored vector for a chunk, tagged with the model that
// produced it. A chunk may carry vectors from more than one model.
type Embedding struct {
	ID        string
	ChunkID   string
	Vector    []float32
	Model     string
	CreatedAt time.Time
}

// ProcessedChunk summarizes one persisted chunk of a processed document.
type ProcessedChunk struct {
	ID         string
	Index      int
	Content    string
	TokenCount int
}

// ProcessedDocument is the result of ingesting one document. Chunks reflects
// every persisted chunk regardless of whether its embedding succeeded;
// EmbeddedChunks counts the ones that did.
type ProcessedDocument struct {
	ID             string
	Title          string
	Source         string
	Content        string
	Chunks         []ProcessedChunk
	EmbeddedChunks int
}

// SearchResult is one ranked chunk returned from a similarity search.
type SearchResult struct {
	ChunkID        string
	Content        string
	Similarity     float32
	DocumentTitle  string
	DocumentSource string
	Metadata       map[string]interface{}
}

// Stats holds aggregate row counts for the subsystem.
type Stats struct {
	Documents  int64
	Chunks     int64
	Embeddings int64
}

// DocumentStats is one document with its chunk count, for administrative
// listings.
type DocumentStats struct {
	ID         string
	Title      string
	Source     string
	ChunkCount int64
	CreatedAt  time.Time
}
