package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mandirweb/rag/internal/models"
	"github.com/mandirweb/rag/pkg/chunker"
	"github.com/mandirweb/rag/pkg/pdf"
)

// embedTimeout bounds each embedding provider call. A hung call counts as a
// provider error for that one chunk and never blocks its siblings.
const embedTimeout = 30 * time.Second

// Store is the persistence surface the processor needs. The concrete
// implementation is store.VectorStore.
type Store interface {
	InsertDocument(ctx context.Context, title, source, content string, metadata map[string]interface{}) (string, error)
	InsertChunk(ctx context.Context, documentID string, index int, content string, tokenCount int, metadata map[string]interface{}) (string, error)
	InsertEmbedding(ctx context.Context, chunkID string, vector []float32, model string) (string, error)
	DeleteDocument(ctx context.Context, documentID string) error
	DocumentsWithChunkCounts(ctx context.Context) ([]models.DocumentStats, error)
	ChunksWithoutEmbeddings(ctx context.Context, chunkIDs []string) ([]models.Chunk, error)
}

// EmbeddingClient is the slice of the embedding client the processor uses.
// llm.Embedder satisfies it.
type EmbeddingClient interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	EmbedInSlices(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Model() string
}

// Processor orchestrates ingestion: document record, chunking, chunk
// persistence, then per-chunk embedding.
type Processor struct {
	store     Store
	embedder  EmbeddingClient
	chunker   chunker.Chunker
	extractor pdf.Extractor
	logger    *slog.Logger
}

// New creates a Processor with explicit dependencies. A nil logger falls back
// to slog.Default.
func New(store Store, embedder EmbeddingClient, c chunker.Chunker, extractor pdf.Extractor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		store:     store,
		embedder:  embedder,
		chunker:   c,
		extractor: extractor,
		logger:    logger,
	}
}

// ProcessDocument ingests one document: creates the record, chunks the
// content, persists chunks in index order, then embeds every chunk
// concurrently. Embedding failures are logged and skipped; a document whose
// chunks are only partially embedded is still returned as processed.
func (p *Processor) ProcessDocument(ctx context.Context, title, source, content string, metadata map[string]interface{}) (*models.ProcessedDocument, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDocument, title)
	}

	docID, err := p.store.InsertDocument(ctx, title, source, content, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	texts := p.chunker.Chunk(content)

	chunks := make([]models.ProcessedChunk, 0, len(texts))
	for i, text := range texts {
		chunkID, err := p.store.InsertChunk(ctx, docID, i, text, chunker.EstimateTokens(text), map[string]interface{}{
			"char_length": len(text),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist chunk %d: %w", i, err)
		}
		chunks = append(chunks, models.ProcessedChunk{
			ID:         chunkID,
			Index:      i,
			Content:    text,
			TokenCount: chunker.EstimateTokens(text),
		})
	}

	// Embed all chunks of the document concurrently. Failures are isolated:
	// a chunk left without an embedding is an accepted, queryable-but-
	// incomplete state, repaired later by OptimizeEmbeddings.
	var wg sync.WaitGroup
	var embedded atomic.Int32

	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk models.ProcessedChunk) {
			defer wg.Done()

			embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
			defer cancel()

			vector, err := p.embedder.EmbedOne(embedCtx, chunk.Content)
			if err != nil {
				p.logger.Warn("failed to embed chunk",
					"document_id", docID, "chunk_index", chunk.Index, "error", err)
				return
			}

			if _, err := p.store.InsertEmbedding(ctx, chunk.ID, vector, p.embedder.Model()); err != nil {
				p.logger.Warn("failed to store embedding",
					"document_id", docID, "chunk_index", chunk.Index, "error", err)
				return
			}

			embedded.Add(1)
		}(chunk)
	}
	wg.Wait()

	if int(embedded.Load()) < len(chunks) {
		p.logger.Warn("document partially embedded",
			"document_id", docID, "embedded", embedded.Load(), "chunks", len(chunks))
	}

	return &models.ProcessedDocument{
		ID:             docID,
		Title:          title,
		Source:         source,
		Content:        content,
		Chunks:         chunks,
		EmbeddedChunks: int(embedded.Load()),
	}, nil
}

// ProcessPDF extracts text from a PDF buffer and ingests it as a document.
// Extraction metadata (page count, document info) is merged into the
// document's metadata.
func (p *Processor) ProcessPDF(ctx context.Context, data []byte, title, source string, metadata map[string]interface{}) (*models.ProcessedDocument, error) {
	extraction, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract PDF text: %w", err)
	}

	if strings.TrimSpace(extraction.Text) == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyExtraction, title)
	}

	merged := cloneMetadata(metadata)
	merged["page_count"] = extraction.PageCount
	if extraction.Info.Title != "" {
		merged["pdf_title"] = extraction.Info.Title
	}
	if extraction.Info.Author != "" {
		merged["pdf_author"] = extraction.Info.Author
	}
	if extraction.Info.Subject != "" {
		merged["pdf_subject"] = extraction.Info.Subject
	}
	if extraction.Info.Creator != "" {
		merged["pdf_creator"] = extraction.Info.Creator
	}

	return p.ProcessDocument(ctx, title, source, extraction.Text, merged)
}

// DeleteDocument removes a document and, by cascade, its chunks and
// embeddings. Absent documents delete silently.
func (p *Processor) DeleteDocument(ctx context.Context, documentID string) error {
	return p.store.DeleteDocument(ctx, documentID)
}

// DocumentsWithStats lists all documents with their chunk counts.
func (p *Processor) DocumentsWithStats(ctx context.Context) ([]models.DocumentStats, error) {
	return p.store.DocumentsWithChunkCounts(ctx)
}

func cloneMetadata(metadata map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(metadata)+4)
	for k, v := range metadata {
		merged[k] = v
	}
	return merged
}
