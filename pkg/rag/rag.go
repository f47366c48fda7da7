package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mandirweb/rag/internal/models"
	"github.com/mandirweb/rag/pkg/chunker"
)

// DefaultThreshold is the minimum cosine similarity for a chunk to count as
// relevant.
const DefaultThreshold = 0.5

// DefaultLimit caps how many chunks a search returns.
const DefaultLimit = 5

// DefaultMaxContextTokens bounds the assembled context block.
const DefaultMaxContextTokens = 2000

// Store is the search surface the query service needs. store.VectorStore
// satisfies it.
type Store interface {
	Search(ctx context.Context, queryVector []float32, threshold float32, limit int) ([]models.SearchResult, error)
}

// EmbeddingClient embeds the user's query. llm.Embedder satisfies it.
type EmbeddingClient interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Service answers free-text queries with ranked chunks and an assembled
// context block for downstream prompting.
type Service struct {
	store    Store
	embedder EmbeddingClient
	logger   *slog.Logger
}

type SearchOptions struct {
	Threshold float32
	Limit     int
}

type SearchResponse struct {
	Chunks     []models.SearchResult
	TotalFound int
}

// New creates a Service with explicit dependencies. A nil logger falls back
// to slog.Default.
func New(store Store, embedder EmbeddingClient, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:    store,
		embedder: embedder,
		logger:   logger,
	}
}

// Search embeds the query and returns chunks above the similarity threshold,
// ranked by descending similarity. A failed query embedding is a hard error:
// without a query vector there is nothing to ground an answer on. An empty
// result set is a valid outcome, not an error.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultLimit
	}

	vector, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := s.store.Search(ctx, vector, opts.Threshold, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	s.logger.Debug("search complete", "query_length", len(query), "found", len(chunks))

	return &SearchResponse{
		Chunks:     chunks,
		TotalFound: len(chunks),
	}, nil
}

// BuildContext packs ranked chunks into a labeled context block, greedily in
// the order received, stopping before the estimated token total would exceed
// maxTokens. Input is assumed pre-ranked by relevance, so dropping the tail
// drops the least relevant chunks.
func BuildContext(chunks []models.SearchResult, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}

	var contextBuilder strings.Builder
	total := 0

	for _, chunk := range chunks {
		block := fmt.Sprintf("\n\nSource: %s - %s\n%s", chunk.DocumentSource, chunk.DocumentTitle, chunk.Content)
		cost := chunker.EstimateTokens(block)
		if total+cost > maxTokens {
			break
		}
		contextBuilder.WriteString(block)
		total += cost
	}

	return strings.TrimSpace(contextBuilder.String())
}
