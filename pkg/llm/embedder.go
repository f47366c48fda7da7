package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
)

// ErrProvider marks failures of the external embedding provider (network,
// quota, malformed input). Callers decide whether to propagate or isolate.
var ErrProvider = errors.New("embedding provider failure")

// DefaultBatchSize caps how many texts are sent to the provider per request.
const DefaultBatchSize = 64

// EmbedderConfig represents the configuration for the embedding client.
type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	BatchSize int
}

// Embedder wraps the external embedding provider. It performs no retries;
// provider errors are wrapped with ErrProvider and returned to the caller.
type Embedder struct {
	config EmbedderConfig
	llm    *ollama.LLM
}

// NewEmbedderWithConfig creates a new Embedder with the given configuration.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	emb, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	return &Embedder{
		config: config,
		llm:    emb,
	}, nil
}

// Model returns the model identifier embeddings are tagged with.
func (e *Embedder) Model() string {
	return e.config.Model
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrProvider)
	}
	return vectors[0], nil
}

// EmbedMany embeds texts in a single provider call, preserving input order.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProvider, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedInSlices embeds texts in consecutive slices of at most batchSize,
// calling the provider once per slice sequentially. Results are concatenated
// in the original order. A batchSize of zero or less uses the configured
// default. On a provider failure the vectors embedded so far are returned
// alongside the error, so callers can keep the prefix that succeeded.
func (e *Embedder) EmbedInSlices(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = e.config.BatchSize
	}

	vectors := make([][]float32, 0, len(texts))
	for _, slice := range sliceTexts(texts, batchSize) {
		sliced, err := e.EmbedMany(ctx, slice)
		if err != nil {
			return vectors, err
		}
		vectors = append(vectors, sliced...)
	}
	return vectors, nil
}

// sliceTexts partitions texts into consecutive slices of at most size
// elements.
func sliceTexts(texts []string, size int) [][]string {
	var slices [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		slices = append(slices, texts[start:end])
	}
	return slices
}
