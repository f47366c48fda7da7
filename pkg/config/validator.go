package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate embedding config
	if c.Embedding.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding.base_url",
			Message: "embedding provider base URL is required",
		})
	} else if _, err := url.Parse(c.Embedding.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "embedding.base_url",
			Message: "invalid embedding provider base URL",
		})
	}

	if c.Embedding.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	// Validate chunker config
	if c.Chunker.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "chunker.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Chunker.BoundaryFraction < 0 || c.Chunker.BoundaryFraction > 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.boundary_fraction",
			Message: "boundary_fraction must be between 0 and 1",
		})
	}

	// Validate batch config
	if c.Batch.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "batch.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Batch.DelayMS < 0 {
		errors = append(errors, ValidationError{
			Field:   "batch.delay_ms",
			Message: "delay_ms must be non-negative",
		})
	}

	// Validate RAG config
	if c.RAG.Threshold < 0 || c.RAG.Threshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.threshold",
			Message: "threshold must be between 0 and 1",
		})
	}

	if c.RAG.Limit < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.limit",
			Message: "limit must be positive",
		})
	}

	if c.RAG.MaxContextTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.max_context_tokens",
			Message: "max_context_tokens must be positive",
		})
	}

	return errors
}
