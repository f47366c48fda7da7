package store

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mandirweb/rag/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	VectorDim  int
}

// VectorStore persists documents, chunks and their embeddings in Postgres and
// answers cosine-similarity searches through pgvector.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWithConfig(config VectorStoreConfig, logger *slog.Logger) (*VectorStore, error) {
	if config.VectorDim == 0 {
		config.VectorDim = 768 // Default for nomic-embed-text
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		logger: logger,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	// Documents own chunks, chunks own embeddings; deletes cascade down.
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS rag_chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			metadata JSONB,
			UNIQUE (document_id, chunk_index)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_embeddings (
			id UUID PRIMARY KEY,
			chunk_id UUID NOT NULL REFERENCES rag_chunks(id) ON DELETE CASCADE,
			embedding vector(%d) NOT NULL,
			model TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.config.VectorDim),
	}

	for _, stmt := range statements {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %v", err)
		}
	}

	// Create vector index
	createIndex := `
		CREATE INDEX IF NOT EXISTS rag_embeddings_embedding_idx
		ON rag_embeddings
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

// InsertDocument creates a document record and returns its id.
func (vs *VectorStore) InsertDocument(ctx context.Context, title, source, content string, metadata map[string]interface{}) (string, error) {
	id := uuid.NewString()

	_, err := vs.pool.Exec(ctx, `
		INSERT INTO rag_documents (id, title, source, content, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		id, sanitizeUTF8(title), source, sanitizeUTF8(content), metadata,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %v", err)
	}

	return id, nil
}

// InsertChunk persists one chunk of a document and returns the chunk id.
func (vs *VectorStore) InsertChunk(ctx context.Context, documentID string, index int, content string, tokenCount int, metadata map[string]interface{}) (string, error) {
	id := uuid.NewString()

	_, err := vs.pool.Exec(ctx, `
		INSERT INTO rag_chunks (id, document_id, chunk_index, content, token_count, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, documentID, index, sanitizeUTF8(content), tokenCount, metadata,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert chunk: %v", err)
	}

	return id, nil
}

// InsertEmbedding stores the vector for one chunk, tagged with the model that
// produced it.
func (vs *VectorStore) InsertEmbedding(ctx context.Context, chunkID string, vector []float32, model string) (string, error) {
	id := uuid.NewString()

	_, err := vs.pool.Exec(ctx, `
		INSERT INTO rag_embeddings (id, chunk_id, embedding, model)
		VALUES ($1, $2, $3, $4)`,
		id, chunkID, pgvector.NewVector(vector), model,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert embedding: %v", err)
	}

	return id, nil
}

// Search returns chunks whose stored embeddings have cosine similarity above
// threshold, ordered by descending similarity, at most limit rows.
//
// The search path fails closed: any query error is logged and an empty result
// set is returned, so a broken index never takes the chat flow down with it.
func (vs *VectorStore) Search(ctx context.Context, queryVector []float32, threshold float32, limit int) ([]models.SearchResult, error) {
	embedding := pgvector.NewVector(queryVector)

	rows, err := vs.pool.Query(ctx, `
		SELECT c.id, c.content, 1 - (e.embedding <=> $1) AS similarity,
		       d.title, d.source, c.metadata
		FROM rag_embeddings e
		JOIN rag_chunks c ON c.id = e.chunk_id
		JOIN rag_documents d ON d.id = c.document_id
		WHERE 1 - (e.embedding <=> $1) > $2
		ORDER BY e.embedding <=> $1
		LIMIT $3`,
		embedding, threshold, limit,
	)
	if err != nil {
		vs.logger.Warn("similarity search failed, returning no results", "error", err)
		return []models.SearchResult{}, nil
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ChunkID, &r.Content, &r.Similarity, &r.DocumentTitle, &r.DocumentSource, &r.Metadata); err != nil {
			vs.logger.Warn("failed to scan search row, returning no results", "error", err)
			return []models.SearchResult{}, nil
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		vs.logger.Warn("similarity search failed, returning no results", "error", err)
		return []models.SearchResult{}, nil
	}

	return results, nil
}

// DeleteDocument removes a document; chunks and embeddings go with it via
// cascading foreign keys. Deleting an absent document is a no-op.
func (vs *VectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	tag, err := vs.pool.Exec(ctx, `DELETE FROM rag_documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %v", err)
	}

	if tag.RowsAffected() == 0 {
		vs.logger.Debug("delete of absent document", "document_id", documentID)
	}

	return nil
}

// Stats returns aggregate document, chunk and embedding counts.
func (vs *VectorStore) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats

	err := vs.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM rag_documents),
			(SELECT count(*) FROM rag_chunks),
			(SELECT count(*) FROM rag_embeddings)`,
	).Scan(&stats.Documents, &stats.Chunks, &stats.Embeddings)
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to query stats: %v", err)
	}

	return stats, nil
}

// DocumentsWithChunkCounts lists every document with its chunk count, newest
// first.
func (vs *VectorStore) DocumentsWithChunkCounts(ctx context.Context) ([]models.DocumentStats, error) {
	rows, err := vs.pool.Query(ctx, `
		SELECT d.id, d.title, d.source, d.created_at, count(c.id)
		FROM rag_documents d
		LEFT JOIN rag_chunks c ON c.document_id = d.id
		GROUP BY d.id, d.title, d.source, d.created_at
		ORDER BY d.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %v", err)
	}
	defer rows.Close()

	var docs []models.DocumentStats
	for rows.Next() {
		var d models.DocumentStats
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.CreatedAt, &d.ChunkCount); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %v", err)
		}
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

// ChunksWithoutEmbeddings returns the subset of the given chunks that have no
// stored embedding at all, in document/index order.
func (vs *VectorStore) ChunksWithoutEmbeddings(ctx context.Context, chunkIDs []string) ([]models.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	rows, err := vs.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.token_count
		FROM rag_chunks c
		WHERE c.id = ANY($1)
		  AND NOT EXISTS (SELECT 1 FROM rag_embeddings e WHERE e.chunk_id = c.id)
		ORDER BY c.document_id, c.chunk_index`,
		chunkIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks without embeddings: %v", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %v", err)
		}
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

// sanitizeUTF8 strips invalid byte sequences so Postgres never rejects a row
// over a bad rune.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
