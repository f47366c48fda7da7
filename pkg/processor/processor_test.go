package processor_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandirweb/rag/internal/models"
	"github.com/mandirweb/rag/pkg/chunker"
	"github.com/mandirweb/rag/pkg/pdf"
	"github.com/mandirweb/rag/pkg/processor"
)

// fakeStore is an in-memory processor.Store.
type fakeStore struct {
	mu sync.Mutex

	documents  map[string]map[string]interface{}
	chunks     []models.Chunk
	embeddings map[string]models.Embedding // keyed by chunk id

	failInsertChunk     bool
	failInsertEmbedding bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		documents:  make(map[string]map[string]interface{}),
		embeddings: make(map[string]models.Embedding),
	}
}

func (s *fakeStore) InsertDocument(_ context.Context, _, _, _ string, metadata map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("doc-%d", len(s.documents))
	s.documents[id] = metadata
	return id, nil
}

func (s *fakeStore) InsertChunk(_ context.Context, documentID string, index int, content string, tokenCount int, metadata map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsertChunk {
		return "", errors.New("disk full")
	}
	id := fmt.Sprintf("chunk-%d", len(s.chunks))
	s.chunks = append(s.chunks, models.Chunk{
		ID:         id,
		DocumentID: documentID,
		Index:      index,
		Content:    content,
		TokenCount: tokenCount,
		Metadata:   metadata,
	})
	return id, nil
}

func (s *fakeStore) InsertEmbedding(_ context.Context, chunkID string, vector []float32, model string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsertEmbedding {
		return "", errors.New("disk full")
	}
	id := "emb-" + chunkID
	s.embeddings[chunkID] = models.Embedding{ID: id, ChunkID: chunkID, Vector: vector, Model: model}
	return id, nil
}

func (s *fakeStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, documentID)
	return nil
}

func (s *fakeStore) DocumentsWithChunkCounts(context.Context) ([]models.DocumentStats, error) {
	return nil, nil
}

func (s *fakeStore) ChunksWithoutEmbeddings(_ context.Context, chunkIDs []string) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		wanted[id] = true
	}
	var missing []models.Chunk
	for _, chunk := range s.chunks {
		if _, embedded := s.embeddings[chunk.ID]; wanted[chunk.ID] && !embedded {
			missing = append(missing, chunk)
		}
	}
	return missing, nil
}

func (s *fakeStore) embeddedChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.embeddings)
}

// fakeEmbedder returns a fixed-size vector per text, failing for texts that
// contain failOn.
type fakeEmbedder struct {
	failOn string
}

func (e *fakeEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("provider unavailable")
	}
	return []float32{float32(len(text)), 0, 0}, nil
}

func (e *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *fakeEmbedder) EmbedInSlices(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		sliced, err := e.EmbedMany(ctx, texts[start:end])
		if err != nil {
			return vectors, err
		}
		vectors = append(vectors, sliced...)
	}
	return vectors, nil
}

func (e *fakeEmbedder) Model() string { return "fake-model" }

// fakeExtractor implements pdf.Extractor without parsing anything.
type fakeExtractor struct {
	extraction pdf.Extraction
	err        error
}

func (e *fakeExtractor) Extract(context.Context, []byte) (pdf.Extraction, error) {
	return e.extraction, e.err
}

func newProcessor(store *fakeStore, embedder *fakeEmbedder, extractor pdf.Extractor) *processor.Processor {
	return processor.New(store, embedder, chunker.New(), extractor, nil)
}

func TestProcessDocument_RejectsEmptyContent(t *testing.T) {
	p := newProcessor(newFakeStore(), &fakeEmbedder{}, &fakeExtractor{})

	_, err := p.ProcessDocument(context.Background(), "empty", "test", "   \n ", nil)
	assert.ErrorIs(t, err, processor.ErrInvalidDocument)
}

func TestProcessDocument_ChunksAndEmbeds(t *testing.T) {
	store := newFakeStore()
	p := newProcessor(store, &fakeEmbedder{}, &fakeExtractor{})

	content := strings.Repeat("Perform your duty without attachment to its fruits. ", 12) // ~624 chars

	doc, err := p.ProcessDocument(context.Background(), "Gita 2.47", "Bhagavad Gita", content, nil)
	require.NoError(t, err)

	require.Len(t, doc.Chunks, 2)
	assert.Equal(t, 2, doc.EmbeddedChunks)

	// Chunk indices assigned in left-to-right order.
	for i, chunk := range doc.Chunks {
		assert.Equal(t, i, chunk.Index)
		assert.LessOrEqual(t, len(chunk.Content), 500)
		assert.Equal(t, chunker.EstimateTokens(chunk.Content), chunk.TokenCount)
	}

	assert.Len(t, store.chunks, 2)
	assert.Len(t, store.embeddings, 2)
}

func TestProcessDocument_PartialEmbeddingResilience(t *testing.T) {
	store := newFakeStore()
	// The second chunk of the document contains the poison marker.
	embedder := &fakeEmbedder{failOn: "POISON"}
	p := newProcessor(store, embedder, &fakeExtractor{})

	content := strings.Repeat("All beings follow their own nature, what can repression do? ", 9) +
		"POISON " + strings.Repeat("z", 80)

	doc, err := p.ProcessDocument(context.Background(), "partial", "test", content, nil)
	require.NoError(t, err, "one failed embedding must not fail the document")

	require.Greater(t, len(doc.Chunks), 1)
	assert.Equal(t, len(doc.Chunks)-1, doc.EmbeddedChunks)
	assert.Len(t, store.embeddings, len(doc.Chunks)-1)
}

func TestProcessDocument_ChunkWriteFailurePropagates(t *testing.T) {
	store := newFakeStore()
	store.failInsertChunk = true
	p := newProcessor(store, &fakeEmbedder{}, &fakeExtractor{})

	_, err := p.ProcessDocument(context.Background(), "doomed", "test", "some content", nil)
	assert.Error(t, err)
}

func TestProcessPDF(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{
		extraction: pdf.Extraction{
			Text:      "Chapter one. The field and the knower of the field.",
			PageCount: 3,
			Info:      pdf.Info{Title: "Gita", Author: "Vyasa"},
		},
	}
	p := newProcessor(store, &fakeEmbedder{}, extractor)

	doc, err := p.ProcessPDF(context.Background(), []byte("%PDF-"), "Gita ch13", "Bhagavad Gita", map[string]interface{}{
		"upload": "admin",
	})
	require.NoError(t, err)
	require.Len(t, doc.Chunks, 1)

	metadata := store.documents[doc.ID]
	assert.Equal(t, 3, metadata["page_count"])
	assert.Equal(t, "Gita", metadata["pdf_title"])
	assert.Equal(t, "Vyasa", metadata["pdf_author"])
	assert.Equal(t, "admin", metadata["upload"])
}

func TestProcessPDF_EmptyExtraction(t *testing.T) {
	extractor := &fakeExtractor{extraction: pdf.Extraction{Text: "  \n "}}
	p := newProcessor(newFakeStore(), &fakeEmbedder{}, extractor)

	_, err := p.ProcessPDF(context.Background(), []byte("%PDF-"), "blank", "test", nil)
	assert.ErrorIs(t, err, processor.ErrEmptyExtraction)
}

func TestProcessHTML(t *testing.T) {
	store := newFakeStore()
	p := newProcessor(store, &fakeEmbedder{}, &fakeExtractor{})

	html := `<html><head><title>Ekadashi Calendar</title><style>p{color:red}</style></head>
		<body><nav>menu</nav><main><p>Fasting days fall twice a month.</p></main></body></html>`

	doc, err := p.ProcessHTML(context.Background(), []byte(html), "Ekadashi", "calendar", nil)
	require.NoError(t, err)
	require.Len(t, doc.Chunks, 1)

	assert.Equal(t, "Fasting days fall twice a month.", doc.Chunks[0].Content)
	assert.Equal(t, "Ekadashi Calendar", store.documents[doc.ID]["html_title"])
}

func TestProcessHTML_NoText(t *testing.T) {
	p := newProcessor(newFakeStore(), &fakeEmbedder{}, &fakeExtractor{})

	_, err := p.ProcessHTML(context.Background(), []byte("<html><body><script>x()</script></body></html>"), "empty", "test", nil)
	assert.ErrorIs(t, err, processor.ErrEmptyExtraction)
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	store := newFakeStore()
	p := newProcessor(store, &fakeEmbedder{}, &fakeExtractor{})

	items := []processor.BatchItem{
		{Title: "one", Source: "test", Content: "First verse text."},
		{Title: "two", Source: "test", Content: "Second verse text."},
		{Title: "broken", Source: "test"}, // neither content nor PDF
		{Title: "three", Source: "test", Content: "Third verse text."},
		{Title: "four", Source: "test", Content: "Fourth verse text."},
	}

	// OnError is invoked sequentially after each slice, so the callback may
	// append to a plain slice.
	var failures []string
	results, err := p.ProcessBatch(context.Background(), items, processor.BatchOptions{
		BatchSize: 2,
		Delay:     time.Millisecond,
		OnError: func(err error, title string) {
			assert.ErrorIs(t, err, processor.ErrMissingContent)
			failures = append(failures, title)
		},
	})
	require.NoError(t, err)

	assert.Len(t, results, 4)
	assert.Equal(t, []string{"broken"}, failures)
}

// slowExtractor delays extraction so a sibling item's failure is known well
// before this item settles.
type slowExtractor struct {
	delay      time.Duration
	extraction pdf.Extraction
}

func (e *slowExtractor) Extract(context.Context, []byte) (pdf.Extraction, error) {
	time.Sleep(e.delay)
	return e.extraction, nil
}

func TestProcessBatch_ReportsFailuresAfterSliceSettles(t *testing.T) {
	store := newFakeStore()
	extractor := &slowExtractor{
		delay:      50 * time.Millisecond,
		extraction: pdf.Extraction{Text: "Extracted scripture text.", PageCount: 1},
	}
	p := newProcessor(store, &fakeEmbedder{}, extractor)

	// The broken item fails immediately while its sibling is still slowly
	// extracting. The failure report must wait for the sibling.
	items := []processor.BatchItem{
		{Title: "scan", Source: "archive", PDF: []byte("%PDF-")},
		{Title: "broken", Source: "test"},
	}

	embeddedAtError := -1
	results, err := p.ProcessBatch(context.Background(), items, processor.BatchOptions{
		BatchSize: 2,
		Delay:     time.Millisecond,
		OnError: func(err error, title string) {
			assert.Equal(t, "broken", title)
			embeddedAtError = store.embeddedChunkCount()
		},
	})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 1, embeddedAtError, "failure reported before the sibling item settled")
}

func TestProcessBatch_ProgressPerSlice(t *testing.T) {
	p := newProcessor(newFakeStore(), &fakeEmbedder{}, &fakeExtractor{})

	items := make([]processor.BatchItem, 5)
	for i := range items {
		items[i] = processor.BatchItem{Title: fmt.Sprintf("doc-%d", i), Source: "test", Content: "verse text"}
	}

	var progress [][2]int
	_, err := p.ProcessBatch(context.Background(), items, processor.BatchOptions{
		BatchSize: 2,
		Delay:     time.Millisecond,
		OnProgress: func(processed, total int) {
			progress = append(progress, [2]int{processed, total})
		},
	})
	require.NoError(t, err)

	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, progress)
}

func TestProcessBatch_RoutesPDFItems(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{extraction: pdf.Extraction{Text: "Extracted scripture text.", PageCount: 1}}
	p := newProcessor(store, &fakeEmbedder{}, extractor)

	results, err := p.ProcessBatch(context.Background(), []processor.BatchItem{
		{Title: "scan", Source: "archive", PDF: []byte("%PDF-")},
	}, processor.BatchOptions{Delay: time.Millisecond})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 1, store.documents[results[0].ID]["page_count"])
}

func TestProcessBatch_RoutesHTMLItems(t *testing.T) {
	store := newFakeStore()
	p := newProcessor(store, &fakeEmbedder{}, &fakeExtractor{})

	results, err := p.ProcessBatch(context.Background(), []processor.BatchItem{
		{
			Title:   "page",
			Source:  "web",
			Content: "<html><head><title>Aarti Times</title></head><body><main><p>Evening aarti at seven.</p></main></body></html>",
			HTML:    true,
		},
	}, processor.BatchOptions{Delay: time.Millisecond})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "Evening aarti at seven.", results[0].Chunks[0].Content)
	assert.Equal(t, "Aarti Times", store.documents[results[0].ID]["html_title"])
}

func TestOptimizeEmbeddings(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{failOn: "POISON"}
	p := newProcessor(store, embedder, &fakeExtractor{})

	// A document whose poisoned chunk was left without an embedding.
	content := strings.Repeat("A steady mind attains peace, not the grasping mind. ", 10) +
		"POISON " + strings.Repeat("y", 80)
	doc, err := p.ProcessDocument(context.Background(), "partial", "test", content, nil)
	require.NoError(t, err)
	require.Equal(t, len(doc.Chunks)-1, doc.EmbeddedChunks)

	chunkIDs := make([]string, len(doc.Chunks))
	for i, chunk := range doc.Chunks {
		chunkIDs[i] = chunk.ID
	}

	// Provider recovers; the backfill repairs the missing embedding.
	embedder.failOn = ""
	repaired, err := p.OptimizeEmbeddings(context.Background(), chunkIDs)
	require.NoError(t, err)

	assert.Equal(t, 1, repaired)
	assert.Len(t, store.embeddings, len(doc.Chunks))
}

func TestOptimizeEmbeddings_KeepsCompletedSlices(t *testing.T) {
	store := newFakeStore()
	p := newProcessor(store, &fakeEmbedder{failOn: "POISON"}, &fakeExtractor{})

	// Eleven embedding-less chunks: the first provider slice of ten is clean,
	// the eleventh poisons the second slice.
	chunkIDs := make([]string, 11)
	for i := range chunkIDs {
		content := fmt.Sprintf("Verse %d text.", i)
		if i == 10 {
			content = "POISON verse."
		}
		id := fmt.Sprintf("chunk-%d", i)
		store.chunks = append(store.chunks, models.Chunk{ID: id, DocumentID: "doc-0", Index: i, Content: content})
		chunkIDs[i] = id
	}

	repaired, err := p.OptimizeEmbeddings(context.Background(), chunkIDs)
	require.NoError(t, err)

	assert.Equal(t, 10, repaired, "the completed first slice must survive the failed second one")
	assert.Len(t, store.embeddings, 10)
	_, embedded := store.embeddings["chunk-10"]
	assert.False(t, embedded)
}
