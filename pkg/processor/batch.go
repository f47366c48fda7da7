package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mandirweb/rag/internal/models"
)

// optimizeSliceSize is how many embedding-less chunks are backfilled per
// provider call.
const optimizeSliceSize = 10

// BatchItem is one document submitted for batch ingestion. Exactly one of
// Content or PDF should be set; an item with neither fails with
// ErrMissingContent. HTML marks Content as raw markup to be reduced to main
// text before chunking.
type BatchItem struct {
	Title    string
	Source   string
	Content  string
	PDF      []byte
	HTML     bool
	Metadata map[string]interface{}
}

// BatchOptions tunes batch ingestion. OnError receives every per-item
// failure once its slice has settled, in item order; OnProgress fires once
// per slice with the number of items attempted so far. Neither callback is
// ever invoked concurrently, so callers may write to a shared sink without
// locking.
type BatchOptions struct {
	BatchSize  int
	Delay      time.Duration
	OnProgress func(processed, total int)
	OnError    func(err error, title string)
}

// ProcessBatch ingests items in consecutive slices of BatchSize. Items within
// a slice run concurrently and settle independently: a failed item never
// aborts its siblings or the batch, and is reported through OnError once the
// whole slice has settled. Slices are strictly sequential, separated by
// Delay, which caps concurrent provider load at BatchSize outstanding
// documents.
//
// The returned list holds only successful documents, ordered by completion
// within each slice. Re-sort by document id if stable ordering matters.
func (p *Processor) ProcessBatch(ctx context.Context, items []BatchItem, opts BatchOptions) ([]models.ProcessedDocument, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	// The limiter starts with a full bucket, so the first slice runs
	// immediately and each later slice waits out the delay.
	limiter := rate.NewLimiter(rate.Every(opts.Delay), 1)

	var (
		mu      sync.Mutex
		results []models.ProcessedDocument
	)

	processed := 0
	for start := 0; start < len(items); start += opts.BatchSize {
		if err := limiter.Wait(ctx); err != nil {
			return results, err
		}

		end := start + opts.BatchSize
		if end > len(items) {
			end = len(items)
		}
		slice := items[start:end]

		var wg sync.WaitGroup
		failures := make([]error, len(slice))
		for i, item := range slice {
			wg.Add(1)
			go func(i int, item BatchItem) {
				defer wg.Done()

				doc, err := p.processItem(ctx, item)
				if err != nil {
					failures[i] = err
					return
				}

				mu.Lock()
				results = append(results, *doc)
				mu.Unlock()
			}(i, item)
		}
		wg.Wait()

		// Failures are reported only after the slice has settled, one call
		// at a time, so OnError never races a sibling item or another
		// OnError invocation.
		for i, err := range failures {
			if err == nil {
				continue
			}
			if opts.OnError != nil {
				opts.OnError(err, slice[i].Title)
			} else {
				p.logger.Warn("failed to process batch item", "title", slice[i].Title, "error", err)
			}
		}

		processed += len(slice)
		if opts.OnProgress != nil {
			opts.OnProgress(processed, len(items))
		}
	}

	return results, nil
}

func (p *Processor) processItem(ctx context.Context, item BatchItem) (*models.ProcessedDocument, error) {
	switch {
	case item.HTML && item.Content != "":
		return p.ProcessHTML(ctx, []byte(item.Content), item.Title, item.Source, item.Metadata)
	case item.Content != "":
		return p.ProcessDocument(ctx, item.Title, item.Source, item.Content, item.Metadata)
	case len(item.PDF) > 0:
		return p.ProcessPDF(ctx, item.PDF, item.Title, item.Source, item.Metadata)
	default:
		return nil, fmt.Errorf("%w: %q", ErrMissingContent, item.Title)
	}
}

// OptimizeEmbeddings backfills embeddings for the given chunks that have
// none, in slices of ten per provider call. A provider failure stops the
// backfill at the failed slice; the chunks embedded before it are still
// repaired. Returns how many chunks were repaired.
func (p *Processor) OptimizeEmbeddings(ctx context.Context, chunkIDs []string) (int, error) {
	missing, err := p.store.ChunksWithoutEmbeddings(ctx, chunkIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to find chunks without embeddings: %w", err)
	}
	if len(missing) == 0 {
		return 0, nil
	}

	texts := make([]string, len(missing))
	for i, chunk := range missing {
		texts[i] = chunk.Content
	}

	vectors, embedErr := p.embedder.EmbedInSlices(ctx, texts, optimizeSliceSize)
	if embedErr != nil {
		p.logger.Warn("embedding backfill stopped early",
			"embedded", len(vectors), "missing", len(missing), "error", embedErr)
	}

	repaired := 0
	for i, vector := range vectors {
		if _, err := p.store.InsertEmbedding(ctx, missing[i].ID, vector, p.embedder.Model()); err != nil {
			p.logger.Warn("failed to store backfilled embedding", "chunk_id", missing[i].ID, "error", err)
			continue
		}
		repaired++
	}

	return repaired, nil
}
