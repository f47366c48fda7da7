package chunker

import "strings"

// ApproxTokensPerChunk is the rough token ceiling implied by the default
// chunk size. Informational only; nothing here enforces it.
const ApproxTokensPerChunk = 125

type Config struct {
	MaxChunkSize     int
	ChunkOverlap     int
	BoundaryFraction float64
}

type Chunker struct {
	config Config
}

func NewWithConfig(config Config) Chunker {
	if config.MaxChunkSize == 0 {
		config.MaxChunkSize = 500
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 50
	}
	if config.BoundaryFraction == 0 {
		config.BoundaryFraction = 0.5
	}

	return Chunker{
		config: config,
	}
}

func New() Chunker {
	return NewWithConfig(Config{})
}

// Chunk splits text into overlapping segments of at most MaxChunkSize
// characters. When a window does not reach the end of the text, the cut is
// pulled back to the last sentence terminal found beyond BoundaryFraction of
// the window, so chunks tend to end on sentence boundaries. Consecutive
// chunks overlap by roughly ChunkOverlap characters. Each chunk is trimmed
// and empty results are dropped.
func (c *Chunker) Chunk(text string) []string {
	if len(text) <= c.config.MaxChunkSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + c.config.MaxChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			window := text[start:end]
			if cut := lastSentenceEnd(window); cut >= int(float64(c.config.MaxChunkSize)*c.config.BoundaryFraction) {
				end = start + cut + 1
			}
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(text) {
			break
		}

		// The cursor must move forward every iteration even when the
		// produced chunk is no longer than the overlap.
		advance := (end - start) - c.config.ChunkOverlap
		if advance < 1 {
			advance = 1
		}
		start += advance
	}

	return chunks
}

// lastSentenceEnd returns the byte offset of the last '.', '?' or '!' in
// window, or -1 if there is none.
func lastSentenceEnd(window string) int {
	return strings.LastIndexAny(window, ".?!")
}

// EstimateTokens approximates the token count of text as ceil(len/4).
// It is deterministic and monotonically non-decreasing in input length.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
