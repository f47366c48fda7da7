package processor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mandirweb/rag/internal/models"
)

// mainContentSelectors are tried in order before falling back to body text.
var mainContentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
}

// ProcessHTML extracts readable text from an HTML page and ingests it as a
// document. Script and style elements are discarded and whitespace is
// collapsed before chunking.
func (p *Processor) ProcessHTML(ctx context.Context, data []byte, title, source string, metadata map[string]interface{}) (*models.ProcessedDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer").Remove()

	var content string
	for _, selector := range mainContentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}

	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyExtraction, title)
	}

	merged := cloneMetadata(metadata)
	if pageTitle := strings.TrimSpace(doc.Find("title").Text()); pageTitle != "" {
		merged["html_title"] = pageTitle
	}

	return p.ProcessDocument(ctx, title, source, content, merged)
}
