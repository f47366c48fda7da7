package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// ErrEmptyBuffer is returned when Extract is handed no bytes at all.
var ErrEmptyBuffer = errors.New("empty PDF buffer")

// Info carries the standard document information fields, when present.
type Info struct {
	Title   string
	Author  string
	Subject string
	Creator string
}

// Extraction is the text content pulled out of one PDF.
type Extraction struct {
	Text      string
	PageCount int
	Info      Info
}

// Extractor converts binary PDF data into plain text. It is consumed as an
// interface so ingestion can be tested without real PDF parsing.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Extraction, error)
}

// TextExtractor extracts plain text using the ledongthuc/pdf reader.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (*TextExtractor) Extract(ctx context.Context, data []byte) (Extraction, error) {
	if len(data) == 0 {
		return Extraction{}, ErrEmptyBuffer
	}
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to open PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to extract PDF text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return Extraction{}, fmt.Errorf("failed to read PDF text: %w", err)
	}

	extraction := Extraction{
		Text:      buf.String(),
		PageCount: reader.NumPage(),
	}

	info := reader.Trailer().Key("Info")
	if !info.IsNull() {
		extraction.Info = Info{
			Title:   infoString(info, "Title"),
			Author:  infoString(info, "Author"),
			Subject: infoString(info, "Subject"),
			Creator: infoString(info, "Creator"),
		}
	}

	return extraction, nil
}

func infoString(info pdf.Value, key string) string {
	field := info.Key(key)
	if field.IsNull() {
		return ""
	}
	return field.Text()
}
