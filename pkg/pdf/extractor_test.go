package pdf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandirweb/rag/pkg/pdf"
)

func TestExtract_EmptyBuffer(t *testing.T) {
	ex := pdf.NewTextExtractor()

	_, err := ex.Extract(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pdf.ErrEmptyBuffer)

	_, err = ex.Extract(context.Background(), []byte{})
	assert.ErrorIs(t, err, pdf.ErrEmptyBuffer)
}

func TestExtract_NotAPDF(t *testing.T) {
	ex := pdf.NewTextExtractor()

	_, err := ex.Extract(context.Background(), []byte("plain text, not a PDF"))
	assert.Error(t, err)
}

func TestExtract_CancelledContext(t *testing.T) {
	ex := pdf.NewTextExtractor()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Extract(ctx, []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, context.Canceled)
}
