package processor

import "errors"

var (
	// ErrInvalidDocument rejects ingestion of a document with no content.
	ErrInvalidDocument = errors.New("document has no content")

	// ErrEmptyExtraction rejects a PDF or HTML source that yielded no text.
	ErrEmptyExtraction = errors.New("no extractable text")

	// ErrMissingContent marks a batch entry that supplied neither text nor a
	// PDF buffer.
	ErrMissingContent = errors.New("batch entry has neither content nor PDF data")
)
