package types

import (
	"crypto/sha256"
	"strings"
)

// Page is a crawled document normalized to its source identifier and decoded text.
// It is the only shape the chunking core sees from upstream.
type Page struct {
	SourceIdentifier string // Usually the page URL
	Text             string // Markdown-like text, already decoded
}

// IsEmpty returns true when the page carries no usable text
func (p Page) IsEmpty() bool {
	return strings.TrimSpace(p.Text) == ""
}

// ContentHash returns the SHA-256 of the page text, used for incremental re-ingestion
func (p Page) ContentHash() [32]byte {
	return sha256.Sum256([]byte(p.Text))
}

// Validate checks that the page can be chunked
func (p Page) Validate() error {
	if p.SourceIdentifier == "" {
		return ErrMissingSource
	}
	return nil
}
