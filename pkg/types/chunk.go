package types

import (
	"crypto/sha256"
	"strings"
	"unicode/utf8"
)

// Chunk is a bounded-size, retrieval-ready section of a page
type Chunk struct {
	// Identification
	ID               int64  // Assigned by storage; zero until persisted
	SourceIdentifier string // Page the chunk was cut from
	Index            int    // Position within the source, 0-based

	// Content
	Content     string
	ContentHash [32]byte // SHA-256 hash for deduplication
	TokenCount  int

	// Metadata
	HasCode bool // Content contains at least one fenced code block
}

// ChunkMetadata is the JSON metadata stored alongside a chunk
type ChunkMetadata struct {
	OriginalURL string `json:"original_url"`
	HasCode     bool   `json:"has_code"`
}

// Metadata returns the stored metadata for the chunk
func (c *Chunk) Metadata() ChunkMetadata {
	return ChunkMetadata{
		OriginalURL: c.SourceIdentifier,
		HasCode:     c.HasCode,
	}
}

// Length returns the chunk size in characters
func (c *Chunk) Length() int {
	return utf8.RuneCountInString(c.Content)
}

// ComputeTokenCount estimates the number of tokens in the chunk
// Uses a simple heuristic: characters / 4
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = c.Length() / 4
	return c.TokenCount
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyContent
	}

	if c.SourceIdentifier == "" {
		return ErrMissingSource
	}

	if c.Index < 0 {
		return ErrInvalidIndex
	}

	// Verify content hash is computed
	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return ErrMissingHash
	}

	return nil
}
