package types

import "errors"

// Domain errors for type validation
var (
	// Chunk and page errors
	ErrEmptyContent  = errors.New("content cannot be empty")
	ErrMissingSource = errors.New("source identifier is required")
	ErrMissingHash   = errors.New("content hash must be computed")
	ErrInvalidIndex  = errors.New("chunk index must be >= 0")

	// Search result errors
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
)
