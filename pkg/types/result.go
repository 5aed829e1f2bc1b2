package types

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	// Identification
	Rank int // Position in result set (1-based)

	// Scoring
	RelevanceScore float64 // Backend score normalized to [0, 1]

	// Content
	Chunk Chunk
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.RelevanceScore < 0 || sr.RelevanceScore > 1 {
		return ErrInvalidRelevanceScore
	}

	if sr.Chunk.Content == "" {
		return ErrEmptyContent
	}

	if sr.Chunk.SourceIdentifier == "" {
		return ErrMissingSource
	}

	return nil
}
