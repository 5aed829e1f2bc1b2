package storage

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/basonpark/ether-guru/pkg/types"
)

// SearchText runs a BM25-ranked full-text query over stored chunks
func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	match := buildFTSQuery(query)
	if match == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	sqlQuery := `
		SELECT c.id, s.url, c.chunk_index, c.content, c.content_hash, c.token_count, c.has_code,
		       bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON chunks_fts.rowid = c.id
		JOIN sources s ON c.source_id = s.id
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{match}

	sqlQuery, args = applyFilters(sqlQuery, args, filters)

	// BM25 is lower-is-better in FTS5
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0, limit)
	for rows.Next() {
		var chunk types.Chunk
		var hash []byte
		var tokenCount int
		var bm25 float64

		if err := rows.Scan(&chunk.ID, &chunk.SourceIdentifier, &chunk.Index, &chunk.Content,
			&hash, &tokenCount, &chunk.HasCode, &bm25); err != nil {
			return nil, err
		}
		copy(chunk.ContentHash[:], hash)
		chunk.TokenCount = tokenCount

		results = append(results, TextResult{Chunk: chunk, Score: -bm25})
	}
	return results, rows.Err()
}

// applyFilters adds WHERE clause filters shared by text and vector search
func applyFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if filters.SourcePrefix != "" {
		query += " AND substr(s.url, 1, length(?)) = ?"
		args = append(args, filters.SourcePrefix, filters.SourcePrefix)
	}

	if filters.CodeOnly {
		query += " AND c.has_code = 1"
	}

	return query, args
}

// buildFTSQuery turns free text into an FTS5 expression.
// Each term is quoted so FTS5 operators and punctuation are matched literally,
// and terms are OR-ed so BM25 ranks partial matches instead of dropping them.
func buildFTSQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if len(terms) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " OR ")
}
