package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/basonpark/ether-guru/pkg/types"
)

var _ VectorStore = (*SQLiteStorage)(nil)

// PendingEmbeddings pages through chunks that need a (new) embedding for model
func (s *SQLiteStorage) PendingEmbeddings(ctx context.Context, model string, afterID int64, limit int) ([]types.Chunk, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := `
		SELECT c.id, s.url, c.chunk_index, c.content, c.content_hash, c.token_count, c.has_code
		FROM chunks c
		JOIN sources s ON c.source_id = s.id
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.id > ?
		  AND (e.chunk_id IS NULL OR e.model != ? OR e.content_hash != c.content_hash)
		ORDER BY c.id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, afterID, model, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]types.Chunk, 0, limit)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}

// UpsertEmbeddings stores a batch of embeddings in one transaction
func (s *SQLiteStorage) UpsertEmbeddings(ctx context.Context, records []EmbeddingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO embeddings (chunk_id, content_hash, vector, dimension, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			vector = excluded.vector,
			dimension = excluded.dimension,
			model = excluded.model,
			created_at = excluded.created_at
	`

	stored := 0
	err := s.withTx(ctx, func(q querier) error {
		now := time.Now()
		for i := range records {
			rec := &records[i]
			if len(rec.Vector) == 0 {
				return fmt.Errorf("chunk %d: %w: empty vector", rec.ChunkID, ErrDimensionMismatch)
			}
			if _, err := q.ExecContext(ctx, query,
				rec.ChunkID, rec.ContentHash[:], serializeVector(rec.Vector), len(rec.Vector), rec.Model, now,
			); err != nil {
				return fmt.Errorf("failed to store embedding of chunk %d: %w", rec.ChunkID, err)
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

// SearchVector ranks stored embeddings by cosine similarity to the query.
// Similarity is computed in Go since SQLite has no vector type.
func (s *SQLiteStorage) SearchVector(ctx context.Context, query VectorQuery) ([]VectorResult, error) {
	if len(query.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrDimensionMismatch)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	sqlQuery := `
		SELECT c.id, e.vector
		FROM embeddings e
		JOIN chunks c ON e.chunk_id = c.id
		JOIN sources s ON c.source_id = s.id
		WHERE e.model = ? AND e.dimension = ?
	`
	args := []interface{}{query.Model, len(query.Vector)}
	sqlQuery, args = applyFilters(sqlQuery, args, query.Filters)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}

	candidates := make([]candidate, 0, 256)
	for rows.Next() {
		var chunkID int64
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			_ = rows.Close()
			return nil, err
		}

		similarity := cosineSimilarity(query.Vector, deserializeVector(blob))
		if similarity < query.MinSimilarity {
			continue
		}
		candidates = append(candidates, candidate{chunkID: chunkID, score: similarity})
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	// The connection pool holds a single connection, so rows are closed before hydrating
	results := make([]VectorResult, 0, len(candidates))
	for _, c := range candidates {
		chunk, err := s.GetChunk(ctx, c.chunkID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, VectorResult{Chunk: *chunk, Similarity: c.score})
	}
	return results, nil
}

// candidate represents a chunk with its similarity score
type candidate struct {
	chunkID int64
	score   float64
}

// sortCandidates orders by score descending, then chunk ID for stable ties
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// cosineSimilarity returns 0 for mismatched or zero vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
