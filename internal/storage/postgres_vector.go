package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/basonpark/ether-guru/pkg/types"
)

// ensureVectorSchema enables pgvector and creates the embedding table the
// first time a vector operation runs. Deployments that never embed do not
// need the extension installed.
func (s *PostgresSink) ensureVectorSchema(ctx context.Context) error {
	s.vectorMu.Lock()
	defer s.vectorMu.Unlock()
	if s.vectorReady {
		return nil
	}

	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: enable extension: %w", err)
	}
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			raw_chunk_id BIGINT PRIMARY KEY REFERENCES %s(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			content_hash BYTEA NOT NULL,
			embedding vector NOT NULL,
			model TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.vectorTable, s.table)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table %s: %w", s.vectorTable, err)
	}

	s.vectorReady = true
	return nil
}

// PendingEmbeddings pages through raw chunks without a current embedding for model
func (s *PostgresSink) PendingEmbeddings(ctx context.Context, model string, afterID int64, limit int) ([]types.Chunk, error) {
	if err := s.ensureVectorSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := fmt.Sprintf(`
		SELECT r.id, r.content, r.source_url, r.metadata
		FROM %s r
		LEFT JOIN %s d ON d.raw_chunk_id = r.id
		WHERE r.id > $1
		  AND (d.raw_chunk_id IS NULL OR d.model <> $2 OR d.content_hash <> sha256(convert_to(r.content, 'UTF8')))
		ORDER BY r.id
		LIMIT $3`, s.table, s.vectorTable)

	rows, err := s.pool.Query(ctx, query, afterID, model, limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: list pending: %w", err)
	}
	defer rows.Close()

	chunks := make([]types.Chunk, 0, limit)
	for rows.Next() {
		chunk, err := scanRawChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: pending rows: %w", err)
	}
	return chunks, nil
}

// UpsertEmbeddings writes the batch with a single multi-row INSERT ... ON CONFLICT
func (s *PostgresSink) UpsertEmbeddings(ctx context.Context, records []EmbeddingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.ensureVectorSchema(ctx); err != nil {
		return 0, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (raw_chunk_id, content, content_hash, embedding, model, updated_at) VALUES ", s.vectorTable)

	now := time.Now().UTC()
	args := make([]any, 0, len(records)*6)
	for i := range records {
		rec := &records[i]
		if len(rec.Vector) == 0 {
			return 0, fmt.Errorf("chunk %d: %w: empty vector", rec.ChunkID, ErrDimensionMismatch)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, rec.ChunkID, rec.Content, rec.ContentHash[:], pgvector.NewVector(rec.Vector), rec.Model, now)
	}
	b.WriteString(` ON CONFLICT (raw_chunk_id) DO UPDATE SET
		content = excluded.content,
		content_hash = excluded.content_hash,
		embedding = excluded.embedding,
		model = excluded.model,
		updated_at = excluded.updated_at`)

	tag, err := s.pool.Exec(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("pgvector: upsert: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SearchVector ranks embeddings by cosine similarity using the <=> operator
func (s *PostgresSink) SearchVector(ctx context.Context, query VectorQuery) ([]VectorResult, error) {
	if len(query.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrDimensionMismatch)
	}
	if err := s.ensureVectorSchema(ctx); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT r.id, r.content, r.source_url, r.metadata, 1 - (d.embedding <=> $1) AS similarity
		FROM %s d
		JOIN %s r ON r.id = d.raw_chunk_id
		WHERE d.model = $2 AND vector_dims(d.embedding) = $3 AND 1 - (d.embedding <=> $1) >= $4`,
		s.vectorTable, s.table)
	args := []any{pgvector.NewVector(query.Vector), query.Model, len(query.Vector), query.MinSimilarity}

	if f := query.Filters; f != nil {
		if f.SourcePrefix != "" {
			args = append(args, f.SourcePrefix)
			fmt.Fprintf(&b, " AND left(r.source_url, length($%d)) = $%d", len(args), len(args))
		}
		if f.CodeOnly {
			b.WriteString(" AND (r.metadata->>'has_code')::boolean")
		}
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY d.embedding <=> $1, r.id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var (
			id          int64
			content     string
			sourceURL   string
			metadataRaw []byte
			similarity  float64
		)
		if err := rows.Scan(&id, &content, &sourceURL, &metadataRaw, &similarity); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		chunk, err := newRawChunk(id, content, sourceURL, metadataRaw)
		if err != nil {
			return nil, err
		}
		results = append(results, VectorResult{Chunk: *chunk, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return results, nil
}

func scanRawChunk(rows pgx.Rows) (*types.Chunk, error) {
	var (
		id          int64
		content     string
		sourceURL   string
		metadataRaw []byte
	)
	if err := rows.Scan(&id, &content, &sourceURL, &metadataRaw); err != nil {
		return nil, fmt.Errorf("pgvector: scan: %w", err)
	}
	return newRawChunk(id, content, sourceURL, metadataRaw)
}

// newRawChunk rebuilds a chunk from a raw_chunks row. The table does not
// keep the chunk index, so Index stays zero.
func newRawChunk(id int64, content, sourceURL string, metadataRaw []byte) (*types.Chunk, error) {
	var meta types.ChunkMetadata
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &meta); err != nil {
			return nil, fmt.Errorf("pgvector: decode metadata of chunk %d: %w", id, err)
		}
	}

	chunk := &types.Chunk{
		ID:               id,
		SourceIdentifier: sourceURL,
		Content:          content,
		HasCode:          meta.HasCode,
	}
	chunk.ComputeContentHash()
	chunk.ComputeTokenCount()
	return chunk, nil
}
