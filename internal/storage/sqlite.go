package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basonpark/ether-guru/pkg/types"
)

// SQLiteStorage stores chunks in a local SQLite database with an FTS5 index
type SQLiteStorage struct {
	db *sql.DB
}

// Source is a page tracked by the SQLite store
type Source struct {
	ID            int64
	URL           string
	ContentHash   *[32]byte // Nil until all chunks of the page are stored
	ChunkCount    int
	LastIndexedAt time.Time
}

// Compile-time interface checks
var (
	_ Sink           = (*SQLiteStorage)(nil)
	_ SourceTracker  = (*SQLiteStorage)(nil)
	_ TextSearcher   = (*SQLiteStorage)(nil)
	_ StatusReporter = (*SQLiteStorage)(nil)
	_ SourceLister   = (*SQLiteStorage)(nil)
)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, committing only when fn succeeds
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Chunk operations

// InsertChunks stores a batch in one transaction.
// A chunk already stored at the same source and index is overwritten.
func (s *SQLiteStorage) InsertChunks(ctx context.Context, chunks []types.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.withTx(ctx, func(q querier) error {
		sourceIDs := make(map[string]int64)

		for i := range chunks {
			chunk := &chunks[i]
			if err := chunk.Validate(); err != nil {
				return fmt.Errorf("invalid chunk %d of %s: %w", chunk.Index, chunk.SourceIdentifier, err)
			}

			sourceID, ok := sourceIDs[chunk.SourceIdentifier]
			if !ok {
				id, err := s.ensureSourceWithQuerier(ctx, q, chunk.SourceIdentifier)
				if err != nil {
					return err
				}
				sourceID = id
				sourceIDs[chunk.SourceIdentifier] = id
			}

			if err := s.upsertChunkWithQuerier(ctx, q, sourceID, chunk); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// upsertChunkWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertChunkWithQuerier(ctx context.Context, q querier, sourceID int64, chunk *types.Chunk) error {
	metadata, err := json.Marshal(chunk.Metadata())
	if err != nil {
		return fmt.Errorf("failed to encode chunk metadata: %w", err)
	}

	query := `
		INSERT INTO chunks (source_id, chunk_index, content, content_hash, token_count, has_code, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, chunk_index) DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			token_count = excluded.token_count,
			has_code = excluded.has_code,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err = q.QueryRowContext(ctx, query,
		sourceID, chunk.Index, chunk.Content, chunk.ContentHash[:],
		chunk.TokenCount, chunk.HasCode, string(metadata), now, now,
	).Scan(&chunk.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

// GetChunk returns a stored chunk by ID
func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error) {
	query := `
		SELECT c.id, s.url, c.chunk_index, c.content, c.content_hash, c.token_count, c.has_code
		FROM chunks c
		JOIN sources s ON c.source_id = s.id
		WHERE c.id = ?
	`
	chunk, err := scanChunk(s.db.QueryRowContext(ctx, query, chunkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// ListChunksBySource returns the chunks of a page in document order
func (s *SQLiteStorage) ListChunksBySource(ctx context.Context, sourceURL string) ([]types.Chunk, error) {
	query := `
		SELECT c.id, s.url, c.chunk_index, c.content, c.content_hash, c.token_count, c.has_code
		FROM chunks c
		JOIN sources s ON c.source_id = s.id
		WHERE s.url = ?
		ORDER BY c.chunk_index
	`
	rows, err := s.db.QueryContext(ctx, query, sourceURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]types.Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	var chunk types.Chunk
	var hash []byte
	var tokenCount sql.NullInt64

	if err := row.Scan(&chunk.ID, &chunk.SourceIdentifier, &chunk.Index, &chunk.Content,
		&hash, &tokenCount, &chunk.HasCode); err != nil {
		return nil, err
	}
	copy(chunk.ContentHash[:], hash)
	chunk.TokenCount = int(tokenCount.Int64)
	return &chunk, nil
}

// Source operations

// ensureSourceWithQuerier returns the ID of the source row for url, creating it if needed
func (s *SQLiteStorage) ensureSourceWithQuerier(ctx context.Context, q querier, url string) (int64, error) {
	now := time.Now()
	if _, err := q.ExecContext(ctx,
		"INSERT INTO sources (url, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(url) DO NOTHING",
		url, now, now); err != nil {
		return 0, fmt.Errorf("failed to create source: %w", err)
	}

	var id int64
	if err := q.QueryRowContext(ctx, "SELECT id FROM sources WHERE url = ?", url).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up source: %w", err)
	}
	return id, nil
}

// SourceHash returns the recorded content hash of a fully stored page
func (s *SQLiteStorage) SourceHash(ctx context.Context, sourceURL string) ([32]byte, error) {
	var hash [32]byte
	var raw []byte

	err := s.db.QueryRowContext(ctx, "SELECT content_hash FROM sources WHERE url = ?", sourceURL).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return hash, ErrNotFound
	}
	if err != nil {
		return hash, err
	}
	if len(raw) != len(hash) {
		return hash, ErrNotFound
	}

	copy(hash[:], raw)
	return hash, nil
}

// ResetSource deletes the chunks of a page and clears its recorded hash
func (s *SQLiteStorage) ResetSource(ctx context.Context, sourceURL string) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx,
			"DELETE FROM chunks WHERE source_id IN (SELECT id FROM sources WHERE url = ?)", sourceURL); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			"UPDATE sources SET content_hash = NULL, updated_at = ? WHERE url = ?", time.Now(), sourceURL); err != nil {
			return fmt.Errorf("failed to reset source: %w", err)
		}
		return nil
	})
}

// MarkSource records the content hash of a page whose chunks are all stored
func (s *SQLiteStorage) MarkSource(ctx context.Context, sourceURL string, hash [32]byte) error {
	query := `
		INSERT INTO sources (url, content_hash, last_indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			content_hash = excluded.content_hash,
			last_indexed_at = excluded.last_indexed_at,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, sourceURL, hash[:], now, now, now); err != nil {
		return fmt.Errorf("failed to mark source: %w", err)
	}
	return nil
}

// ListSources returns every tracked page ordered by URL
func (s *SQLiteStorage) ListSources(ctx context.Context) ([]*Source, error) {
	query := `
		SELECT s.id, s.url, s.content_hash, s.last_indexed_at,
		       (SELECT COUNT(*) FROM chunks c WHERE c.source_id = s.id)
		FROM sources s
		ORDER BY s.url
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sources := make([]*Source, 0)
	for rows.Next() {
		var src Source
		var hash []byte
		var lastIndexedAt sql.NullTime

		if err := rows.Scan(&src.ID, &src.URL, &hash, &lastIndexedAt, &src.ChunkCount); err != nil {
			return nil, err
		}
		if len(hash) == 32 {
			var h [32]byte
			copy(h[:], hash)
			src.ContentHash = &h
		}
		if lastIndexedAt.Valid {
			src.LastIndexedAt = lastIndexedAt.Time
		}
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

// Status operations

// Status reports source and chunk counts and the database size
func (s *SQLiteStorage) Status(ctx context.Context) (*Status, error) {
	status := &Status{Driver: DriverSQLite}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM sources", &status.Sources},
		{"SELECT COUNT(*) FROM chunks", &status.Chunks},
		{"SELECT COUNT(*) FROM chunks WHERE has_code = 1", &status.CodeChunks},
		{"SELECT COUNT(*) FROM embeddings", &status.Embeddings},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	var lastIndexedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT last_indexed_at FROM sources
		WHERE last_indexed_at IS NOT NULL
		ORDER BY last_indexed_at DESC LIMIT 1
	`).Scan(&lastIndexedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if lastIndexedAt.Valid {
		status.LastIndexedAt = lastIndexedAt.Time
	}

	// Calculate database size
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			status.SizeBytes = pageCount * pageSize
		}
	}

	if v, err := SchemaVersion(ctx, s.db); err == nil {
		status.SchemaVersion = v.String()
	}

	return status, nil
}
