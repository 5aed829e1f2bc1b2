package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/basonpark/ether-guru/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultPostgresTable receives chunks when no table is configured
	DefaultPostgresTable = "raw_chunks"
	// DefaultVectorTable receives embeddings when no vector table is configured
	DefaultVectorTable = "documents"
)

// pgxPool is the subset of *pgxpool.Pool the sink needs.
// pgxmock.PgxPoolIface satisfies it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresSink appends chunks to a Postgres (or Supabase) table shaped as
// (content, source_url, metadata jsonb). Embeddings live in a second table
// created on first use, which needs the pgvector extension.
type PostgresSink struct {
	pool        pgxPool
	table       string // Quoted identifier
	vectorTable string // Quoted identifier

	vectorMu    sync.Mutex
	vectorReady bool
}

var (
	_ Sink           = (*PostgresSink)(nil)
	_ StatusReporter = (*PostgresSink)(nil)
	_ VectorStore    = (*PostgresSink)(nil)
)

// NewPostgresSink connects to dsn and creates table if it is missing
func NewPostgresSink(ctx context.Context, dsn, table, vectorTable string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	config.MaxConns = 4
	config.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	sink, err := newPostgresSinkWithPool(ctx, pool, table, vectorTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

func newPostgresSinkWithPool(ctx context.Context, pool pgxPool, table, vectorTable string) (*PostgresSink, error) {
	if table == "" {
		table = DefaultPostgresTable
	}
	if vectorTable == "" {
		vectorTable = DefaultVectorTable
	}

	s := &PostgresSink{
		pool:        pool,
		table:       pgx.Identifier{table}.Sanitize(),
		vectorTable: pgx.Identifier{vectorTable}.Sanitize(),
	}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			source_url TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// InsertChunks appends the batch with a single multi-row INSERT.
// The reported count is the number of rows the statement affected.
func (s *PostgresSink) InsertChunks(ctx context.Context, chunks []types.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	query, args, err := s.buildInsert(chunks)
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresSink) buildInsert(chunks []types.Chunk) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (content, source_url, metadata) VALUES ", s.table)

	args := make([]any, 0, len(chunks)*3)
	for i := range chunks {
		metadata, err := json.Marshal(chunks[i].Metadata())
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode chunk metadata: %w", err)
		}

		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d::jsonb)", n+1, n+2, n+3)
		args = append(args, chunks[i].Content, chunks[i].SourceIdentifier, string(metadata))
	}

	return b.String(), args, nil
}

// Status reports the row counts of the chunk table
func (s *PostgresSink) Status(ctx context.Context) (*Status, error) {
	status := &Status{Driver: DriverPostgres}

	query := fmt.Sprintf(`
		SELECT COUNT(*),
		       COUNT(DISTINCT source_url),
		       COUNT(*) FILTER (WHERE (metadata->>'has_code')::boolean)
		FROM %s`, s.table)

	var chunks, sources, code int64
	if err := s.pool.QueryRow(ctx, query).Scan(&chunks, &sources, &code); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	status.Chunks = int(chunks)
	status.Sources = int(sources)
	status.CodeChunks = int(code)

	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", s.vectorTable).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", s.vectorTable, err)
	}
	if exists {
		var embeddings int64
		if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.vectorTable)).Scan(&embeddings); err != nil {
			return nil, fmt.Errorf("failed to count embeddings: %w", err)
		}
		status.Embeddings = int(embeddings)
	}
	return status, nil
}

// Close releases the connection pool
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
