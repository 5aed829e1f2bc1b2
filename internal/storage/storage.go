package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basonpark/ether-guru/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrEmptyQuery is returned when a search query has no searchable terms
	ErrEmptyQuery = errors.New("empty search query")
	// ErrUnknownDriver is returned by Open for an unsupported driver name
	ErrUnknownDriver = errors.New("unknown storage driver")
	// ErrDimensionMismatch is returned when a vector does not match the stored dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// DefaultSearchLimit applies when a search passes a non-positive limit
const DefaultSearchLimit = 10

// Driver names accepted by Open
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBleve    = "bleve"
)

// Sink persists batches of chunks.
// InsertChunks reports how many chunks of the batch were stored; a failed batch reports zero.
type Sink interface {
	InsertChunks(ctx context.Context, chunks []types.Chunk) (int, error)
	Close() error
}

// SourceTracker is implemented by sinks that remember which page content they hold,
// enabling incremental re-ingestion
type SourceTracker interface {
	// SourceHash returns the hash recorded for a fully stored page, or ErrNotFound
	SourceHash(ctx context.Context, sourceURL string) ([32]byte, error)

	// ResetSource removes the stored chunks and hash of a page
	ResetSource(ctx context.Context, sourceURL string) error

	// MarkSource records the hash of a page whose chunks are all stored
	MarkSource(ctx context.Context, sourceURL string, hash [32]byte) error
}

// TextSearcher is implemented by sinks that support keyword search
type TextSearcher interface {
	SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error)
}

// VectorStore is implemented by sinks that keep an embedding per stored chunk
type VectorStore interface {
	// PendingEmbeddings returns up to limit chunks with ID above afterID, in ID order,
	// that have no embedding for model or whose content changed since it was embedded
	PendingEmbeddings(ctx context.Context, model string, afterID int64, limit int) ([]types.Chunk, error)

	// UpsertEmbeddings stores the batch, replacing any earlier embedding of each chunk
	UpsertEmbeddings(ctx context.Context, records []EmbeddingRecord) (int, error)

	// SearchVector returns the chunks most similar to the query vector
	SearchVector(ctx context.Context, query VectorQuery) ([]VectorResult, error)
}

// SourceLister is implemented by sinks that can list the pages they hold
type SourceLister interface {
	ListSources(ctx context.Context) ([]*Source, error)
}

// StatusReporter is implemented by sinks that can describe their contents
type StatusReporter interface {
	Status(ctx context.Context) (*Status, error)
}

// SearchFilters narrows keyword search results
type SearchFilters struct {
	SourcePrefix string // Only chunks whose source URL starts with this prefix
	CodeOnly     bool   // Only chunks containing fenced code
}

// TextResult is a keyword search hit.
// Score is backend specific; higher is better.
type TextResult struct {
	Chunk types.Chunk
	Score float64
}

// EmbeddingRecord is the embedding of one stored chunk
type EmbeddingRecord struct {
	ChunkID     int64
	ContentHash [32]byte // Hash of the content the vector was computed from
	Content     string
	Vector      []float32
	Model       string
}

// VectorQuery is a similarity search request.
// Only embeddings produced by Model are compared.
type VectorQuery struct {
	Vector        []float32
	Model         string
	Limit         int
	MinSimilarity float64 // Cosine similarity threshold; results below it are dropped
	Filters       *SearchFilters
}

// VectorResult is a similarity search hit
type VectorResult struct {
	Chunk      types.Chunk
	Similarity float64 // Cosine similarity in [-1, 1]
}

// Status describes the contents of a sink
type Status struct {
	Driver        string
	Sources       int
	Chunks        int
	CodeChunks    int
	Embeddings    int
	SizeBytes     int64
	SchemaVersion string
	LastIndexedAt time.Time
}

// Options configures Open
type Options struct {
	Driver string
	Path   string // SQLite database file or bleve index directory
	DSN    string // Postgres connection string
	Table  string // Postgres table name
	// VectorTable is the Postgres table holding embeddings
	VectorTable string
}

// Open creates the sink selected by opts.Driver
func Open(ctx context.Context, opts Options) (Sink, error) {
	var (
		sink Sink
		err  error
	)

	switch opts.Driver {
	case DriverSQLite, "":
		sink, err = NewSQLiteStorage(opts.Path)
	case DriverPostgres:
		sink, err = NewPostgresSink(ctx, opts.DSN, opts.Table, opts.VectorTable)
	case DriverBleve:
		sink, err = NewBleveSink(opts.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open %s sink: %w", opts.Driver, err)
	}
	return sink, nil
}
