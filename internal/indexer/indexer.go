package indexer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/basonpark/ether-guru/internal/chunker"
	"github.com/basonpark/ether-guru/internal/storage"
	"github.com/basonpark/ether-guru/pkg/logger"
	"github.com/basonpark/ether-guru/pkg/types"
)

// DefaultBatchSize is the number of chunks sent to the sink per insert
const DefaultBatchSize = 50

// Indexer coordinates the ingestion pipeline: chunk -> batch -> store
type Indexer struct {
	chunker *chunker.Chunker
	sink    storage.Sink
	tracker storage.SourceTracker // nil when the sink does not track sources
	log     logger.Logger

	workers   int
	batchSize int
	force     bool
}

// Config contains configuration for the indexer
type Config struct {
	Workers   int  // Number of concurrent chunking workers (default: runtime.NumCPU())
	BatchSize int  // Number of chunks per sink insert (default: 50)
	Force     bool // Re-ingest pages whose stored hash is unchanged
}

// Statistics contains statistics about an ingestion run
type Statistics struct {
	PagesProcessed int // Pages chunked and handed to the writer
	PagesSkipped   int // Empty pages, or pages that yielded no chunks
	PagesUnchanged int // Pages whose stored hash matched
	PagesFailed    int // Pages whose previous chunks could not be replaced
	ChunksCreated  int
	ChunksInserted int
	BatchesFailed  int
	Duration       time.Duration
	ErrorMessages  []string
}

// pageChunks is the unit of work passed from chunking workers to the writer
type pageChunks struct {
	source string
	hash   [32]byte
	chunks []types.Chunk
}

// New creates a new Indexer. A nil config uses defaults.
func New(c *chunker.Chunker, sink storage.Sink, log logger.Logger, config *Config) *Indexer {
	if config == nil {
		config = &Config{}
	}

	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = logger.GetDefault()
	}

	tracker, _ := sink.(storage.SourceTracker)

	return &Indexer{
		chunker:   c,
		sink:      sink,
		tracker:   tracker,
		log:       log,
		workers:   workers,
		batchSize: batchSize,
		force:     config.Force,
	}
}

// IndexPages chunks every page received on pages and stores the chunks in
// batches. It returns when pages is closed and the last batch is written.
// Sink failures are logged and counted, never returned; only context
// cancellation aborts the run.
func (idx *Indexer) IndexPages(ctx context.Context, pages <-chan types.Page) (*Statistics, error) {
	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	var (
		processed, skipped, unchanged, failed, created atomic.Int32
		mu                                             sync.Mutex // Protects stats.ErrorMessages
	)
	recordError := func(msg string) {
		mu.Lock()
		stats.ErrorMessages = append(stats.ErrorMessages, msg)
		mu.Unlock()
	}

	work := make(chan pageChunks, idx.workers)
	w := &writer{
		sink:        idx.sink,
		tracker:     idx.tracker,
		log:         idx.log,
		batchSize:   idx.batchSize,
		pending:     make(map[string]*pendingSource),
		recordError: recordError,
	}

	g, gctx := errgroup.WithContext(ctx)

	var workers sync.WaitGroup
	for range idx.workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for {
				var page types.Page
				var ok bool
				select {
				case <-gctx.Done():
					return gctx.Err()
				case page, ok = <-pages:
					if !ok {
						return nil
					}
				}

				result, status := idx.chunkPage(gctx, page, recordError)
				switch status {
				case pageSkipped:
					skipped.Add(1)
					continue
				case pageUnchanged:
					unchanged.Add(1)
					continue
				case pageFailed:
					failed.Add(1)
					continue
				}

				processed.Add(1)
				created.Add(int32(len(result.chunks)))
				select {
				case work <- result:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	go func() {
		workers.Wait()
		close(work)
	}()

	g.Go(func() error {
		return w.run(gctx, work)
	})

	err := g.Wait()

	stats.PagesProcessed = int(processed.Load())
	stats.PagesSkipped = int(skipped.Load())
	stats.PagesUnchanged = int(unchanged.Load())
	stats.PagesFailed = int(failed.Load())
	stats.ChunksCreated = int(created.Load())
	stats.ChunksInserted = w.inserted
	stats.BatchesFailed = w.batchesFailed
	stats.Duration = time.Since(startTime)

	if err != nil {
		return stats, err
	}

	idx.log.Info("Ingestion complete",
		"pages", stats.PagesProcessed,
		"unchanged", stats.PagesUnchanged,
		"skipped", stats.PagesSkipped,
		"chunks", stats.ChunksCreated,
		"inserted", stats.ChunksInserted,
		"failed_batches", stats.BatchesFailed,
		"duration", stats.Duration)
	return stats, nil
}

type pageStatus int

const (
	pageReady pageStatus = iota
	pageSkipped
	pageUnchanged
	pageFailed
)

// chunkPage turns one page into chunks, consulting the source tracker for
// incremental re-ingestion
func (idx *Indexer) chunkPage(ctx context.Context, page types.Page, recordError func(string)) (pageChunks, pageStatus) {
	if page.IsEmpty() {
		idx.log.Warn("No content extracted for page", "url", page.SourceIdentifier)
		return pageChunks{}, pageSkipped
	}

	hash := sha256.Sum256([]byte(page.Text))

	if idx.tracker != nil {
		changed, err := idx.checkPageChanged(ctx, page.SourceIdentifier, hash)
		if err != nil {
			idx.log.Error("Failed to prepare page for re-ingestion", "url", page.SourceIdentifier, "error", err)
			recordError(fmt.Sprintf("%s: %v", page.SourceIdentifier, err))
			return pageChunks{}, pageFailed
		}
		if !changed {
			idx.log.Debug("Page unchanged", "url", page.SourceIdentifier)
			return pageChunks{}, pageUnchanged
		}
	}

	chunks := idx.chunker.ChunkPage(page)
	if len(chunks) == 0 {
		idx.log.Warn("Page produced no chunks", "url", page.SourceIdentifier)
		return pageChunks{}, pageSkipped
	}

	idx.log.Debug("Chunked page", "url", page.SourceIdentifier, "chars", len(page.Text), "chunks", len(chunks))
	return pageChunks{source: page.SourceIdentifier, hash: hash, chunks: chunks}, pageReady
}

// checkPageChanged reports whether the page needs ingesting. Stale chunks of
// a changed page are removed before the new ones are written.
func (idx *Indexer) checkPageChanged(ctx context.Context, source string, hash [32]byte) (bool, error) {
	stored, err := idx.tracker.SourceHash(ctx, source)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("failed to read stored hash: %w", err)
	case stored == hash && !idx.force:
		return false, nil
	}

	if err := idx.tracker.ResetSource(ctx, source); err != nil {
		return false, fmt.Errorf("failed to remove previous chunks: %w", err)
	}
	return true, nil
}
