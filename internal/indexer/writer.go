package indexer

import (
	"context"
	"fmt"

	"github.com/basonpark/ether-guru/internal/storage"
	"github.com/basonpark/ether-guru/pkg/logger"
	"github.com/basonpark/ether-guru/pkg/types"
)

// pendingSource tracks the chunks of one page that are not yet stored
type pendingSource struct {
	hash      [32]byte
	remaining int
	failed    bool
}

// writer is the single consumer that batches chunks into the sink.
// Only its own goroutine touches its fields until run returns.
type writer struct {
	sink        storage.Sink
	tracker     storage.SourceTracker
	log         logger.Logger
	batchSize   int
	recordError func(string)

	buffer  []types.Chunk
	pending map[string]*pendingSource

	inserted      int
	batchesFailed int
	batches       int
}

func (w *writer) run(ctx context.Context, work <-chan pageChunks) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pc, ok := <-work:
			if !ok {
				if len(w.buffer) > 0 {
					w.log.Debug("Inserting final batch", "chunks", len(w.buffer))
					w.flush(ctx, w.buffer)
					w.buffer = nil
				}
				return nil
			}

			w.pending[pc.source] = &pendingSource{hash: pc.hash, remaining: len(pc.chunks)}
			w.buffer = append(w.buffer, pc.chunks...)

			for len(w.buffer) >= w.batchSize {
				w.flush(ctx, w.buffer[:w.batchSize])
				w.buffer = w.buffer[w.batchSize:]
			}
		}
	}
}

// flush inserts one batch. A failed batch is logged and counted; the pages
// it touched are not marked as stored.
func (w *writer) flush(ctx context.Context, batch []types.Chunk) {
	w.batches++
	n, err := w.sink.InsertChunks(ctx, batch)

	complete := err == nil && n == len(batch)
	switch {
	case err != nil:
		w.batchesFailed++
		w.log.Error("Failed to insert batch", "batch", w.batches, "chunks", len(batch), "error", err)
		w.recordError(fmt.Sprintf("batch %d: %v", w.batches, err))
	case n == 0:
		w.batchesFailed++
		w.log.Error("Batch insert stored no chunks", "batch", w.batches, "chunks", len(batch))
		w.recordError(fmt.Sprintf("batch %d: no chunks inserted", w.batches))
	default:
		w.inserted += n
		w.log.Info("Inserted batch", "batch", w.batches, "inserted", n)
	}

	for i := range batch {
		w.settle(ctx, batch[i].SourceIdentifier, complete)
	}
}

// settle accounts for one written chunk and records the page hash once all
// of the page's chunks are stored
func (w *writer) settle(ctx context.Context, source string, stored bool) {
	p, ok := w.pending[source]
	if !ok {
		return
	}
	if !stored {
		p.failed = true
	}
	p.remaining--
	if p.remaining > 0 {
		return
	}
	delete(w.pending, source)

	if p.failed || w.tracker == nil {
		return
	}
	if err := w.tracker.MarkSource(ctx, source, p.hash); err != nil {
		w.log.Warn("Failed to record page hash", "url", source, "error", err)
		w.recordError(fmt.Sprintf("%s: %v", source, err))
	}
}
