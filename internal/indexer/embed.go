package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/basonpark/ether-guru/internal/embedder"
	"github.com/basonpark/ether-guru/internal/storage"
	"github.com/basonpark/ether-guru/pkg/logger"
)

// DefaultUpsertBatchSize is the number of embeddings written per store call
const DefaultUpsertBatchSize = 100

// EmbedConfig sizes the embedding stage
type EmbedConfig struct {
	BatchSize       int // Texts per embedding request (default: 50)
	UpsertBatchSize int // Embeddings per store write (default: 100)
}

// EmbedStatistics contains statistics about an embedding run
type EmbedStatistics struct {
	ChunksPending    int // Chunks that lacked a current embedding
	ChunksEmbedded   int
	EmbeddingsStored int
	BatchesFailed    int // Embedding requests that failed and were skipped
	Model            string
	Duration         time.Duration
	ErrorMessages    []string
}

// Embed embeds every stored chunk that has no embedding for the embedder's
// model yet. A failed embedding request is logged and its chunks are skipped
// until the next run. A failed store write aborts the run, since every
// later batch would hit the same store.
func Embed(ctx context.Context, store storage.VectorStore, emb embedder.Embedder, log logger.Logger, config *EmbedConfig) (*EmbedStatistics, error) {
	if config == nil {
		config = &EmbedConfig{}
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = embedder.DefaultBatchSize
	}
	if batchSize > embedder.MaxBatchSize {
		batchSize = embedder.MaxBatchSize
	}
	upsertSize := config.UpsertBatchSize
	if upsertSize <= 0 {
		upsertSize = DefaultUpsertBatchSize
	}
	if log == nil {
		log = logger.GetDefault()
	}

	startTime := time.Now()
	model := emb.Model()
	stats := &EmbedStatistics{Model: model, ErrorMessages: make([]string, 0)}

	pending := make([]storage.EmbeddingRecord, 0, upsertSize)
	flush := func(n int) error {
		stored, err := store.UpsertEmbeddings(ctx, pending[:n])
		if err != nil {
			return fmt.Errorf("failed to store embeddings: %w", err)
		}
		stats.EmbeddingsStored += stored
		pending = append(pending[:0], pending[n:]...)
		return nil
	}

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(startTime)
			return stats, err
		}

		chunks, err := store.PendingEmbeddings(ctx, model, afterID, batchSize)
		if err != nil {
			stats.Duration = time.Since(startTime)
			return stats, fmt.Errorf("failed to list chunks to embed: %w", err)
		}
		if len(chunks) == 0 {
			break
		}
		afterID = chunks[len(chunks)-1].ID
		stats.ChunksPending += len(chunks)

		texts := make([]string, len(chunks))
		for i := range chunks {
			texts[i] = chunks[i].Content
		}

		resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			if ctx.Err() != nil {
				stats.Duration = time.Since(startTime)
				return stats, ctx.Err()
			}
			log.Error("Failed to embed batch, skipping",
				"first_chunk", chunks[0].ID, "chunks", len(chunks), "error", err)
			stats.BatchesFailed++
			stats.ErrorMessages = append(stats.ErrorMessages,
				fmt.Sprintf("chunks %d-%d: %v", chunks[0].ID, afterID, err))
			continue
		}

		for i := range chunks {
			pending = append(pending, storage.EmbeddingRecord{
				ChunkID:     chunks[i].ID,
				ContentHash: chunks[i].ContentHash,
				Content:     chunks[i].Content,
				Vector:      resp.Embeddings[i].Vector,
				Model:       model,
			})
		}
		stats.ChunksEmbedded += len(chunks)
		log.Debug("Embedded batch", "first_chunk", chunks[0].ID, "chunks", len(chunks))

		for len(pending) >= upsertSize {
			if err := flush(upsertSize); err != nil {
				stats.Duration = time.Since(startTime)
				return stats, err
			}
		}
	}

	if len(pending) > 0 {
		if err := flush(len(pending)); err != nil {
			stats.Duration = time.Since(startTime)
			return stats, err
		}
	}

	stats.Duration = time.Since(startTime)
	log.Info("Embedding complete",
		"model", model,
		"pending", stats.ChunksPending,
		"embedded", stats.ChunksEmbedded,
		"stored", stats.EmbeddingsStored,
		"failed_batches", stats.BatchesFailed,
		"duration", stats.Duration)
	return stats, nil
}
