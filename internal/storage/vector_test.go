package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basonpark/ether-guru/pkg/types"
)

const testModel = "test-embeddings"

func seedVectors(t *testing.T, storage *SQLiteStorage) []types.Chunk {
	t.Helper()
	ctx := context.Background()

	batch := []types.Chunk{
		makeChunk(typesURL, 0, "Integers come in signed and unsigned variants."),
		makeChunk(typesURL, 1, "```solidity\nuint8 x;\n```"),
		makeChunk(contractsURL, 0, "Modifiers change the behaviour of functions."),
	}
	_, err := storage.InsertChunks(ctx, batch)
	require.NoError(t, err)

	vectors := [][]float32{{1, 0, 0}, {0.8, 0.6, 0}, {0, 0, 1}}
	records := make([]EmbeddingRecord, len(batch))
	for i := range batch {
		records[i] = EmbeddingRecord{
			ChunkID:     batch[i].ID,
			ContentHash: batch[i].ContentHash,
			Content:     batch[i].Content,
			Vector:      vectors[i],
			Model:       testModel,
		}
	}
	n, err := storage.UpsertEmbeddings(ctx, records)
	require.NoError(t, err)
	require.Equal(t, len(records), n)
	return batch
}

func TestPendingEmbeddings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	batch := []types.Chunk{
		makeChunk(typesURL, 0, "first"),
		makeChunk(typesURL, 1, "second"),
		makeChunk(typesURL, 2, "third"),
	}
	_, err := storage.InsertChunks(ctx, batch)
	require.NoError(t, err)

	pending, err := storage.PendingEmbeddings(ctx, testModel, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "first", pending[0].Content)
	assert.Equal(t, typesURL, pending[0].SourceIdentifier)

	t.Run("Should page by chunk ID", func(t *testing.T) {
		page, err := storage.PendingEmbeddings(ctx, testModel, pending[0].ID, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "second", page[0].Content)
	})

	_, err = storage.UpsertEmbeddings(ctx, []EmbeddingRecord{
		{ChunkID: pending[0].ID, ContentHash: pending[0].ContentHash, Vector: []float32{1, 0}, Model: testModel},
		{ChunkID: pending[1].ID, ContentHash: pending[1].ContentHash, Vector: []float32{0, 1}, Model: testModel},
	})
	require.NoError(t, err)

	t.Run("Should skip embedded chunks", func(t *testing.T) {
		left, err := storage.PendingEmbeddings(ctx, testModel, 0, 10)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "third", left[0].Content)
	})

	t.Run("Should return chunks embedded by another model", func(t *testing.T) {
		other, err := storage.PendingEmbeddings(ctx, "other-model", 0, 10)
		require.NoError(t, err)
		assert.Len(t, other, 3)
	})

	t.Run("Should return chunks whose content changed", func(t *testing.T) {
		_, err := storage.InsertChunks(ctx, []types.Chunk{makeChunk(typesURL, 0, "first, revised")})
		require.NoError(t, err)

		left, err := storage.PendingEmbeddings(ctx, testModel, 0, 10)
		require.NoError(t, err)
		require.Len(t, left, 2)
		assert.Equal(t, "first, revised", left[0].Content)
	})
}

func TestUpsertEmbeddings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	batch := seedVectors(t, storage)

	t.Run("Should replace an existing embedding", func(t *testing.T) {
		n, err := storage.UpsertEmbeddings(ctx, []EmbeddingRecord{
			{ChunkID: batch[2].ID, ContentHash: batch[2].ContentHash, Vector: []float32{1, 0, 0}, Model: testModel},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		status, err := storage.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, status.Embeddings)
	})

	t.Run("Should reject unknown chunks", func(t *testing.T) {
		n, err := storage.UpsertEmbeddings(ctx, []EmbeddingRecord{
			{ChunkID: 9999, Vector: []float32{1}, Model: testModel},
		})
		assert.Error(t, err)
		assert.Zero(t, n)
	})

	t.Run("Should reject empty vectors", func(t *testing.T) {
		_, err := storage.UpsertEmbeddings(ctx, []EmbeddingRecord{{ChunkID: batch[0].ID, Model: testModel}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("Should drop embeddings with their chunks", func(t *testing.T) {
		require.NoError(t, storage.ResetSource(ctx, typesURL))

		status, err := storage.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, status.Embeddings)
	})
}

func TestSearchVector(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedVectors(t, storage)

	tests := []struct {
		name     string
		query    VectorQuery
		expected []string
	}{
		{
			name:     "ranks by similarity above the threshold",
			query:    VectorQuery{Vector: []float32{1, 0, 0}, Model: testModel, Limit: 5, MinSimilarity: 0.5},
			expected: []string{typesURL + "#0", typesURL + "#1"},
		},
		{
			name:     "applies the limit",
			query:    VectorQuery{Vector: []float32{1, 0, 0}, Model: testModel, Limit: 1},
			expected: []string{typesURL + "#0"},
		},
		{
			name: "applies filters",
			query: VectorQuery{Vector: []float32{1, 0, 0}, Model: testModel, Limit: 5,
				Filters: &SearchFilters{CodeOnly: true}},
			expected: []string{typesURL + "#1"},
		},
		{
			name: "filters by source prefix",
			query: VectorQuery{Vector: []float32{1, 0, 0}, Model: testModel, Limit: 5,
				Filters: &SearchFilters{SourcePrefix: contractsURL}},
			expected: []string{contractsURL + "#0"},
		},
		{
			name:     "ignores other models",
			query:    VectorQuery{Vector: []float32{1, 0, 0}, Model: "other-model", Limit: 5},
			expected: []string{},
		},
		{
			name:     "ignores other dimensions",
			query:    VectorQuery{Vector: []float32{1, 0}, Model: testModel, Limit: 5},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := storage.SearchVector(ctx, tt.query)
			require.NoError(t, err)

			got := make([]string, 0, len(results))
			for _, r := range results {
				got = append(got, r.Chunk.SourceIdentifier+"#"+string(rune('0'+r.Chunk.Index)))
				assert.GreaterOrEqual(t, r.Similarity, tt.query.MinSimilarity)
			}
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("Should reject an empty query vector", func(t *testing.T) {
		_, err := storage.SearchVector(ctx, VectorQuery{Model: testModel})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("Should hydrate chunk content", func(t *testing.T) {
		results, err := storage.SearchVector(ctx, VectorQuery{Vector: []float32{0, 0, 1}, Model: testModel, Limit: 1})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Modifiers change the behaviour of functions.", results[0].Chunk.Content)
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	})
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	assert.Equal(t, v, deserializeVector(serializeVector(v)))

	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 0}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
