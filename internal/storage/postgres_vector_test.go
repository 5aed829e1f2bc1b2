package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectVectorSchema(mockPool pgxmock.PgxPoolIface) {
	mockPool.ExpectExec(`CREATE EXTENSION IF NOT EXISTS vector`).
		WillReturnResult(pgxmock.NewResult("CREATE EXTENSION", 0))
	mockPool.ExpectExec(`CREATE TABLE IF NOT EXISTS "documents"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
}

func TestPostgresSink_PendingEmbeddings(t *testing.T) {
	sink, mockPool := newMockPostgresSink(t)
	defer mockPool.Close()
	ctx := context.Background()

	expectVectorSchema(mockPool)
	mockPool.ExpectQuery(`FROM "raw_chunks" r\s+LEFT JOIN "documents" d ON d.raw_chunk_id = r.id`).
		WithArgs(int64(0), testModel, 10).
		WillReturnRows(mockPool.NewRows([]string{"id", "content", "source_url", "metadata"}).
			AddRow(int64(4), "```uint8 x;```", typesURL, []byte(`{"original_url":"`+typesURL+`","has_code":true}`)))

	pending, err := sink.PendingEmbeddings(ctx, testModel, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(4), pending[0].ID)
	assert.Equal(t, typesURL, pending[0].SourceIdentifier)
	assert.True(t, pending[0].HasCode)
	assert.NotZero(t, pending[0].ContentHash)

	t.Run("Should create the schema once", func(t *testing.T) {
		mockPool.ExpectQuery(`LEFT JOIN "documents"`).
			WithArgs(int64(4), testModel, 10).
			WillReturnRows(mockPool.NewRows([]string{"id", "content", "source_url", "metadata"}))

		pending, err := sink.PendingEmbeddings(ctx, testModel, 4, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresSink_VectorSchemaFailure(t *testing.T) {
	sink, mockPool := newMockPostgresSink(t)
	defer mockPool.Close()

	mockPool.ExpectExec(`CREATE EXTENSION`).WillReturnError(errors.New("extension \"vector\" is not available"))

	_, err := sink.PendingEmbeddings(context.Background(), testModel, 0, 10)
	assert.Error(t, err)
	assert.False(t, sink.vectorReady)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresSink_UpsertEmbeddings(t *testing.T) {
	sink, mockPool := newMockPostgresSink(t)
	defer mockPool.Close()
	ctx := context.Background()

	records := []EmbeddingRecord{
		{ChunkID: 1, Content: "a", Vector: []float32{1, 0}, Model: testModel},
		{ChunkID: 2, Content: "b", Vector: []float32{0, 1}, Model: testModel},
	}

	expectVectorSchema(mockPool)
	mockPool.ExpectExec(`INSERT INTO "documents" \(raw_chunk_id, content, content_hash, embedding, model, updated_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\), \(\$7, .*ON CONFLICT \(raw_chunk_id\) DO UPDATE`).
		WithArgs(
			int64(1), "a", pgxmock.AnyArg(), pgxmock.AnyArg(), testModel, pgxmock.AnyArg(),
			int64(2), "b", pgxmock.AnyArg(), pgxmock.AnyArg(), testModel, pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := sink.UpsertEmbeddings(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	t.Run("Should reject empty vectors", func(t *testing.T) {
		_, err := sink.UpsertEmbeddings(ctx, []EmbeddingRecord{{ChunkID: 3, Model: testModel}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("Should report zero on failure", func(t *testing.T) {
		mockPool.ExpectExec(`INSERT INTO "documents"`).WillReturnError(errors.New("connection reset"))
		n, err := sink.UpsertEmbeddings(ctx, records[:1])
		assert.Error(t, err)
		assert.Zero(t, n)
	})

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresSink_SearchVector(t *testing.T) {
	sink, mockPool := newMockPostgresSink(t)
	defer mockPool.Close()

	expectVectorSchema(mockPool)
	mockPool.ExpectQuery(`1 - \(d.embedding <=> \$1\) AS similarity.*vector_dims\(d.embedding\) = \$3.*left\(r.source_url, length\(\$5\)\) = \$5.*has_code.*ORDER BY d.embedding <=> \$1, r.id LIMIT \$6`).
		WithArgs(pgxmock.AnyArg(), testModel, 2, 0.78, typesURL, 5).
		WillReturnRows(mockPool.NewRows([]string{"id", "content", "source_url", "metadata", "similarity"}).
			AddRow(int64(9), "```uint8 x;```", typesURL, []byte(`{"has_code":true}`), 0.91))

	results, err := sink.SearchVector(context.Background(), VectorQuery{
		Vector:        []float32{0.6, 0.8},
		Model:         testModel,
		Limit:         5,
		MinSimilarity: 0.78,
		Filters:       &SearchFilters{SourcePrefix: typesURL, CodeOnly: true},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(9), results[0].Chunk.ID)
	assert.True(t, results[0].Chunk.HasCode)
	assert.InDelta(t, 0.91, results[0].Similarity, 1e-9)
	assert.NoError(t, mockPool.ExpectationsWereMet())

	t.Run("Should reject an empty query vector", func(t *testing.T) {
		_, err := sink.SearchVector(context.Background(), VectorQuery{Model: testModel})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}
