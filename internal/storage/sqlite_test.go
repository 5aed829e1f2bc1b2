package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/basonpark/ether-guru/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	typesURL     = "https://docs.soliditylang.org/en/v0.8.29/types.html"
	contractsURL = "https://docs.soliditylang.org/en/v0.8.29/contracts.html"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func makeChunk(source string, index int, content string) types.Chunk {
	c := types.Chunk{
		SourceIdentifier: source,
		Index:            index,
		Content:          content,
		HasCode:          strings.Contains(content, "```"),
	}
	c.ComputeContentHash()
	c.ComputeTokenCount()
	return c
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
}

func TestClose(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	assert.NoError(t, storage.Close())
}

func TestInsertChunks(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	batch := []types.Chunk{
		makeChunk(typesURL, 0, "Solidity is a statically typed language."),
		makeChunk(typesURL, 1, "```solidity\nuint256 x;\n```"),
		makeChunk(contractsURL, 0, "Contracts are similar to classes."),
	}

	n, err := storage.InsertChunks(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, c := range batch {
		assert.Greater(t, c.ID, int64(0))
	}

	chunks, err := storage.ListChunksBySource(ctx, typesURL)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, batch[0].Content, chunks[0].Content)
	assert.Equal(t, batch[0].ContentHash, chunks[0].ContentHash)
	assert.Equal(t, batch[0].TokenCount, chunks[0].TokenCount)
	assert.False(t, chunks[0].HasCode)
	assert.True(t, chunks[1].HasCode)
}

func TestInsertChunks_Empty(t *testing.T) {
	storage := setupTestDB(t)

	n, err := storage.InsertChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertChunks_StoresMetadata(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.InsertChunks(ctx, []types.Chunk{makeChunk(typesURL, 0, "```x```")})
	require.NoError(t, err)

	var metadata string
	err = storage.db.QueryRowContext(ctx, "SELECT metadata FROM chunks").Scan(&metadata)
	require.NoError(t, err)
	assert.JSONEq(t, `{"original_url": "`+typesURL+`", "has_code": true}`, metadata)
}

func TestInsertChunks_OverwritesSamePosition(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.InsertChunks(ctx, []types.Chunk{makeChunk(typesURL, 0, "old text")})
	require.NoError(t, err)

	n, err := storage.InsertChunks(ctx, []types.Chunk{makeChunk(typesURL, 0, "new text")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	chunks, err := storage.ListChunksBySource(ctx, typesURL)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "new text", chunks[0].Content)
}

func TestInsertChunks_InvalidChunkFailsBatch(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	bad := types.Chunk{SourceIdentifier: typesURL, Index: 1, Content: "no hash"}
	n, err := storage.InsertChunks(ctx, []types.Chunk{makeChunk(typesURL, 0, "fine"), bad})
	assert.Error(t, err)
	assert.Zero(t, n)

	// Nothing from the failed batch is kept
	chunks, err := storage.ListChunksBySource(ctx, typesURL)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestGetChunk(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	batch := []types.Chunk{makeChunk(typesURL, 3, "Address type holds a 20 byte value.")}
	_, err := storage.InsertChunks(ctx, batch)
	require.NoError(t, err)

	got, err := storage.GetChunk(ctx, batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, typesURL, got.SourceIdentifier)
	assert.Equal(t, 3, got.Index)

	_, err = storage.GetChunk(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSourceTracking(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	hash := types.Page{SourceIdentifier: typesURL, Text: "page text"}.ContentHash()

	_, err := storage.SourceHash(ctx, typesURL)
	assert.ErrorIs(t, err, ErrNotFound)

	// Chunks alone do not record a hash
	_, err = storage.InsertChunks(ctx, []types.Chunk{makeChunk(typesURL, 0, "page text")})
	require.NoError(t, err)
	_, err = storage.SourceHash(ctx, typesURL)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.MarkSource(ctx, typesURL, hash))
	got, err := storage.SourceHash(ctx, typesURL)
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	require.NoError(t, storage.ResetSource(ctx, typesURL))
	_, err = storage.SourceHash(ctx, typesURL)
	assert.ErrorIs(t, err, ErrNotFound)

	chunks, err := storage.ListChunksBySource(ctx, typesURL)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestListSources(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.InsertChunks(ctx, []types.Chunk{
		makeChunk(typesURL, 0, "a"),
		makeChunk(typesURL, 1, "b"),
		makeChunk(contractsURL, 0, "c"),
	})
	require.NoError(t, err)
	require.NoError(t, storage.MarkSource(ctx, contractsURL, [32]byte{1}))

	sources, err := storage.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	assert.Equal(t, contractsURL, sources[0].URL)
	assert.Equal(t, 1, sources[0].ChunkCount)
	require.NotNil(t, sources[0].ContentHash)
	assert.False(t, sources[0].LastIndexedAt.IsZero())

	assert.Equal(t, typesURL, sources[1].URL)
	assert.Equal(t, 2, sources[1].ChunkCount)
	assert.Nil(t, sources[1].ContentHash)
}

func TestStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.InsertChunks(ctx, []types.Chunk{
		makeChunk(typesURL, 0, "prose"),
		makeChunk(typesURL, 1, "```code```"),
		makeChunk(contractsURL, 0, "more prose"),
	})
	require.NoError(t, err)
	require.NoError(t, storage.MarkSource(ctx, typesURL, [32]byte{2}))

	status, err := storage.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, status.Driver)
	assert.Equal(t, 2, status.Sources)
	assert.Equal(t, 3, status.Chunks)
	assert.Equal(t, 1, status.CodeChunks)
	assert.Greater(t, status.SizeBytes, int64(0))
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.False(t, status.LastIndexedAt.IsZero())
}
