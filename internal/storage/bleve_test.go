package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/basonpark/ether-guru/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBleve(t *testing.T) *BleveSink {
	t.Helper()
	sink, err := NewBleveSink(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestBleveSink_InsertAndSearch(t *testing.T) {
	sink := setupBleve(t)
	ctx := context.Background()

	n, err := sink.InsertChunks(ctx, []types.Chunk{
		makeChunk(typesURL, 0, "Mappings act like hash tables keyed by any elementary type."),
		makeChunk(typesURL, 1, "```solidity\nmapping(address => uint) balances;\n```"),
		makeChunk(contractsURL, 0, "Function modifiers amend the semantics of functions."),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := sink.SearchText(ctx, "modifiers", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, contractsURL, got.Chunk.SourceIdentifier)
	assert.Equal(t, 0, got.Chunk.Index)
	assert.False(t, got.Chunk.HasCode)
	assert.Greater(t, got.Score, 0.0)

	want := makeChunk(contractsURL, 0, "Function modifiers amend the semantics of functions.")
	assert.Equal(t, want.ContentHash, got.Chunk.ContentHash)
	assert.Equal(t, want.TokenCount, got.Chunk.TokenCount)
}

func TestBleveSink_Filters(t *testing.T) {
	sink := setupBleve(t)
	ctx := context.Background()

	_, err := sink.InsertChunks(ctx, []types.Chunk{
		makeChunk(typesURL, 0, "balances are stored in a mapping"),
		makeChunk(typesURL, 1, "```solidity\nmapping(address => uint) balances;\n```"),
		makeChunk(contractsURL, 0, "contract balances can be queried"),
	})
	require.NoError(t, err)

	results, err := sink.SearchText(ctx, "balances", 10, &SearchFilters{CodeOnly: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Chunk.HasCode)

	results, err = sink.SearchText(ctx, "balances", 10, &SearchFilters{SourcePrefix: "https://docs.soliditylang.org/en/v0.8.29/contr"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, contractsURL, results[0].Chunk.SourceIdentifier)
}

func TestBleveSink_ReplacesSameSourceAndIndex(t *testing.T) {
	sink := setupBleve(t)
	ctx := context.Background()

	_, err := sink.InsertChunks(ctx, []types.Chunk{makeChunk(typesURL, 0, "old wording about structs")})
	require.NoError(t, err)
	_, err = sink.InsertChunks(ctx, []types.Chunk{makeChunk(typesURL, 0, "new wording about structs")})
	require.NoError(t, err)

	status, err := sink.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Chunks)

	results, err := sink.SearchText(ctx, "structs", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Chunk.Content, "new wording")
}

func TestBleveSink_Status(t *testing.T) {
	sink := setupBleve(t)
	ctx := context.Background()

	_, err := sink.InsertChunks(ctx, []types.Chunk{
		makeChunk(typesURL, 0, "prose"),
		makeChunk(typesURL, 1, "```code```"),
	})
	require.NoError(t, err)

	status, err := sink.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, DriverBleve, status.Driver)
	assert.Equal(t, 2, status.Chunks)
	assert.Equal(t, 1, status.CodeChunks)
}

func TestBleveSink_EmptyQuery(t *testing.T) {
	sink := setupBleve(t)

	_, err := sink.SearchText(context.Background(), "   ", 10, nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestBleveSink_ReopenPersistentIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.bleve")
	ctx := context.Background()

	sink, err := NewBleveSink(path)
	require.NoError(t, err)
	_, err = sink.InsertChunks(ctx, []types.Chunk{makeChunk(typesURL, 0, "persisted enum docs")})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	reopened, err := NewBleveSink(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	results, err := reopened.SearchText(ctx, "enum", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
