package searcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basonpark/ether-guru/internal/chunker"
	"github.com/basonpark/ether-guru/internal/storage"
	"github.com/basonpark/ether-guru/pkg/types"
)

// mockBackend implements storage.TextSearcher for testing
type mockBackend struct {
	results   []storage.TextResult
	err       error
	calls     int
	lastLimit int
}

func (m *mockBackend) SearchText(_ context.Context, _ string, limit int, _ *storage.SearchFilters) ([]storage.TextResult, error) {
	m.calls++
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

func textResult(source string, index int, score float64) storage.TextResult {
	return storage.TextResult{
		Chunk: types.Chunk{SourceIdentifier: source, Index: index, Content: "chunk content"},
		Score: score,
	}
}

func TestNewSearcher(t *testing.T) {
	_, err := NewSearcher(Options{CacheSize: 10})
	assert.Error(t, err)

	s, err := NewSearcher(Options{Text: &mockBackend{}})
	require.NoError(t, err)
	assert.Nil(t, s.cache)

	s, err = NewSearcher(Options{Text: &mockBackend{}, CacheSize: 10})
	require.NoError(t, err)
	assert.NotNil(t, s.cache)
}

func TestSearch_RanksAndNormalizes(t *testing.T) {
	backend := &mockBackend{results: []storage.TextResult{
		textResult("https://docs.example.org/a", 0, 8),
		textResult("https://docs.example.org/b", 2, 4),
		textResult("https://docs.example.org/c", 1, 2),
	}}
	s, err := NewSearcher(Options{Text: backend})
	require.NoError(t, err)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "storage"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, 3, resp.TotalResults)
	assert.Equal(t, DefaultLimit, backend.lastLimit)

	wantScores := []float64{1, 0.5, 0.25}
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.InDelta(t, wantScores[i], r.RelevanceScore, 1e-9)
		assert.NoError(t, r.Validate())
	}
}

func TestSearch_NonPositiveScoresFallBackToRank(t *testing.T) {
	backend := &mockBackend{results: []storage.TextResult{
		textResult("https://docs.example.org/a", 0, 0),
		textResult("https://docs.example.org/b", 0, -1),
	}}
	s, err := NewSearcher(Options{Text: backend})
	require.NoError(t, err)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, resp.Results[0].RelevanceScore, 1e-9)
	assert.InDelta(t, 0.5, resp.Results[1].RelevanceScore, 1e-9)
}

func TestSearch_Validation(t *testing.T) {
	s, err := NewSearcher(Options{Text: &mockBackend{}})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  SearchRequest
		want error
	}{
		{name: "empty query", req: SearchRequest{Query: "   "}, want: ErrEmptyQuery},
		{name: "negative limit", req: SearchRequest{Query: "q", Limit: -1}, want: ErrInvalidLimit},
		{name: "limit too large", req: SearchRequest{Query: "q", Limit: MaxLimit + 1}, want: ErrInvalidLimit},
		{name: "unknown mode", req: SearchRequest{Query: "q", Mode: "semantic"}, want: ErrInvalidMode},
		{name: "threshold too large", req: SearchRequest{Query: "q", Threshold: ptr(1.5)}, want: ErrInvalidThreshold},
		{name: "vector without embeddings", req: SearchRequest{Query: "q", Mode: ModeVector}, want: ErrModeUnsupported},
		{name: "hybrid without embeddings", req: SearchRequest{Query: "q", Mode: ModeHybrid}, want: ErrModeUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSearch_BackendErrors(t *testing.T) {
	s, err := NewSearcher(Options{Text: &mockBackend{err: storage.ErrEmptyQuery}})
	require.NoError(t, err)
	_, err = s.Search(context.Background(), SearchRequest{Query: "()"})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	s, err = NewSearcher(Options{Text: &mockBackend{err: errors.New("disk I/O error")}})
	require.NoError(t, err)
	_, err = s.Search(context.Background(), SearchRequest{Query: "q"})
	assert.ErrorContains(t, err, "disk I/O error")
}

func TestSearch_Cache(t *testing.T) {
	backend := &mockBackend{results: []storage.TextResult{textResult("https://docs.example.org/a", 0, 3)}}
	s, err := NewSearcher(Options{Text: backend, CacheSize: 8})
	require.NoError(t, err)
	ctx := context.Background()
	req := SearchRequest{Query: "events", UseCache: true}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, first.Results, second.Results)

	// Mutating a returned response must not leak into the cache
	second.Results[0].Chunk.Content = "changed"
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "chunk content", third.Results[0].Chunk.Content)

	// Different filters are a different cache key
	_, err = s.Search(ctx, SearchRequest{Query: "events", UseCache: true, Filters: &storage.SearchFilters{CodeOnly: true}})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)
	assert.Equal(t, 2, s.CacheLen())

	s.InvalidateCache()
	assert.Zero(t, s.CacheLen())
	_, err = s.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, backend.calls)
}

func TestSearch_CacheExpiry(t *testing.T) {
	backend := &mockBackend{results: []storage.TextResult{textResult("https://docs.example.org/a", 0, 1)}}
	s, err := NewSearcher(Options{Text: backend, CacheSize: 8})
	require.NoError(t, err)
	req := SearchRequest{Query: "q", UseCache: true, CacheTTL: time.Millisecond}

	_, err = s.Search(context.Background(), req)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 2, backend.calls)
}

func TestSearch_EmptyResultsNotCached(t *testing.T) {
	backend := &mockBackend{}
	s, err := NewSearcher(Options{Text: backend, CacheSize: 8})
	require.NoError(t, err)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "nothing", UseCache: true})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, s.CacheLen())
}

func seedBackend(t *testing.T, sink storage.Sink) {
	t.Helper()
	c, err := chunker.New(chunker.DefaultOptions())
	require.NoError(t, err)

	var chunks []types.Chunk
	chunks = append(chunks, c.ChunkText("https://docs.example.org/contracts.html",
		"Function modifiers can be used to change the behaviour of functions.")...)
	chunks = append(chunks, c.ChunkText("https://docs.example.org/types.html",
		"Mappings can be seen as hash tables.\n\n```solidity\nmapping(address => uint) public balances;\n```")...)
	chunks = append(chunks, c.ChunkText("https://docs.example.org/units.html",
		"Ether units and time units are available globally.")...)

	_, err = sink.InsertChunks(context.Background(), chunks)
	require.NoError(t, err)
}

func TestSearch_Backends(t *testing.T) {
	ctx := context.Background()

	sqlite, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	bleve, err := storage.NewBleveSink(storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bleve.Close() })

	backends := map[string]interface {
		storage.Sink
		storage.TextSearcher
	}{
		"sqlite": sqlite,
		"bleve":  bleve,
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			seedBackend(t, backend)
			s, err := NewSearcher(Options{Text: backend})
			require.NoError(t, err)

			resp, err := s.Search(ctx, SearchRequest{Query: "modifiers", Limit: 5})
			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, "https://docs.example.org/contracts.html", resp.Results[0].Chunk.SourceIdentifier)
			assert.InDelta(t, 1.0, resp.Results[0].RelevanceScore, 1e-9)

			resp, err = s.Search(ctx, SearchRequest{
				Query:   "mapping balances",
				Filters: &storage.SearchFilters{CodeOnly: true},
			})
			require.NoError(t, err)
			require.Len(t, resp.Results, 1)
			assert.True(t, resp.Results[0].Chunk.HasCode)
		})
	}
}
