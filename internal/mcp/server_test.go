package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basonpark/ether-guru/internal/config"
	"github.com/basonpark/ether-guru/internal/searcher"
	"github.com/basonpark/ether-guru/pkg/logger"
	"github.com/basonpark/ether-guru/pkg/types"
)

// appendOnlySink stores nothing and supports neither search nor status
type appendOnlySink struct{}

func (appendOnlySink) InsertChunks(_ context.Context, chunks []types.Chunk) (int, error) {
	return len(chunks), nil
}

func (appendOnlySink) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Sink.Path = ":memory:"
	cfg.Crawl.Delay = 0
	cfg.Crawl.Retries = 0
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), testConfig(), logger.NewForTests())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
	return mcpErr
}

func writeDocs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"contracts.md": "# Modifiers\n\nModifiers change the behaviour of functions.\n\n```solidity\nmodifier onlyOwner { _; }\n```",
		"types.md":     "# Mappings\n\nMappings act like hash tables keyed by address.",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o600))
	}
	return root
}

func TestNewServer(t *testing.T) {
	s := newTestServer(t)
	assert.NotNil(t, s.mcp)
	assert.NotNil(t, s.searcher, "sqlite sink should enable search")
	assert.NotNil(t, s.pipeline)
}

func TestNewServer_InvalidSink(t *testing.T) {
	cfg := testConfig()
	cfg.Sink.Driver = "postgres"
	cfg.Sink.DSN = ""

	_, err := NewServer(context.Background(), cfg, logger.NewForTests())
	assert.Error(t, err)
}

func TestHandleChunkText(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleChunkText(context.Background(), callTool("chunk_text", map[string]interface{}{
		"text":   "Intro paragraph.\n\n```solidity\ncontract C {}\n```\n\nOutro.",
		"source": "https://docs.example.org/c.html",
	}))
	require.NoError(t, err)

	out := decodeResult(t, result)
	assert.Equal(t, "https://docs.example.org/c.html", out["source"])
	assert.EqualValues(t, 1, out["count"])

	chunks := out["chunks"].([]interface{})
	first := chunks[0].(map[string]interface{})
	assert.Equal(t, true, first["has_code"])
	assert.Contains(t, first["content"], "```solidity\ncontract C {}\n```")

	metadata := first["metadata"].(map[string]interface{})
	assert.Equal(t, "https://docs.example.org/c.html", metadata["original_url"])
	assert.Equal(t, true, metadata["has_code"])
}

func TestHandleChunkText_Errors(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleChunkText(context.Background(), callTool("chunk_text", map[string]interface{}{}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleChunkText(context.Background(), callTool("chunk_text", map[string]interface{}{
		"text":    "x",
		"size":    float64(100),
		"overlap": float64(100),
	}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestHandleChunkText_EmptyText(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleChunkText(context.Background(), callTool("chunk_text", map[string]interface{}{"text": ""}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.EqualValues(t, 0, out["count"])
	assert.Equal(t, defaultChunkSource, out["source"])
}

func TestHandleSearchDocs_Validation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{"query": "  "}))
	requireMCPError(t, err, ErrorCodeEmptyQuery)

	_, err = s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{"query": "x", "limit": float64(0)}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{"query": "x", "limit": float64(101)}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{"query": "()"}))
	requireMCPError(t, err, ErrorCodeEmptyQuery)

	_, err = s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{"query": "x", "mode": "fuzzy"}))
	mcpErr := requireMCPError(t, err, ErrorCodeInvalidParams)
	assert.Equal(t, "mode", mcpErr.Data.(map[string]interface{})["param"])

	_, err = s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{
		"query":     "x",
		"mode":      "vector",
		"threshold": 1.5,
	}))
	mcpErr = requireMCPError(t, err, ErrorCodeInvalidParams)
	assert.Equal(t, "threshold", mcpErr.Data.(map[string]interface{})["param"])
}

func TestHandleSearchDocs_Unsupported(t *testing.T) {
	s, err := newServerWithSink(testConfig(), appendOnlySink{}, logger.NewForTests())
	require.NoError(t, err)

	_, err = s.handleSearchDocs(context.Background(), callTool("search_docs", map[string]interface{}{"query": "x"}))
	requireMCPError(t, err, ErrorCodeSearchUnsupported)

	_, err = s.handleIngestDocs(context.Background(), callTool("ingest_docs", map[string]interface{}{
		"glob":  "*.md",
		"root":  t.TempDir(),
		"embed": true,
	}))
	requireMCPError(t, err, ErrorCodeEmbedUnsupported)

	result, err := s.handleGetStatus(context.Background(), callTool("get_status", nil))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, false, out["searchable"])
	assert.Empty(t, out["search_modes"])
	assert.NotContains(t, out, "statistics")
}

func TestHandleSearchDocs_TextOnlySink(t *testing.T) {
	cfg := testConfig()
	cfg.Sink.Driver = "bleve"

	s, err := NewServer(context.Background(), cfg, logger.NewForTests())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Nil(t, s.embedder, "bleve cannot store vectors")

	_, err = s.handleSearchDocs(context.Background(), callTool("search_docs", map[string]interface{}{
		"query": "modifiers",
		"mode":  "vector",
	}))
	mcpErr := requireMCPError(t, err, ErrorCodeSearchUnsupported)
	assert.Equal(t, []searcher.Mode{searcher.ModeText}, mcpErr.Data.(map[string]interface{})["supported"])
}

func TestIngestSearchStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	root := writeDocs(t)

	result, err := s.handleIngestDocs(ctx, callTool("ingest_docs", map[string]interface{}{
		"glob": "*.md",
		"root": root,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.EqualValues(t, 2, out["local_files"])
	assert.EqualValues(t, 2, out["pages_processed"])
	assert.EqualValues(t, 2, out["chunks_inserted"])
	assert.EqualValues(t, 0, out["batches_failed"])

	result, err = s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{
		"query":     "modifiers",
		"code_only": true,
	}))
	require.NoError(t, err)
	out = decodeResult(t, result)
	assert.EqualValues(t, 1, out["total_results"])

	hit := out["results"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "contracts.md", hit["source_url"])
	assert.EqualValues(t, 1, hit["rank"])
	assert.EqualValues(t, 1, hit["score"])
	assert.Equal(t, true, hit["has_code"])

	result, err = s.handleGetStatus(ctx, callTool("get_status", nil))
	require.NoError(t, err)
	out = decodeResult(t, result)
	assert.Equal(t, "sqlite", out["driver"])
	assert.Equal(t, false, out["ingesting"])

	statistics := out["statistics"].(map[string]interface{})
	assert.EqualValues(t, 2, statistics["chunks_count"])
	assert.EqualValues(t, 1, statistics["code_chunks_count"])
	assert.EqualValues(t, 2, statistics["sources_count"])

	// Re-ingesting unchanged files stores nothing new
	result, err = s.handleIngestDocs(ctx, callTool("ingest_docs", map[string]interface{}{
		"glob": "*.md",
		"root": root,
	}))
	require.NoError(t, err)
	out = decodeResult(t, result)
	assert.EqualValues(t, 2, out["pages_unchanged"])
	assert.EqualValues(t, 0, out["chunks_inserted"])

	// Force re-ingests them
	result, err = s.handleIngestDocs(ctx, callTool("ingest_docs", map[string]interface{}{
		"glob":  "*.md",
		"root":  root,
		"force": true,
	}))
	require.NoError(t, err)
	out = decodeResult(t, result)
	assert.EqualValues(t, 2, out["chunks_inserted"])
}

func TestIngestEmbedVectorSearch(t *testing.T) {
	cfg := testConfig()
	cfg.Embed.Provider = "local"
	s, err := NewServer(context.Background(), cfg, logger.NewForTests())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	root := writeDocs(t)

	result, err := s.handleIngestDocs(ctx, callTool("ingest_docs", map[string]interface{}{
		"glob":  "*.md",
		"root":  root,
		"embed": true,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	embed := out["embed"].(map[string]interface{})
	assert.Equal(t, "local-hash-384", embed["model"])
	assert.EqualValues(t, 2, embed["chunks_embedded"])
	assert.EqualValues(t, 2, embed["embeddings_stored"])
	assert.EqualValues(t, 0, embed["batches_failed"])

	t.Run("Should honour the configured threshold", func(t *testing.T) {
		result, err := s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{
			"query": "modifiers onlyOwner",
			"mode":  "vector",
		}))
		require.NoError(t, err)
		out := decodeResult(t, result)
		assert.Equal(t, "vector", out["mode"])
		assert.EqualValues(t, 0, out["total_results"])
	})

	t.Run("Should rank by similarity above a lower threshold", func(t *testing.T) {
		result, err := s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{
			"query":     "modifiers onlyOwner",
			"mode":      "vector",
			"threshold": 0.3,
		}))
		require.NoError(t, err)
		out := decodeResult(t, result)
		require.EqualValues(t, 1, out["total_results"])
		hit := out["results"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "contracts.md", hit["source_url"])
	})

	t.Run("Should merge keyword and vector hits", func(t *testing.T) {
		result, err := s.handleSearchDocs(ctx, callTool("search_docs", map[string]interface{}{
			"query":     "modifiers",
			"mode":      "hybrid",
			"threshold": 0.3,
		}))
		require.NoError(t, err)
		out := decodeResult(t, result)
		assert.Equal(t, "hybrid", out["mode"])
		hit := out["results"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "contracts.md", hit["source_url"])
	})

	t.Run("Should report embeddings and sources", func(t *testing.T) {
		result, err := s.handleGetStatus(ctx, callTool("get_status", map[string]interface{}{"include_sources": true}))
		require.NoError(t, err)
		out := decodeResult(t, result)
		assert.Equal(t, []interface{}{"text", "vector", "hybrid"}, out["search_modes"])

		statistics := out["statistics"].(map[string]interface{})
		assert.EqualValues(t, 2, statistics["embeddings_count"])

		settings := out["settings"].(map[string]interface{})
		assert.Equal(t, "local", settings["embed_provider"])
		assert.EqualValues(t, 0.78, settings["match_threshold"])

		sources := out["sources"].([]interface{})
		require.Len(t, sources, 2)
		first := sources[0].(map[string]interface{})
		assert.Equal(t, "contracts.md", first["url"])
		assert.EqualValues(t, 1, first["chunk_count"])
		assert.Equal(t, true, first["complete"])
	})

	t.Run("Should skip chunks that are already embedded", func(t *testing.T) {
		result, err := s.handleIngestDocs(ctx, callTool("ingest_docs", map[string]interface{}{
			"glob":  "*.md",
			"root":  root,
			"embed": true,
		}))
		require.NoError(t, err)
		embed := decodeResult(t, result)["embed"].(map[string]interface{})
		assert.EqualValues(t, 0, embed["chunks_pending"])
	})
}

func TestHandleIngestDocs_Busy(t *testing.T) {
	s := newTestServer(t)
	require.True(t, s.lock.TryAcquire())
	defer s.lock.Release()

	_, err := s.handleIngestDocs(context.Background(), callTool("ingest_docs", map[string]interface{}{
		"glob": "*.md",
		"root": t.TempDir(),
	}))
	requireMCPError(t, err, ErrorCodeIngestionInProgress)

	result, err := s.handleGetStatus(context.Background(), callTool("get_status", nil))
	require.NoError(t, err)
	assert.Equal(t, true, decodeResult(t, result)["ingesting"])
}

func TestHandleIngestDocs_InvalidParams(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleIngestDocs(ctx, callTool("ingest_docs", map[string]interface{}{"max_depth": float64(-1)}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleIngestDocs(ctx, callTool("ingest_docs", map[string]interface{}{"start_url": "ftp://example.org/"}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
	assert.False(t, s.lock.Held(), "lock must be released after a failed run")
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeIngestionInProgress, "busy", nil)
	assert.Equal(t, "MCP error -32002: busy", err.Error())
}
