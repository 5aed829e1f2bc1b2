package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/basonpark/ether-guru/internal/chunker"
	"github.com/basonpark/ether-guru/internal/crawler"
	"github.com/basonpark/ether-guru/internal/ingest"
	"github.com/basonpark/ether-guru/internal/searcher"
	"github.com/basonpark/ether-guru/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeIngestionInProgress = -32002 // Another ingestion is already running
	ErrorCodeSearchUnsupported   = -32003 // The configured sink cannot search
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
	ErrorCodeEmbedUnsupported    = -32005 // The configured sink cannot store embeddings
)

const (
	defaultChunkSource = "inline"
	maxReportedErrors  = 5
)

// handleIngestDocs handles the ingest_docs tool invocation
func (s *Server) handleIngestDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	src := ingest.Source{Crawl: s.cfg.Crawl}
	if startURL := getStringDefault(args, "start_url", ""); startURL != "" {
		src.Crawl.StartURL = startURL
	}
	if depth, ok := getInt(args, "max_depth"); ok {
		if depth < 0 {
			return nil, newMCPError(ErrorCodeInvalidParams, "max_depth cannot be negative", map[string]interface{}{
				"param": "max_depth",
				"value": depth,
			})
		}
		src.Crawl.MaxDepth = depth
	}
	src.Glob = getStringDefault(args, "glob", "")
	src.Root = getStringDefault(args, "root", ".")
	src.Embed = getBoolDefault(args, "embed", false)

	if src.Glob == "" && src.Crawl.StartURL == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "start_url or glob is required", map[string]interface{}{
			"param":  "start_url",
			"reason": "no start URL configured",
		})
	}

	if src.Embed && s.embedder == nil {
		return nil, newMCPError(ErrorCodeEmbedUnsupported, "the configured sink cannot store embeddings", map[string]interface{}{
			"driver": s.cfg.Sink.Driver,
		})
	}

	if !s.lock.TryAcquire() {
		return nil, newMCPError(ErrorCodeIngestionInProgress, "another ingestion is already running", nil)
	}
	defer s.lock.Release()

	pipeline := s.pipeline
	if getBoolDefault(args, "force", false) {
		p, err := s.newPipeline(true)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "ingestion failed", map[string]interface{}{"error": err.Error()})
		}
		pipeline = p
	}

	result, err := pipeline.Run(ctx, src)
	if errors.Is(err, crawler.ErrInvalidStartURL) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid start_url", map[string]interface{}{
			"param":  "start_url",
			"reason": err.Error(),
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "ingestion failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if s.searcher != nil {
		s.searcher.InvalidateCache()
	}

	stats := result.Index
	response := map[string]interface{}{
		"pages_processed": stats.PagesProcessed,
		"pages_unchanged": stats.PagesUnchanged,
		"pages_skipped":   stats.PagesSkipped,
		"chunks_created":  stats.ChunksCreated,
		"chunks_inserted": stats.ChunksInserted,
		"batches_failed":  stats.BatchesFailed,
		"duration_ms":     result.Duration.Milliseconds(),
	}
	if result.Crawl != nil {
		response["pages_fetched"] = result.Crawl.PagesFetched
		response["pages_failed"] = result.Crawl.PagesFailed
	} else {
		response["local_files"] = result.LocalFiles
	}

	if embed := result.Embed; embed != nil {
		response["embed"] = map[string]interface{}{
			"model":             embed.Model,
			"chunks_pending":    embed.ChunksPending,
			"chunks_embedded":   embed.ChunksEmbedded,
			"embeddings_stored": embed.EmbeddingsStored,
			"batches_failed":    embed.BatchesFailed,
			"duration_ms":       embed.Duration.Milliseconds(),
		}
	}

	errorMessages := stats.ErrorMessages
	if result.Embed != nil {
		errorMessages = append(errorMessages, result.Embed.ErrorMessages...)
	}
	if errorCount := len(errorMessages); errorCount > 0 {
		if errorCount > maxReportedErrors {
			response["errors"] = errorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = errorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchDocs handles the search_docs tool invocation
func (s *Server) handleSearchDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	// Zero lets the searcher pick the default for the mode
	limit, ok := getInt(args, "limit")
	if ok && (limit < 1 || limit > searcher.MaxLimit) {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	var threshold *float64
	if val, ok := args["threshold"].(float64); ok {
		threshold = &val
	}
	mode := searcher.Mode(getStringDefault(args, "mode", ""))

	if s.searcher == nil {
		return nil, newMCPError(ErrorCodeSearchUnsupported, "the configured sink does not support search", map[string]interface{}{
			"driver": s.cfg.Sink.Driver,
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:     query,
		Mode:      mode,
		Limit:     limit,
		Threshold: threshold,
		Filters: &storage.SearchFilters{
			SourcePrefix: getStringDefault(args, "source_prefix", ""),
			CodeOnly:     getBoolDefault(args, "code_only", false),
		},
		UseCache: true,
	})
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		return nil, newMCPError(ErrorCodeEmptyQuery, "query has no searchable terms", map[string]interface{}{
			"param": "query",
			"value": query,
		})
	case errors.Is(err, searcher.ErrInvalidMode):
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), map[string]interface{}{
			"param": "mode",
			"value": string(mode),
		})
	case errors.Is(err, searcher.ErrInvalidThreshold):
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), map[string]interface{}{
			"param": "threshold",
			"value": args["threshold"],
		})
	case errors.Is(err, searcher.ErrModeUnsupported):
		return nil, newMCPError(ErrorCodeSearchUnsupported, "the configured sink does not support this search mode", map[string]interface{}{
			"mode":      string(mode),
			"supported": s.searcher.Modes(),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"rank":        r.Rank,
			"score":       r.RelevanceScore,
			"source_url":  r.Chunk.SourceIdentifier,
			"chunk_index": r.Chunk.Index,
			"has_code":    r.Chunk.HasCode,
			"content":     r.Chunk.Content,
		})
	}

	response := map[string]interface{}{
		"query":         query,
		"mode":          resp.Mode,
		"total_results": resp.TotalResults,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
		"results":       results,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleChunkText handles the chunk_text tool invocation
func (s *Server) handleChunkText(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	text, ok := args["text"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "text parameter is required", map[string]interface{}{
			"param":  "text",
			"reason": "missing",
		})
	}

	opts := s.chunker.Options()
	opts.SizeBudget = getIntDefault(args, "size", opts.SizeBudget)
	opts.Overlap = getIntDefault(args, "overlap", opts.Overlap)
	c, err := chunker.New(opts)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid chunk settings", map[string]interface{}{
			"size":    opts.SizeBudget,
			"overlap": opts.Overlap,
			"reason":  err.Error(),
		})
	}

	source := getStringDefault(args, "source", defaultChunkSource)
	chunks := c.ChunkText(source, text)

	items := make([]map[string]interface{}, 0, len(chunks))
	for _, chunk := range chunks {
		items = append(items, map[string]interface{}{
			"index":       chunk.Index,
			"content":     chunk.Content,
			"has_code":    chunk.HasCode,
			"token_count": chunk.TokenCount,
			"metadata":    chunk.Metadata(),
		})
	}

	response := map[string]interface{}{
		"source":  source,
		"size":    opts.SizeBudget,
		"overlap": opts.Overlap,
		"count":   len(chunks),
		"chunks":  items,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := s.chunker.Options()
	settings := map[string]interface{}{
		"chunk_size":    opts.SizeBudget,
		"chunk_overlap": opts.Overlap,
		"batch_size":    s.cfg.Sink.BatchSize,
		"start_url":     s.cfg.Crawl.StartURL,
	}
	modes := []searcher.Mode{}
	if s.searcher != nil {
		modes = s.searcher.Modes()
	}
	if s.embedder != nil {
		settings["embed_provider"] = s.embedder.Provider()
		settings["embed_model"] = s.embedder.Model()
		settings["embed_dimension"] = s.embedder.Dimension()
		settings["match_threshold"] = s.cfg.Search.MatchThreshold
		settings["match_count"] = s.cfg.Search.MatchCount
	}

	response := map[string]interface{}{
		"driver":       s.cfg.Sink.Driver,
		"ingesting":    s.lock.Held(),
		"searchable":   s.searcher != nil,
		"search_modes": modes,
		"settings":     settings,
	}

	if lister, ok := s.sink.(storage.SourceLister); ok && getBoolDefault(request.GetArguments(), "include_sources", false) {
		sources, err := lister.ListSources(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to list sources", map[string]interface{}{
				"error": err.Error(),
			})
		}
		items := make([]map[string]interface{}, 0, len(sources))
		for _, src := range sources {
			item := map[string]interface{}{
				"url":         src.URL,
				"chunk_count": src.ChunkCount,
				"complete":    src.ContentHash != nil,
			}
			if !src.LastIndexedAt.IsZero() {
				item["last_indexed_at"] = src.LastIndexedAt.UTC().Format(time.RFC3339)
			}
			items = append(items, item)
		}
		response["sources"] = items
	}

	reporter, ok := s.sink.(storage.StatusReporter)
	if !ok {
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	status, err := reporter.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	statistics := map[string]interface{}{
		"chunks_count":      status.Chunks,
		"code_chunks_count": status.CodeChunks,
		"sources_count":     status.Sources,
		"embeddings_count":  status.Embeddings,
	}
	if status.SizeBytes > 0 {
		statistics["index_size_mb"] = fmt.Sprintf("%.2f", float64(status.SizeBytes)/(1024*1024))
	}
	if status.SchemaVersion != "" {
		statistics["schema_version"] = status.SchemaVersion
	}
	if !status.LastIndexedAt.IsZero() {
		statistics["last_indexed_at"] = status.LastIndexedAt.UTC().Format(time.RFC3339)
	}
	response["statistics"] = statistics

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getInt extracts an integer parameter; JSON numbers arrive as float64
func getInt(args map[string]interface{}, key string) (int, bool) {
	switch val := args[key].(type) {
	case float64:
		return int(val), true
	case int:
		return val, true
	default:
		return 0, false
	}
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := getInt(args, key); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
