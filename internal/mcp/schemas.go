package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/basonpark/ether-guru/internal/searcher"
)

// ingestDocsTool returns the tool definition for ingest_docs
func ingestDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_docs",
		Description: "Crawl a documentation site (or read local markdown files), chunk the pages and store the chunks",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"start_url": map[string]interface{}{
					"type":        "string",
					"description": "URL to start crawling from; only links under it are followed (defaults to the configured start URL)",
				},
				"max_depth": map[string]interface{}{
					"type":        "integer",
					"description": "Number of link hops to follow from the start URL",
					"minimum":     0,
				},
				"glob": map[string]interface{}{
					"type":        "string",
					"description": "Read local files matching this pattern (e.g. 'docs/**/*.md') instead of crawling",
				},
				"root": map[string]interface{}{
					"type":        "string",
					"description": "Directory the glob is resolved against (default: current directory)",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-ingest pages even when their content is unchanged",
					"default":     false,
				},
				"embed": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, embed every stored chunk that has no current embedding after ingesting",
					"default":     false,
				},
			},
		},
	}
}

// searchDocsTool returns the tool definition for search_docs
func searchDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_docs",
		Description: "Keyword, vector or hybrid search over ingested documentation chunks",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search keywords or a natural language question",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Matching strategy (default: text when the sink supports it, else vector)",
					"enum":        []string{string(searcher.ModeText), string(searcher.ModeVector), string(searcher.ModeHybrid)},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (default: 10 for text, the configured match count otherwise)",
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum cosine similarity of vector hits (default: the configured match threshold)",
					"minimum":     -1,
					"maximum":     1,
				},
				"source_prefix": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks whose source URL starts with this prefix",
				},
				"code_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Only return chunks that contain a fenced code block",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// chunkTextTool returns the tool definition for chunk_text
func chunkTextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "chunk_text",
		Description: "Split Markdown text into retrieval chunks without storing them; fenced code blocks are never split",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Markdown text to chunk",
				},
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Source identifier recorded on each chunk",
					"default":     defaultChunkSource,
				},
				"size": map[string]interface{}{
					"type":        "integer",
					"description": "Chunk size budget in characters (default: configured size)",
					"minimum":     1,
				},
				"overlap": map[string]interface{}{
					"type":        "integer",
					"description": "Characters of overlap between split prose pieces; must be smaller than size",
					"minimum":     0,
				},
			},
			Required: []string{"text"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report sink contents, chunking settings and whether an ingestion is running",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"include_sources": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, list every stored page with its chunk count",
					"default":     false,
				},
			},
		},
	}
}
