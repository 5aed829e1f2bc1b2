// Package mcp implements the Model Context Protocol (MCP) server for ether-guru.
//
// The server exposes four tools to MCP clients:
//   - ingest_docs: Crawl a documentation site, or read local markdown files, and store the chunks
//   - search_docs: Keyword, vector or hybrid search over stored chunks
//   - chunk_text: Chunk arbitrary Markdown without storing it
//   - get_status: Report sink contents and whether an ingestion is running
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol. The server speaks it over stdio, so stdout is
// reserved for protocol messages and all logging goes to stderr:
//
//	etherguru serve
//
// # Tool: ingest_docs
//
//	Request:
//	{
//	  "name": "ingest_docs",
//	  "arguments": {
//	    "start_url": "https://docs.soliditylang.org/en/v0.8.29/",
//	    "max_depth": 2,
//	    "force": false,
//	    "embed": true
//	  }
//	}
//
//	Response:
//	{
//	  "pages_fetched": 84,
//	  "pages_failed": 1,
//	  "pages_processed": 83,
//	  "pages_unchanged": 0,
//	  "pages_skipped": 0,
//	  "chunks_created": 2140,
//	  "chunks_inserted": 2140,
//	  "batches_failed": 0,
//	  "embed": {"model": "text-embedding-3-small", "chunks_embedded": 2140, "embeddings_stored": 2140},
//	  "duration_ms": 61234
//	}
//
// Passing "glob" (and optionally "root") reads local files instead of crawling.
// Only one ingestion runs at a time; a concurrent call fails with -32002.
// "embed" needs a sink that stores vectors (sqlite, postgres), else -32005.
//
// # Tool: search_docs
//
//	Request:
//	{
//	  "name": "search_docs",
//	  "arguments": {
//	    "query": "function modifiers",
//	    "mode": "hybrid",
//	    "limit": 5,
//	    "source_prefix": "https://docs.soliditylang.org/en/v0.8.29/contracts",
//	    "code_only": true
//	  }
//	}
//
// Results carry a 1-based rank and a score in [0, 1]. Vector hits below
// "threshold" (default: the configured match threshold) are dropped. A mode the
// sink cannot serve (text on postgres, vector on bleve) fails with -32003.
//
// # Tool: chunk_text
//
// Runs the chunker over the supplied text with the configured size and overlap,
// or with "size" and "overlap" overrides, and returns the chunks with their metadata.
//
// # Error Codes
//
//	-32602  Invalid parameters
//	-32603  Internal error (sink or crawl failure)
//	-32002  Ingestion already in progress
//	-32003  Search mode not supported by the configured sink
//	-32004  Empty query
//	-32005  Embedding not supported by the configured sink
package mcp
