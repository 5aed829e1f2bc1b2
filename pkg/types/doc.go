// Package types provides shared type definitions for the ether-guru ingestion pipeline.
//
// This package defines domain types used across the segmenter, chunker, storage sinks,
// searcher and MCP server.
//
// # Core Types
//
// Page is the normalized upstream record: a source identifier and decoded text. Every
// crawler result is reduced to a Page once, at the pipeline boundary:
//
//	page := types.Page{
//	    SourceIdentifier: "https://docs.soliditylang.org/en/v0.8.29/types.html",
//	    Text:             markdown,
//	}
//
// Segment is a typed slice of page text, either fenced code or prose:
//
//	seg := types.Code("```solidity\ncontract C {}\n```")
//	seg.IsCode() // true
//
// Chunk is a bounded-size, retrieval-ready section of a page:
//
//	chunk := &types.Chunk{
//	    SourceIdentifier: page.SourceIdentifier,
//	    Index:            0,
//	    Content:          content,
//	    HasCode:          true,
//	}
//	chunk.ComputeContentHash()
//	chunk.ComputeTokenCount()
//
// # Metadata
//
// Chunks persist a small JSON metadata document alongside their content:
//
//	{"original_url": "https://...", "has_code": true}
//
// # Validation
//
// Domain types implement validation methods to ensure data integrity:
//
//	if err := chunk.Validate(); err != nil {
//	    return err
//	}
//
// # Search Results
//
// SearchResult pairs a stored chunk with its rank and a relevance score normalized
// to the [0, 1] range, with higher values indicating better matches.
package types
