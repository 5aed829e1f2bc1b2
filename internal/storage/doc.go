// Package storage provides the chunk sinks the ingestion pipeline writes to.
//
// Every sink implements Sink: it accepts a batch of chunks and reports how many were
// stored. Sinks may also implement the optional interfaces:
//   - SourceTracker: remembers page hashes so unchanged pages can be skipped
//   - TextSearcher: keyword search over stored chunks
//   - StatusReporter: counts and size of the stored data
//
// # Drivers
//
//   - sqlite: local database with an FTS5 index (all optional interfaces)
//   - postgres: append-only table (content, source_url, metadata jsonb), e.g. Supabase
//   - bleve: full-text document index on disk or in memory
//
//	sink, err := storage.Open(ctx, storage.Options{Driver: "sqlite", Path: "etherguru.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sink.Close()
//
//	n, err := sink.InsertChunks(ctx, batch)
//
// # SQLite Schema
//
// Tables:
//   - sources: one row per page URL with the hash of its fully stored text
//   - chunks: chunk content, hash, token count, has_code and JSON metadata
//   - chunks_fts: FTS5 index kept in sync by triggers
//
// Chunk metadata is stored as {"original_url": "...", "has_code": true}. Chunks are
// unique per (source, chunk index); inserting the same position again overwrites it.
//
// Migrations are versioned with semantic versions and applied on open.
//
// # Build Modes
//
// The pure Go driver (modernc.org/sqlite) is the default. Building with
// -tags "sqlite_cgo,sqlite_fts5" switches to github.com/mattn/go-sqlite3.
//
// # Incremental Updates
//
// A page's hash is recorded only after all of its chunks are stored:
//
//	stored, err := tracker.SourceHash(ctx, page.SourceIdentifier)
//	if err == nil && stored == page.ContentHash() {
//	    // Unchanged, skip
//	}
//	_ = tracker.ResetSource(ctx, page.SourceIdentifier)
//	// ... insert chunks ...
//	_ = tracker.MarkSource(ctx, page.SourceIdentifier, page.ContentHash())
package storage
