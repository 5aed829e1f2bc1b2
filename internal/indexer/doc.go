// Package indexer runs the ingestion pipeline that turns pages into stored chunks.
//
// Pages arrive on a channel, usually fed by the crawler. A pool of workers chunks
// them concurrently and a single writer buffers the chunks, handing them to the
// sink in batches of exactly BatchSize (the last batch may be smaller):
//
//	idx := indexer.New(chunker, sink, log, &indexer.Config{Workers: 4, BatchSize: 50})
//	stats, err := idx.IndexPages(ctx, pages)
//
// A batch the sink rejects is logged and counted in Statistics.BatchesFailed;
// ingestion continues with the next batch and earlier batches are kept.
//
// # Incremental Ingestion
//
// When the sink implements storage.SourceTracker, each page's SHA-256 is compared
// with the hash stored for its URL. Unchanged pages are skipped. A changed page
// has its old chunks removed before the new ones are written, and its hash is
// recorded only after every one of its chunks has been stored, so a page from a
// failed batch is retried on the next run.
//
// IndexLock lets long-lived callers such as the MCP server reject a second run
// while one is in progress.
package indexer
