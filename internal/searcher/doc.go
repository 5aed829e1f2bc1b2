// Package searcher provides keyword, vector and hybrid search over ingested
// documentation chunks.
//
// Keyword search wraps any storage.TextSearcher: the SQLite sink ranks with FTS5
// BM25 and the bleve sink with its own TF-IDF scoring. Backend scores are not
// comparable across drivers, so results are rescaled to [0, 1] relative to the
// best hit and ranked from 1.
//
// Vector search embeds the query with the same embedder.Embedder that embedded
// the chunks and asks a storage.VectorStore for the nearest chunks by cosine
// similarity. Hits below the match threshold (0.78 by default) are dropped and
// at most the match count (5 by default) are returned. Relevance is the
// similarity itself. Hybrid search runs both and merges them with Reciprocal
// Rank Fusion (k = 60).
//
//	s, err := searcher.NewSearcher(searcher.Options{
//	    Text:           store,
//	    Vector:         store,
//	    Embedder:       emb,
//	    CacheSize:      256,
//	    MatchThreshold: 0.78,
//	    MatchCount:     5,
//	})
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:    "function modifiers",
//	    Mode:     searcher.ModeHybrid,
//	    Filters:  &storage.SearchFilters{CodeOnly: true},
//	    UseCache: true,
//	})
//
// Responses can be cached in an LRU keyed by mode, query, limit, threshold and
// filters. The cache has no notion of which pages changed, so callers purge it
// with InvalidateCache after every ingestion or embedding run.
package searcher
