// Package embedder turns chunk text and search queries into vectors.
//
// Three providers are available. OpenAI (text-embedding-3-small, 1536
// dimensions) and Jina AI (jina-embeddings-v3, 1024 dimensions) call an
// OpenAI-compatible /v1/embeddings endpoint with retries on rate limits and
// server errors. The local provider needs no network: it hashes words into
// 384 signed buckets, so texts sharing vocabulary score high under cosine
// similarity.
//
// # Basic Usage
//
//	emb, err := embedder.New(cfg.Embed)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunk1.Content, chunk2.Content},
//	})
//
// Batches hold at most MaxBatchSize texts. Every provider caches embeddings
// by content hash in an LRU Cache, so re-embedding unchanged text is free.
//
// # Error Handling
//
// API failures wrap ErrProviderFailed after the retries are spent:
//
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // skip this batch and continue
//	}
package embedder
