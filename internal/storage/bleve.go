package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/basonpark/ether-guru/pkg/types"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// MemoryPath selects an in-memory store for drivers that support one
const MemoryPath = ":memory:"

// BleveSink indexes chunks as documents in a bleve full-text index
type BleveSink struct {
	index bleve.Index
}

var (
	_ Sink           = (*BleveSink)(nil)
	_ TextSearcher   = (*BleveSink)(nil)
	_ StatusReporter = (*BleveSink)(nil)
)

// bleveDoc is the indexed shape of a chunk
type bleveDoc struct {
	Content     string `json:"content"`
	SourceURL   string `json:"source_url"`
	ChunkIndex  int    `json:"chunk_index"`
	HasCode     bool   `json:"has_code"`
	TokenCount  int    `json:"token_count"`
	ContentHash string `json:"content_hash"`
}

// NewBleveSink opens the index at path, creating it when missing.
// An empty path or MemoryPath keeps the index in memory.
func NewBleveSink(path string) (*BleveSink, error) {
	if path == "" || path == MemoryPath {
		index, err := bleve.NewMemOnly(newChunkMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create memory index: %w", err)
		}
		return &BleveSink{index: index}, nil
	}

	index, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		index, err = bleve.New(path, newChunkMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}
	return &BleveSink{index: index}, nil
}

func newChunkMapping() mapping.IndexMapping {
	content := bleve.NewTextFieldMapping()

	sourceURL := bleve.NewTextFieldMapping()
	sourceURL.Analyzer = keyword.Name

	hash := bleve.NewTextFieldMapping()
	hash.Analyzer = keyword.Name
	hash.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("source_url", sourceURL)
	doc.AddFieldMappingsAt("chunk_index", bleve.NewNumericFieldMapping())
	doc.AddFieldMappingsAt("has_code", bleve.NewBooleanFieldMapping())
	doc.AddFieldMappingsAt("token_count", bleve.NewNumericFieldMapping())
	doc.AddFieldMappingsAt("content_hash", hash)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func bleveDocID(chunk *types.Chunk) string {
	return fmt.Sprintf("%s#%d", chunk.SourceIdentifier, chunk.Index)
}

// InsertChunks indexes the batch in one bleve batch.
// A chunk with the same source and index replaces the earlier document.
func (b *BleveSink) InsertChunks(_ context.Context, chunks []types.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	batch := b.index.NewBatch()
	for i := range chunks {
		chunk := &chunks[i]
		doc := bleveDoc{
			Content:     chunk.Content,
			SourceURL:   chunk.SourceIdentifier,
			ChunkIndex:  chunk.Index,
			HasCode:     chunk.HasCode,
			TokenCount:  chunk.TokenCount,
			ContentHash: hex.EncodeToString(chunk.ContentHash[:]),
		}
		if err := batch.Index(bleveDocID(chunk), doc); err != nil {
			return 0, fmt.Errorf("failed to add chunk %s to batch: %w", bleveDocID(chunk), err)
		}
	}

	size := batch.Size()
	if err := b.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to index batch: %w", err)
	}
	return size, nil
}

// SearchText runs a match query over chunk content
func (b *BleveSink) SearchText(ctx context.Context, text string, limit int, filters *SearchFilters) ([]TextResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	match := bleve.NewMatchQuery(text)
	match.SetField("content")
	queries := []query.Query{match}

	if filters != nil {
		if filters.SourcePrefix != "" {
			prefix := bleve.NewPrefixQuery(filters.SourcePrefix)
			prefix.SetField("source_url")
			queries = append(queries, prefix)
		}
		if filters.CodeOnly {
			code := bleve.NewBoolFieldQuery(true)
			code.SetField("has_code")
			queries = append(queries, code)
		}
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(queries...), limit, 0, false)
	req.Fields = []string{"*"}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]TextResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, TextResult{
			Chunk: chunkFromFields(hit.Fields),
			Score: hit.Score,
		})
	}
	return results, nil
}

func chunkFromFields(fields map[string]interface{}) types.Chunk {
	var chunk types.Chunk

	if content, ok := fields["content"].(string); ok {
		chunk.Content = content
	}
	if url, ok := fields["source_url"].(string); ok {
		chunk.SourceIdentifier = url
	}
	if index, ok := fields["chunk_index"].(float64); ok {
		chunk.Index = int(index)
	}
	if hasCode, ok := fields["has_code"].(bool); ok {
		chunk.HasCode = hasCode
	}
	if tokens, ok := fields["token_count"].(float64); ok {
		chunk.TokenCount = int(tokens)
	}
	if hash, ok := fields["content_hash"].(string); ok {
		if raw, err := hex.DecodeString(hash); err == nil {
			copy(chunk.ContentHash[:], raw)
		}
	}
	return chunk
}

// Status reports document counts
func (b *BleveSink) Status(ctx context.Context) (*Status, error) {
	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	code := bleve.NewBoolFieldQuery(true)
	code.SetField("has_code")
	res, err := b.index.SearchInContext(ctx, bleve.NewSearchRequestOptions(code, 0, 0, false))
	if err != nil {
		return nil, fmt.Errorf("failed to count code chunks: %w", err)
	}

	return &Status{
		Driver:     DriverBleve,
		Chunks:     int(count),
		CodeChunks: int(res.Total),
	}, nil
}

// Close closes the index
func (b *BleveSink) Close() error {
	return b.index.Close()
}
