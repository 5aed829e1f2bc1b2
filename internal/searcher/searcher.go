package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/basonpark/ether-guru/internal/embedder"
	"github.com/basonpark/ether-guru/internal/storage"
	"github.com/basonpark/ether-guru/pkg/types"
)

const (
	// DefaultLimit applies to text search when a request leaves Limit unset
	DefaultLimit = 10
	// MaxLimit is the largest accepted Limit
	MaxLimit = 100
	// DefaultMatchCount applies to vector and hybrid search when Limit is unset
	DefaultMatchCount = 5
	// DefaultCacheTTL is how long a cached response stays valid
	DefaultCacheTTL = time.Hour
	// RRFConstant is the k of Reciprocal Rank Fusion in hybrid mode
	RRFConstant = 60.0
)

// Mode selects how a query is matched
type Mode string

const (
	ModeText   Mode = "text"   // Keyword search (FTS5 BM25 or bleve)
	ModeVector Mode = "vector" // Cosine similarity of embeddings
	ModeHybrid Mode = "hybrid" // Text and vector merged with RRF
)

var (
	// ErrEmptyQuery is returned for a blank query
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrInvalidLimit is returned for a negative or oversized limit
	ErrInvalidLimit = fmt.Errorf("limit must be between 1 and %d", MaxLimit)
	// ErrInvalidThreshold is returned for a similarity threshold outside [-1, 1]
	ErrInvalidThreshold = errors.New("threshold must be between -1 and 1")
	// ErrInvalidMode is returned for an unknown mode
	ErrInvalidMode = errors.New("mode must be one of text, vector, hybrid")
	// ErrModeUnsupported is returned when the store cannot serve the requested mode
	ErrModeUnsupported = errors.New("search mode not supported by the configured sink")
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query     string
	Mode      Mode // Empty selects text when available, else vector
	Limit     int
	Threshold *float64 // Minimum cosine similarity; nil uses the configured threshold
	Filters   *storage.SearchFilters
	UseCache  bool // Whether to use the response cache
	CacheTTL  time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []types.SearchResult
	TotalResults  int
	Mode          Mode
	TextResults   int // Hits from keyword search before merging
	VectorResults int // Hits from vector search before merging
	Duration      time.Duration
	CacheHit      bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Options configures a Searcher. Text, Vector or both must be set;
// Vector needs Embedder to turn queries into vectors.
type Options struct {
	Text           storage.TextSearcher
	Vector         storage.VectorStore
	Embedder       embedder.Embedder
	CacheSize      int     // Zero disables the response cache
	MatchThreshold float64 // Default minimum similarity for vector hits
	MatchCount     int     // Default Limit for vector and hybrid search
}

// Searcher runs keyword, vector and hybrid search over stored chunks
type Searcher struct {
	text       storage.TextSearcher // nil when the sink has no keyword search
	vector     storage.VectorStore  // nil when embeddings are unavailable
	embedder   embedder.Embedder
	threshold  float64
	matchCount int

	cache   *lru.Cache[[32]byte, *cacheEntry] // nil when caching is disabled
	cacheMu sync.RWMutex
}

// NewSearcher creates a Searcher from opts
func NewSearcher(opts Options) (*Searcher, error) {
	if opts.Vector != nil && opts.Embedder == nil {
		return nil, errors.New("vector search requires an embedder")
	}
	if opts.Text == nil && opts.Vector == nil {
		return nil, errors.New("search backend is required")
	}
	if opts.MatchThreshold < -1 || opts.MatchThreshold > 1 {
		return nil, ErrInvalidThreshold
	}

	s := &Searcher{
		text:       opts.Text,
		vector:     opts.Vector,
		embedder:   opts.Embedder,
		threshold:  opts.MatchThreshold,
		matchCount: opts.MatchCount,
	}
	if s.matchCount <= 0 || s.matchCount > MaxLimit {
		s.matchCount = DefaultMatchCount
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[[32]byte, *cacheEntry](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create LRU cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Supports reports whether mode can be served
func (s *Searcher) Supports(mode Mode) bool {
	switch mode {
	case ModeText:
		return s.text != nil
	case ModeVector:
		return s.vector != nil
	case ModeHybrid:
		return s.text != nil && s.vector != nil
	default:
		return false
	}
}

// Modes lists the supported modes, default first
func (s *Searcher) Modes() []Mode {
	modes := make([]Mode, 0, 3)
	for _, m := range []Mode{s.defaultMode(), ModeText, ModeVector, ModeHybrid} {
		if s.Supports(m) && !slices.Contains(modes, m) {
			modes = append(modes, m)
		}
	}
	return modes
}

func (s *Searcher) defaultMode() Mode {
	if s.text != nil {
		return ModeText
	}
	return ModeVector
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}
	if !s.Supports(req.Mode) {
		return nil, fmt.Errorf("%w: %s", ErrModeUnsupported, req.Mode)
	}

	useCache := req.UseCache && s.cache != nil
	if useCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	var (
		response *SearchResponse
		err      error
	)
	switch req.Mode {
	case ModeText:
		response, err = s.textSearch(ctx, req)
	case ModeVector:
		response, err = s.vectorSearch(ctx, req)
	case ModeHybrid:
		response, err = s.hybridSearch(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	response.Mode = req.Mode
	response.TotalResults = len(response.Results)
	response.Duration = time.Since(startTime)

	if useCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}

	return response, nil
}

// textSearch performs keyword search only
func (s *Searcher) textSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	textResults, err := s.runTextSearch(ctx, req, req.Limit)
	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Results:     rankResults(textResults, req.Limit),
		TextResults: len(textResults),
	}, nil
}

func (s *Searcher) runTextSearch(ctx context.Context, req SearchRequest, limit int) ([]storage.TextResult, error) {
	textResults, err := s.text.SearchText(ctx, req.Query, limit, req.Filters)
	if errors.Is(err, storage.ErrEmptyQuery) {
		return nil, fmt.Errorf("invalid search request: %w", ErrEmptyQuery)
	}
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return textResults, nil
}

// vectorSearch ranks chunks by cosine similarity to the embedded query.
// Hits below the threshold are dropped.
func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vectorResults, err := s.runVectorSearch(ctx, req, req.Limit)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, len(vectorResults))
	for i, vr := range vectorResults {
		results[i] = types.SearchResult{
			Rank:           i + 1,
			RelevanceScore: clamp(vr.Similarity),
			Chunk:          vr.Chunk,
		}
	}

	return &SearchResponse{
		Results:       results,
		VectorResults: len(vectorResults),
	}, nil
}

func (s *Searcher) runVectorSearch(ctx context.Context, req SearchRequest, limit int) ([]storage.VectorResult, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	vectorResults, err := s.vector.SearchVector(ctx, storage.VectorQuery{
		Vector:        embedding.Vector,
		Model:         s.embedder.Model(),
		Limit:         limit,
		MinSimilarity: *req.Threshold,
		Filters:       req.Filters,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return vectorResults, nil
}

// hybridSearch runs keyword and vector search concurrently and merges them
// with Reciprocal Rank Fusion. One side failing still returns the other's hits.
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var (
		textResults   []storage.TextResult
		vectorResults []storage.VectorResult
		textErr       error
		vectorErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		textResults, textErr = s.runTextSearch(gctx, req, req.Limit*2)
		return nil
	})
	g.Go(func() error {
		vectorResults, vectorErr = s.runVectorSearch(gctx, req, req.Limit*2)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if textErr != nil && vectorErr != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vectorErr, textErr)
	}

	return &SearchResponse{
		Results:       applyRRF(textResults, vectorResults, req.Limit),
		TextResults:   len(textResults),
		VectorResults: len(vectorResults),
	}, nil
}

// chunkKey identifies a chunk across backends
type chunkKey struct {
	source string
	index  int
}

type fusedResult struct {
	chunk types.Chunk
	score float64
}

// applyRRF sums 1/(k + rank) over both result lists. Relevance is the fused
// score over the best possible score, a chunk ranked first by both.
func applyRRF(textResults []storage.TextResult, vectorResults []storage.VectorResult, limit int) []types.SearchResult {
	fused := make(map[chunkKey]*fusedResult)
	add := func(chunk types.Chunk, rank int) {
		key := chunkKey{source: chunk.SourceIdentifier, index: chunk.Index}
		f, ok := fused[key]
		if !ok {
			f = &fusedResult{chunk: chunk}
			fused[key] = f
		}
		f.score += 1.0 / (RRFConstant + float64(rank))
	}
	for i, vr := range vectorResults {
		add(vr.Chunk, i+1)
	}
	for i, tr := range textResults {
		add(tr.Chunk, i+1)
	}

	ranked := make([]*fusedResult, 0, len(fused))
	for _, f := range fused {
		ranked = append(ranked, f)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].chunk.SourceIdentifier != ranked[j].chunk.SourceIdentifier {
			return ranked[i].chunk.SourceIdentifier < ranked[j].chunk.SourceIdentifier
		}
		return ranked[i].chunk.Index < ranked[j].chunk.Index
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	best := 2.0 / (RRFConstant + 1)
	results := make([]types.SearchResult, len(ranked))
	for i, f := range ranked {
		results[i] = types.SearchResult{
			Rank:           i + 1,
			RelevanceScore: clamp(f.score / best),
			Chunk:          f.chunk,
		}
	}
	return results
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// rankResults assigns 1-based ranks and scales backend scores to [0, 1]
// relative to the best hit
func rankResults(textResults []storage.TextResult, limit int) []types.SearchResult {
	if len(textResults) > limit {
		textResults = textResults[:limit]
	}

	top := 0.0
	for _, tr := range textResults {
		if tr.Score > top {
			top = tr.Score
		}
	}

	results := make([]types.SearchResult, len(textResults))
	for i, tr := range textResults {
		results[i] = types.SearchResult{
			Rank:           i + 1,
			RelevanceScore: normalizeScore(tr.Score, top, i+1),
			Chunk:          tr.Chunk,
		}
	}
	return results
}

func normalizeScore(score, top float64, rank int) float64 {
	if top <= 0 {
		return 1 / float64(rank)
	}
	return clamp(score / top)
}

// validateRequest ensures search request is valid, filling defaults
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	switch req.Mode {
	case "":
		req.Mode = s.defaultMode()
	case ModeText, ModeVector, ModeHybrid:
	default:
		return ErrInvalidMode
	}

	switch {
	case req.Limit == 0 && req.Mode == ModeText:
		req.Limit = DefaultLimit
	case req.Limit == 0:
		req.Limit = s.matchCount
	case req.Limit < 0, req.Limit > MaxLimit:
		return ErrInvalidLimit
	}

	threshold := s.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < -1 || threshold > 1 {
		return ErrInvalidThreshold
	}
	req.Threshold = &threshold

	if req.CacheTTL <= 0 {
		req.CacheTTL = DefaultCacheTTL
	}

	return nil
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a copy that shares no slices with src
func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	copy(dst.Results, src.Results)
	return &dst
}

// computeQueryHash keys the cache on everything that affects the results
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	fmt.Fprintf(&data, "%s|%s|%d", req.Mode, req.Query, req.Limit)
	if req.Mode != ModeText {
		fmt.Fprintf(&data, "|threshold:%g", *req.Threshold)
	}
	if req.Filters != nil {
		fmt.Fprintf(&data, "|filters:%s|%t", req.Filters.SourcePrefix, req.Filters.CodeOnly)
	}
	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache drops every cached response. Call it after ingestion.
func (s *Searcher) InvalidateCache() {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached responses
func (s *Searcher) CacheLen() int {
	if s.cache == nil {
		return 0
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
