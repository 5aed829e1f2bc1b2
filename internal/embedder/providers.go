package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/go-resty/resty/v2"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hash"

	// Default endpoints; the request path is appended
	DefaultJinaBaseURL   = "https://api.jina.ai"
	DefaultOpenAIBaseURL = "https://api.openai.com"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	DefaultCacheSize = 10000

	// Retry configuration
	InitialBackoff = 100 * time.Millisecond
	MaxBackoff     = 5 * time.Second
	DefaultTimeout = 30 * time.Second
)

const embeddingsRoute = "/v1/embeddings"

// ProviderOptions configures a remote provider. Zero values take the
// provider defaults.
type ProviderOptions struct {
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int // Requested output dimension; 0 keeps the model default
	Timeout   time.Duration
	Retries   int
}

// remoteProvider talks to an OpenAI-compatible /v1/embeddings endpoint
type remoteProvider struct {
	name       string
	model      string
	dimension  int
	requestDim int
	client     *resty.Client
	cache      *Cache
}

func newRemoteProvider(name, model string, dimension int, baseURL string, opts ProviderOptions, cache *Cache) (*remoteProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s api key not set", ErrNoProviderEnabled, name)
	}
	if opts.Model != "" {
		model = opts.Model
	}
	if opts.BaseURL != "" {
		baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Dimension > 0 {
		dimension = opts.Dimension
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(opts.APIKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(retries).
		SetRetryWaitTime(InitialBackoff).
		SetRetryMaxWaitTime(MaxBackoff).
		AddRetryCondition(retryCondition)

	return &remoteProvider{
		name:       name,
		model:      model,
		dimension:  dimension,
		requestDim: opts.Dimension,
		client:     client,
		cache:      cache,
	}, nil
}

// retryCondition retries network errors, rate limits and server errors.
// Other client errors fail immediately.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests
}

type embeddingsRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *remoteProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch embeds the texts that are not cached with a single API call
func (p *remoteProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	hashes := make([]string, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		hashes[i] = ComputeHash(text)
		if p.cache != nil {
			if emb, ok := p.cache.Get(hashes[i]); ok {
				embeddings[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = req.Texts[i]
		}

		vectors, err := p.callAPI(ctx, texts)
		if err != nil {
			return nil, err
		}

		for j, i := range missing {
			emb := &Embedding{
				Vector:    vectors[j],
				Dimension: len(vectors[j]),
				Provider:  p.name,
				Model:     p.model,
				Hash:      hashes[i],
			}
			embeddings[i] = emb
			if p.cache != nil {
				p.cache.Set(hashes[i], emb)
			}
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      p.model,
	}, nil
}

func (p *remoteProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	var out embeddingsResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(embeddingsRequest{Input: texts, Model: p.model, Dimensions: p.requestDim}).
		SetResult(&out).
		Post(embeddingsRoute)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrProviderFailed, p.name, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts", ErrProviderFailed, p.name, len(out.Data), len(texts))
	}

	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: %s returned an empty embedding at index %d", ErrProviderFailed, p.name, d.Index)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (p *remoteProvider) Dimension() int {
	return p.dimension
}

func (p *remoteProvider) Provider() string {
	return p.name
}

func (p *remoteProvider) Model() string {
	return p.model
}

func (p *remoteProvider) Close() error {
	p.client.GetClient().CloseIdleConnections()
	return nil
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API
type OpenAIProvider struct {
	*remoteProvider
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(opts ProviderOptions, cache *Cache) (*OpenAIProvider, error) {
	p, err := newRemoteProvider(ProviderOpenAI, DefaultOpenAIModel, OpenAIDimension, DefaultOpenAIBaseURL, opts, cache)
	if err != nil {
		return nil, err
	}
	return &OpenAIProvider{remoteProvider: p}, nil
}

// JinaProvider implements Embedder using the Jina AI embeddings API
type JinaProvider struct {
	*remoteProvider
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(opts ProviderOptions, cache *Cache) (*JinaProvider, error) {
	p, err := newRemoteProvider(ProviderJina, DefaultJinaModel, JinaDimension, DefaultJinaBaseURL, opts, cache)
	if err != nil {
		return nil, err
	}
	return &JinaProvider{remoteProvider: p}, nil
}

// LocalProvider embeds text offline by hashing its words into a fixed number
// of buckets. Texts that share vocabulary land close together, which is
// enough for tests and for search without an API key.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder. A dimension of 0 uses LocalDimension.
func NewLocalProvider(dimension int, cache *Cache) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     fmt.Sprintf("%s-%d", DefaultLocalModel, dimension),
		dimension: dimension,
		cache:     cache,
	}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    l.vectorize(req.Text),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Set(hash, emb)
	}
	return emb, nil
}

// vectorize counts each lowercased word in a signed bucket and normalizes the result
func (l *LocalProvider) vectorize(text string) []float32 {
	vector := make([]float32, l.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, word := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()

		bucket := int(sum % uint64(l.dimension))
		if sum>>63 == 1 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}
	return NormalizeVector(vector)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}
