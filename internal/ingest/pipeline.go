// Package ingest wires a page source to the indexer: a site crawl or a local
// markdown glob on one side, chunking and storage on the other.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/basonpark/ether-guru/internal/chunker"
	"github.com/basonpark/ether-guru/internal/config"
	"github.com/basonpark/ether-guru/internal/crawler"
	"github.com/basonpark/ether-guru/internal/embedder"
	"github.com/basonpark/ether-guru/internal/indexer"
	"github.com/basonpark/ether-guru/internal/storage"
	"github.com/basonpark/ether-guru/pkg/logger"
	"github.com/basonpark/ether-guru/pkg/types"
)

// ErrEmbedUnsupported is returned when embedding is requested but no
// embedder is configured or the sink cannot store vectors
var ErrEmbedUnsupported = errors.New("ingest: embedding is not available for this sink")

// Source selects where pages come from. When Glob is set, files under Root
// are read instead of crawling. Embed runs the embedding stage afterwards.
type Source struct {
	Crawl config.CrawlConfig
	Root  string
	Glob  string
	Embed bool
}

// Pipeline runs one ingestion from a Source into a sink
type Pipeline struct {
	chunker *chunker.Chunker
	sink    storage.Sink
	index   indexer.Config
	log     logger.Logger

	embedder embedder.Embedder // nil disables the embed stage
	embed    indexer.EmbedConfig
}

// Result summarizes an ingestion run
type Result struct {
	Crawl      *crawler.Stats // nil for local sources
	LocalFiles int
	Index      *indexer.Statistics
	Embed      *indexer.EmbedStatistics // nil unless the embed stage ran
	Duration   time.Duration
}

// NewPipeline validates its dependencies
func NewPipeline(c *chunker.Chunker, sink storage.Sink, index indexer.Config, log logger.Logger) (*Pipeline, error) {
	if c == nil {
		return nil, errors.New("ingest: chunker is required")
	}
	if sink == nil {
		return nil, errors.New("ingest: sink is required")
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Pipeline{chunker: c, sink: sink, index: index, log: log}, nil
}

// WithEmbedder enables the embed stage. The sink must implement storage.VectorStore.
func (p *Pipeline) WithEmbedder(emb embedder.Embedder, cfg indexer.EmbedConfig) error {
	if _, ok := p.sink.(storage.VectorStore); !ok {
		return ErrEmbedUnsupported
	}
	p.embedder = emb
	p.embed = cfg
	return nil
}

// CanEmbed reports whether Source.Embed is honoured
func (p *Pipeline) CanEmbed() bool {
	return p.embedder != nil
}

// Embed embeds every stored chunk that lacks an embedding for the configured model
func (p *Pipeline) Embed(ctx context.Context) (*indexer.EmbedStatistics, error) {
	store, ok := p.sink.(storage.VectorStore)
	if !ok || p.embedder == nil {
		return nil, ErrEmbedUnsupported
	}
	return indexer.Embed(ctx, store, p.embedder, p.log, &p.embed)
}

// Run ingests every page from src, then embeds the new chunks when src.Embed
// is set. Page-level and embedding-batch failures are reported in the result;
// only invalid sources, store failures while embedding and cancellation
// return an error.
func (p *Pipeline) Run(ctx context.Context, src Source) (*Result, error) {
	if src.Embed && !p.CanEmbed() {
		return nil, ErrEmbedUnsupported
	}

	startTime := time.Now()
	result, err := p.runIndex(ctx, src)
	if err == nil && src.Embed {
		result.Embed, err = p.Embed(ctx)
	}
	if result != nil {
		result.Duration = time.Since(startTime)
	}
	return result, err
}

func (p *Pipeline) runIndex(ctx context.Context, src Source) (*Result, error) {
	idx := indexer.New(p.chunker, p.sink, p.log, &p.index)
	result := &Result{}

	if src.Glob != "" {
		pages, err := crawler.LoadMarkdownGlob(ctx, src.Root, src.Glob)
		if err != nil {
			return nil, err
		}
		result.LocalFiles = len(pages)
		p.log.Info("Loaded local pages", "root", src.Root, "pattern", src.Glob, "files", len(pages))

		ch := make(chan types.Page, len(pages))
		for _, page := range pages {
			ch <- page
		}
		close(ch)

		result.Index, err = idx.IndexPages(ctx, ch)
		return result, err
	}

	c, err := crawler.New(src.Crawl, p.log)
	if err != nil {
		return nil, err
	}

	pages := make(chan types.Page, src.Crawl.Concurrency)
	crawlDone := make(chan error, 1)
	go func() {
		stats, err := c.Crawl(ctx, pages)
		result.Crawl = stats
		crawlDone <- err
	}()

	result.Index, err = idx.IndexPages(ctx, pages)
	if err != nil {
		// Unblock the crawler if it is still sending
		for range pages {
		}
	}
	crawlErr := <-crawlDone

	if err != nil {
		return result, err
	}
	return result, crawlErr
}
