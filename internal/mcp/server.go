package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/basonpark/ether-guru/internal/chunker"
	"github.com/basonpark/ether-guru/internal/config"
	"github.com/basonpark/ether-guru/internal/embedder"
	"github.com/basonpark/ether-guru/internal/indexer"
	"github.com/basonpark/ether-guru/internal/ingest"
	"github.com/basonpark/ether-guru/internal/searcher"
	"github.com/basonpark/ether-guru/internal/storage"
	"github.com/basonpark/ether-guru/pkg/logger"
)

const (
	// ServerName is the MCP server name
	ServerName = "ether-guru"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	cfg      *config.Config
	sink     storage.Sink
	chunker  *chunker.Chunker
	pipeline *ingest.Pipeline
	searcher *searcher.Searcher // nil when the sink cannot search
	embedder embedder.Embedder  // nil when the sink cannot store vectors
	lock     indexer.IndexLock
	log      logger.Logger
}

// NewServer opens the configured sink and creates a server around it
func NewServer(ctx context.Context, cfg *config.Config, log logger.Logger) (*Server, error) {
	sink, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.Sink.Driver,
		Path:        cfg.Sink.Path,
		DSN:         cfg.Sink.DSN,
		Table:       cfg.Sink.Table,
		VectorTable: cfg.Sink.VectorTable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	s, err := newServerWithSink(cfg, sink, log)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	return s, nil
}

func newServerWithSink(cfg *config.Config, sink storage.Sink, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.GetDefault()
	}

	c, err := chunker.New(chunker.Options{SizeBudget: cfg.Chunk.Size, Overlap: cfg.Chunk.Overlap})
	if err != nil {
		return nil, fmt.Errorf("invalid chunk settings: %w", err)
	}

	var emb embedder.Embedder
	if _, ok := sink.(storage.VectorStore); ok {
		emb, err = embedder.New(cfg.Embed)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	s := &Server{
		cfg:      cfg,
		sink:     sink,
		chunker:  c,
		embedder: emb,
		log:      log,
	}

	s.pipeline, err = s.newPipeline(false)
	if err != nil {
		s.closeEmbedder()
		return nil, err
	}

	s.searcher, err = s.newSearcher()
	if err != nil {
		s.closeEmbedder()
		return nil, fmt.Errorf("failed to create searcher: %w", err)
	}
	if s.searcher == nil {
		log.Warn("Sink does not support search; search_docs is disabled", "driver", cfg.Sink.Driver)
	}

	s.mcp = server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false))
	s.registerTools()
	return s, nil
}

// newPipeline builds an ingestion pipeline, with the embed stage when the sink stores vectors
func (s *Server) newPipeline(force bool) (*ingest.Pipeline, error) {
	pipeline, err := ingest.NewPipeline(s.chunker, s.sink, indexer.Config{
		Workers:   s.cfg.Index.Workers,
		BatchSize: s.cfg.Sink.BatchSize,
		Force:     force,
	}, s.log)
	if err != nil {
		return nil, err
	}
	if s.embedder != nil {
		if err := pipeline.WithEmbedder(s.embedder, indexer.EmbedConfig{
			BatchSize:       s.cfg.Embed.BatchSize,
			UpsertBatchSize: s.cfg.Embed.UpsertBatchSize,
		}); err != nil {
			return nil, err
		}
	}
	return pipeline, nil
}

// newSearcher returns nil when the sink supports neither keyword nor vector search
func (s *Server) newSearcher() (*searcher.Searcher, error) {
	opts := searcher.Options{
		CacheSize:      s.cfg.Search.CacheSize,
		MatchThreshold: s.cfg.Search.MatchThreshold,
		MatchCount:     s.cfg.Search.MatchCount,
	}
	if text, ok := s.sink.(storage.TextSearcher); ok {
		opts.Text = text
	}
	if vector, ok := s.sink.(storage.VectorStore); ok && s.embedder != nil {
		opts.Vector = vector
		opts.Embedder = s.embedder
	}
	if opts.Text == nil && opts.Vector == nil {
		return nil, nil
	}
	return searcher.NewSearcher(opts)
}

// Serve runs the MCP server on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("MCP server listening on stdio", "name", ServerName, "version", ServerVersion, "driver", s.cfg.Sink.Driver)

	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the embedder and the sink
func (s *Server) Close() error {
	s.closeEmbedder()
	return s.sink.Close()
}

func (s *Server) closeEmbedder() {
	if s.embedder == nil {
		return
	}
	if err := s.embedder.Close(); err != nil {
		s.log.Warn("Failed to close embedder", "error", err)
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(ingestDocsTool(), s.handleIngestDocs)
	s.mcp.AddTool(searchDocsTool(), s.handleSearchDocs)
	s.mcp.AddTool(chunkTextTool(), s.handleChunkText)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
