package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/basonpark/ether-guru/internal/chunker"
	"github.com/basonpark/ether-guru/internal/crawler"
	"github.com/basonpark/ether-guru/internal/embedder"
	"github.com/basonpark/ether-guru/internal/indexer"
	"github.com/basonpark/ether-guru/internal/ingest"
	"github.com/basonpark/ether-guru/internal/mcp"
	"github.com/basonpark/ether-guru/internal/storage"
)

func crawlCmd(a *app) *cobra.Command {
	var (
		startURL string
		glob     string
		root     string
		maxDepth int
		force    bool
		embed    bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a documentation site (or local markdown) and store its chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			src := ingest.Source{Crawl: a.cfg.Crawl, Root: root, Glob: glob, Embed: embed}
			if startURL != "" {
				src.Crawl.StartURL = startURL
			}
			if cmd.Flags().Changed("max-depth") {
				src.Crawl.MaxDepth = maxDepth
			}
			if src.Glob == "" && src.Crawl.StartURL == "" {
				return fmt.Errorf("either --start-url or --glob is required")
			}

			return runCrawl(ctx, cmd, a, src, force)
		},
	}

	cmd.Flags().StringVar(&startURL, "start-url", "", "page to start crawling from (overrides ETHERGURU_CRAWL_START_URL)")
	cmd.Flags().StringVar(&glob, "glob", "", "ingest local markdown files matching this pattern instead of crawling")
	cmd.Flags().StringVar(&root, "root", ".", "directory the --glob pattern is matched in")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "link depth to follow; 0 fetches only the start page")
	cmd.Flags().BoolVar(&force, "force", false, "re-chunk pages even when their content is unchanged")
	cmd.Flags().BoolVar(&embed, "embed", false, "embed the stored chunks after ingesting")
	return cmd
}

func runCrawl(ctx context.Context, cmd *cobra.Command, a *app, src ingest.Source, force bool) error {
	c, err := chunker.New(chunker.Options{SizeBudget: a.cfg.Chunk.Size, Overlap: a.cfg.Chunk.Overlap})
	if err != nil {
		return fmt.Errorf("invalid chunk settings: %w", err)
	}

	sink, err := openSink(ctx, a)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			a.log.Warn("Failed to close sink", "error", cerr)
		}
	}()

	pipeline, err := ingest.NewPipeline(c, sink, indexer.Config{
		Workers:   a.cfg.Index.Workers,
		BatchSize: a.cfg.Sink.BatchSize,
		Force:     force,
	}, a.log)
	if err != nil {
		return err
	}
	if src.Embed {
		emb, err := attachEmbedder(a, pipeline)
		if err != nil {
			return err
		}
		defer func() { _ = emb.Close() }()
	}

	result, err := pipeline.Run(ctx, src)
	if result != nil {
		printSummary(cmd, result)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func printSummary(cmd *cobra.Command, result *ingest.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "--- Ingestion Summary ---")
	if result.Crawl != nil {
		fmt.Fprintf(out, "Pages fetched:       %d\n", result.Crawl.PagesFetched)
		fmt.Fprintf(out, "Pages failed:        %d\n", result.Crawl.PagesFailed)
	} else {
		fmt.Fprintf(out, "Local files:         %d\n", result.LocalFiles)
	}
	if stats := result.Index; stats != nil {
		fmt.Fprintf(out, "Pages processed:     %d\n", stats.PagesProcessed)
		fmt.Fprintf(out, "Pages unchanged:     %d\n", stats.PagesUnchanged)
		fmt.Fprintf(out, "Chunks created:      %d\n", stats.ChunksCreated)
		fmt.Fprintf(out, "Chunks inserted:     %d\n", stats.ChunksInserted)
		if stats.BatchesFailed > 0 {
			fmt.Fprintf(out, "Batches failed:      %d\n", stats.BatchesFailed)
		}
	}
	if result.Embed != nil {
		printEmbedSummary(cmd, result.Embed)
	}
	fmt.Fprintf(out, "Duration:            %s\n", result.Duration.Round(time.Millisecond))
}

func printEmbedSummary(cmd *cobra.Command, stats *indexer.EmbedStatistics) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Embedding model:     %s\n", stats.Model)
	fmt.Fprintf(out, "Chunks pending:      %d\n", stats.ChunksPending)
	fmt.Fprintf(out, "Chunks embedded:     %d\n", stats.ChunksEmbedded)
	fmt.Fprintf(out, "Embeddings stored:   %d\n", stats.EmbeddingsStored)
	if stats.BatchesFailed > 0 {
		fmt.Fprintf(out, "Embed batches failed: %d\n", stats.BatchesFailed)
	}
}

// attachEmbedder enables the embed stage of pipeline; the caller closes the embedder
func attachEmbedder(a *app, pipeline *ingest.Pipeline) (embedder.Embedder, error) {
	emb, err := embedder.New(a.cfg.Embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	if err := pipeline.WithEmbedder(emb, indexer.EmbedConfig{
		BatchSize:       a.cfg.Embed.BatchSize,
		UpsertBatchSize: a.cfg.Embed.UpsertBatchSize,
	}); err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("sink driver %s: %w", a.cfg.Sink.Driver, err)
	}
	a.log.Info("Embedding enabled", "provider", emb.Provider(), "model", emb.Model(), "dimension", emb.Dimension())
	return emb, nil
}

func embedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "embed",
		Short: "Embed stored chunks that have no embedding for the configured model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := chunker.New(chunker.Options{SizeBudget: a.cfg.Chunk.Size, Overlap: a.cfg.Chunk.Overlap})
			if err != nil {
				return fmt.Errorf("invalid chunk settings: %w", err)
			}

			sink, err := openSink(ctx, a)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := sink.Close(); cerr != nil {
					a.log.Warn("Failed to close sink", "error", cerr)
				}
			}()

			pipeline, err := ingest.NewPipeline(c, sink, indexer.Config{}, a.log)
			if err != nil {
				return err
			}
			emb, err := attachEmbedder(a, pipeline)
			if err != nil {
				return err
			}
			defer func() { _ = emb.Close() }()

			stats, err := pipeline.Embed(ctx)
			if stats != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "--- Embedding Summary ---")
				printEmbedSummary(cmd, stats)
				fmt.Fprintf(cmd.OutOrStdout(), "Duration:            %s\n", stats.Duration.Round(time.Millisecond))
			}
			if err != nil {
				return fmt.Errorf("embedding failed: %w", err)
			}
			return nil
		},
	}
}

// chunkLine is one JSON line of `etherguru chunk` output
type chunkLine struct {
	Source  string `json:"source"`
	Index   int    `json:"index"`
	Length  int    `json:"length"`
	HasCode bool   `json:"has_code"`
	Content string `json:"content"`
}

func chunkCmd(a *app) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Chunk one local file and print the chunks as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			text, err := crawler.ReadLocalFile(path)
			if err != nil {
				return err
			}

			c, err := chunker.New(chunker.Options{SizeBudget: a.cfg.Chunk.Size, Overlap: a.cfg.Chunk.Overlap})
			if err != nil {
				return fmt.Errorf("invalid chunk settings: %w", err)
			}

			if source == "" {
				source = filepath.ToSlash(path)
			}
			chunks := c.ChunkText(source, text)
			a.log.Debug("Chunked file", "path", path, "chunks", len(chunks))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			for i := range chunks {
				if err := enc.Encode(chunkLine{
					Source:  chunks[i].SourceIdentifier,
					Index:   chunks[i].Index,
					Length:  chunks[i].Length(),
					HasCode: chunks[i].HasCode,
					Content: chunks[i].Content,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source identifier for the chunks (default: the file path)")
	return cmd
}

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the ingest and search tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.log.Info("Starting MCP server", "version", version, "build_mode", storage.BuildMode, "driver", storage.DriverName)

			server, err := mcp.NewServer(ctx, a.cfg, a.log)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer func() {
				if cerr := server.Close(); cerr != nil {
					a.log.Warn("Failed to close server", "error", cerr)
				}
			}()

			if err := server.Serve(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			a.log.Info("Server stopped")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ether-guru\n")
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

func openSink(ctx context.Context, a *app) (storage.Sink, error) {
	a.log.Info("Opening sink", "driver", a.cfg.Sink.Driver, "target", sinkTarget(a))
	sink, err := storage.Open(ctx, storage.Options{
		Driver:      a.cfg.Sink.Driver,
		Path:        a.cfg.Sink.Path,
		DSN:         a.cfg.Sink.DSN,
		Table:       a.cfg.Sink.Table,
		VectorTable: a.cfg.Sink.VectorTable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sink: %w", err)
	}
	return sink, nil
}

func sinkTarget(a *app) string {
	if a.cfg.Sink.Driver == storage.DriverPostgres {
		return a.cfg.Sink.RedactedDSN()
	}
	return a.cfg.Sink.Path
}
