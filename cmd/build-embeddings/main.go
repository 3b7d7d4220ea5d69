package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"traffic-fine-chatbot/config"
	"traffic-fine-chatbot/llm"
	"traffic-fine-chatbot/logging"
	"traffic-fine-chatbot/repository"
	"traffic-fine-chatbot/service"
	"traffic-fine-chatbot/storage"

	"github.com/google/generative-ai-go/genai"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type ingestOptions struct {
	input     string
	output    string
	workers   int
	batchSize int
	noCache   bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(cfg, logger).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	opts := &ingestOptions{}

	root := &cobra.Command{
		Use:   "build-embeddings",
		Short: "Parse the traffic law document and build the knowledge base artifact",
		Long: "Reads a .docx or .txt law document from storage, parses it into sections, " +
			"articles and clauses, embeds every detail line and writes the annotated JSON artifact.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), cfg, logger, opts)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.input, "input", "i", "law_data.docx", "storage key of the source document")
	flags.StringVarP(&opts.output, "output", "o", cfg.Storage.ArtifactKey, "storage key of the artifact to write")
	flags.IntVarP(&opts.workers, "workers", "w", cfg.Ingest.Workers, "concurrent embedding batches")
	flags.IntVarP(&opts.batchSize, "batch-size", "b", cfg.Ingest.BatchSize, "details per embedding request (max 100)")
	flags.BoolVar(&opts.noCache, "no-cache", false, "bypass the redis embedding cache")

	root.AddCommand(newStatsCommand(cfg, logger), newCacheCommand(cfg, logger))
	return root
}

func runIngest(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts *ingestOptions) error {
	if cfg.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required to build embeddings")
	}

	fileStorage, err := storage.NewStorage(ctx, cfg.StorageBackend())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Gemini.APIKey))
	if err != nil {
		return fmt.Errorf("failed to initialize Gemini: %w", err)
	}
	defer client.Close()

	var embedder llm.Embedder = llm.NewResilientEmbedder(
		llm.NewGeminiEmbedder(client, cfg.Gemini.EmbeddingModel, logger),
		cfg.LLMRetryPolicy(),
		logger,
	)
	if cacheCfg := cfg.EmbeddingCache(); cacheCfg.Enabled && !opts.noCache {
		rdb, err := newRedisClient(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		embedder = llm.NewCachedEmbedder(embedder, rdb, cacheCfg, logger)
	}

	ingest := service.NewIngestService(
		service.IngestWithStorage(fileStorage),
		service.IngestWithArtifactStore(repository.NewKnowledgeBaseRepository(fileStorage)),
		service.IngestWithAnnotator(service.NewAnnotator(embedder,
			service.AnnotateWithWorkers(opts.workers),
			service.AnnotateWithBatchSize(opts.batchSize),
			service.AnnotateWithLogger(logger),
		)),
		service.IngestWithLogger(logger),
	)

	report, err := ingest.Ingest(ctx, service.IngestRequest{InputKey: opts.input, OutputKey: opts.output})
	if err != nil {
		logger.Error("Ingestion failed, no artifact written", zap.Error(err))
		return err
	}

	fmt.Printf("Run %s: %d sections, %d articles, %d clauses, %d details embedded in %s -> %s\n",
		report.RunID, report.Stats.Sections, report.Stats.Articles, report.Stats.Clauses,
		report.Embedded, report.Duration.Round(time.Millisecond), opts.output)
	return nil
}

func newStatsCommand(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var artifact string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Validate an artifact and print its size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileStorage, err := storage.NewStorage(cmd.Context(), cfg.StorageBackend())
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}

			kb, err := service.NewKnowledgeBaseLoader(repository.NewKnowledgeBaseRepository(fileStorage), logger).
				Load(cmd.Context(), artifact)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d entries, dimension %d\n", artifact, kb.Len(), kb.Dimension())
			return nil
		},
	}
	cmd.Flags().StringVarP(&artifact, "artifact", "a", cfg.Storage.ArtifactKey, "storage key of the artifact")
	return cmd
}

func newCacheCommand(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the redis embedding cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached embedding",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Cache.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is not set")
			}
			rdb, err := newRedisClient(cfg)
			if err != nil {
				return err
			}
			defer rdb.Close()

			n, err := llm.NewCachedEmbedder(nil, rdb, cfg.EmbeddingCache(), logger).Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d cached embeddings\n", n)
			return nil
		},
	})
	return cmd
}

func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}
