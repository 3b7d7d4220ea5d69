package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"traffic-fine-chatbot/config"
	"traffic-fine-chatbot/handlers"
	"traffic-fine-chatbot/llm"
	"traffic-fine-chatbot/logging"
	"traffic-fine-chatbot/repository"
	"traffic-fine-chatbot/service"
	"traffic-fine-chatbot/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

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

	// Initialize storage
	fileStorage, err := storage.NewStorage(ctx, cfg.StorageBackend())
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	logger.Info("Storage initialized", zap.String("type", cfg.Storage.Type))

	// Load the knowledge base before accepting any traffic
	kbRepo := repository.NewKnowledgeBaseRepository(fileStorage)
	kb, err := service.NewKnowledgeBaseLoader(kbRepo, logger).Load(ctx, cfg.Storage.ArtifactKey)
	if err != nil {
		logger.Fatal("Failed to load knowledge base",
			zap.String("artifact", cfg.Storage.ArtifactKey),
			zap.Error(err),
		)
	}

	// Initialize Gemini client
	geminiClient, err := initGemini(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Gemini", zap.Error(err))
	}
	defer geminiClient.Close()

	embedder, closeCache, err := initEmbedder(ctx, cfg, geminiClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize embedder", zap.Error(err))
	}
	defer closeCache()

	generator := llm.NewResilientGenerator(
		llm.NewGeminiGenerator(geminiClient, cfg.Gemini.ChatModel, float32(cfg.Gemini.Temperature), logger),
		cfg.LLMRetryPolicy(),
		logger,
	)

	// Initialize services
	retriever := service.NewRetriever(kb, embedder, logger)
	chatService := service.NewChatService(
		service.ChatWithDecomposer(service.NewQuestionDecomposer(generator, logger)),
		service.ChatWithRetriever(retriever),
		service.ChatWithSynthesizer(service.NewAnswerSynthesizer(generator, logger)),
		service.ChatWithLogger(logger),
		service.ChatWithTopK(cfg.Retrieval.TopK),
		service.ChatWithMaxParallel(cfg.Retrieval.MaxParallel),
	)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(
		handlers.NewChatHandler(chatService, retriever, logger),
		handlers.NewHealthHandler(kb),
		logger,
	)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}

func initGemini(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*genai.Client, error) {
	if cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Gemini.APIKey))
	if err != nil {
		return nil, err
	}

	logger.Info("Gemini client initialized",
		zap.String("chat_model", cfg.Gemini.ChatModel),
		zap.String("embedding_model", cfg.Gemini.EmbeddingModel),
	)
	return client, nil
}

// initEmbedder wraps the Gemini embedder with retries and, when REDIS_URL is
// set, a read-through cache for repeated questions.
func initEmbedder(ctx context.Context, cfg *config.Config, client *genai.Client, logger *zap.Logger) (llm.Embedder, func(), error) {
	var embedder llm.Embedder = llm.NewResilientEmbedder(
		llm.NewGeminiEmbedder(client, cfg.Gemini.EmbeddingModel, logger),
		cfg.LLMRetryPolicy(),
		logger,
	)

	cacheCfg := cfg.EmbeddingCache()
	if !cacheCfg.Enabled {
		return embedder, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		// cache errors fall through to the provider
		logger.Warn("Redis not reachable, embedding cache will miss", zap.Error(err))
	} else {
		logger.Info("Embedding cache enabled", zap.Duration("ttl", cacheCfg.TTL))
	}

	cached := llm.NewCachedEmbedder(embedder, rdb, cacheCfg, logger)
	return cached, func() { rdb.Close() }, nil
}
