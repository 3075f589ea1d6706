package docuseek

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/docuseek/docuseek/internal/docuseek/biz"
	"github.com/docuseek/docuseek/internal/docuseek/handler"
	"github.com/docuseek/docuseek/internal/docuseek/router"
	"github.com/docuseek/docuseek/internal/docuseek/store"
	"github.com/docuseek/docuseek/internal/pkg/docutil"
	"github.com/docuseek/docuseek/internal/pkg/parser"
	milvuscomp "github.com/docuseek/docuseek/pkg/component/milvus"
	"github.com/docuseek/docuseek/pkg/infra/app"
	"github.com/docuseek/docuseek/pkg/infra/pool"
	"github.com/docuseek/docuseek/pkg/llm"

	// 导入 LLM 供应商以自动注册
	_ "github.com/docuseek/docuseek/pkg/llm/ollama"
	_ "github.com/docuseek/docuseek/pkg/llm/openai"
)

const (
	appName        = "docuseek"
	appDescription = `Docuseek knowledge base service.

This server provides:
  - Document ingestion with chunking and vector embeddings
  - Semantic similarity search with relevance filtering
  - Retrieval-augmented question answering`

	shutdownTimeout = 10 * time.Second
)

// NewApp creates a new application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts)
		}),
	)
}

// Run runs the docuseek service with the given options.
func Run(opts *Options) error {
	// 1. 初始化日志
	opts.Log.AddInitialField("service.name", appName)
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting docuseek service...")

	// 2. 初始化向量索引
	index, closeIndex, err := buildIndex(opts)
	if err != nil {
		return err
	}
	defer closeIndex()

	// 3. 初始化 Redis 客户端（缓存启用时）
	redisClient := buildRedis(opts)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// 4. 初始化 LLM 供应商
	embedder, err := llm.NewEmbeddingProvider(opts.Embedding.Provider, opts.Embedding.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	if opts.Cache.EmbeddingEnabled && redisClient != nil {
		embedder = llm.NewCachedEmbeddingProvider(embedder, redisClient, &llm.EmbeddingCacheConfig{
			Enabled:   true,
			TTL:       opts.Cache.EmbeddingTTL,
			KeyPrefix: "docuseek:emb:",
		})
	}

	chat, err := llm.NewChatProvider(opts.Chat.Provider, opts.Chat.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to create chat provider: %w", err)
	}
	logger.Infow("LLM providers initialized",
		"embedding", embedder.Name(),
		"chat", chat.Name(),
	)

	// 5. 建立集合
	ctx := context.Background()
	if err := index.CreateCollection(ctx, &store.CollectionConfig{
		Name:      opts.RAG.Collection,
		Dimension: opts.RAG.EmbeddingDim,
	}); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// 6. 初始化 Biz 层
	chunker, err := biz.NewChunker(opts.RAG.ChunkSize, opts.RAG.ChunkOverlap)
	if err != nil {
		return err
	}

	var queryCache *biz.QueryCache
	if opts.Cache.QueryEnabled && redisClient != nil {
		queryCache = biz.NewQueryCache(redisClient, &biz.QueryCacheConfig{
			Enabled:   true,
			TTL:       opts.Cache.QueryTTL,
			KeyPrefix: "docuseek:query:",
		})
	}

	engine, err := biz.NewEngine(chunker, index, embedder, chat, queryCache, &biz.EngineConfig{
		TopK:                opts.RAG.TopK,
		SimilarityThreshold: opts.RAG.SimilarityThreshold,
		MaxPromptLength:     opts.RAG.MaxPromptLength,
		Temperature:         opts.RAG.Temperature,
		MaxTokens:           opts.RAG.MaxTokens,
		SystemPrompt:        opts.RAG.SystemPrompt,
	})
	if err != nil {
		return err
	}
	logger.Info("Query engine initialized")

	// 7. 初始化上传目录与清理工作池
	if err := docutil.EnsureDir(opts.RAG.UploadDir); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}
	workers, err := pool.NewPool("upload-cleanup", pool.BackgroundConfig())
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer workers.Release()

	// 8. 初始化 Handler 层并注册路由
	registry, err := parser.NewRegistryWithExtensions(opts.RAG.AllowedExtensions)
	if err != nil {
		return fmt.Errorf("invalid rag.allowed-extensions: %w", err)
	}
	h := handler.NewHandler(engine, registry, workers, opts.RAG.UploadDir, opts.HTTP.MaxUploadSize)

	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	router.Register(g, h)

	// 9. 启动 HTTP 服务并等待退出信号
	return serve(g, opts)
}

// buildIndex 按配置选择向量索引后端。
func buildIndex(opts *Options) (store.VectorIndex, func(), error) {
	switch opts.RAG.StoreBackend {
	case StoreBackendMemory:
		logger.Warn("Using in-memory vector index, data will not survive restarts")
		return store.NewMemoryIndex(), func() {}, nil
	default:
		client, err := milvuscomp.New(opts.Milvus)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize milvus: %w", err)
		}
		logger.Infow("Milvus client initialized", "address", opts.Milvus.Address)
		closeFn := func() { _ = client.Close(context.Background()) }
		return store.NewMilvusIndex(client, opts.RAG.Collection), closeFn, nil
	}
}

// buildRedis 建立 Redis 连接，失败时降级为禁用缓存。
func buildRedis(opts *Options) *goredis.Client {
	if !opts.Cache.QueryEnabled && !opts.Cache.EmbeddingEnabled {
		return nil
	}

	redisOpts := opts.Cache.Redis
	client := goredis.NewClient(&goredis.Options{
		Addr:         redisOpts.Addr(),
		Password:     redisOpts.Password,
		DB:           redisOpts.Database,
		MaxRetries:   redisOpts.MaxRetries,
		PoolSize:     redisOpts.PoolSize,
		MinIdleConns: redisOpts.MinIdleConns,
		DialTimeout:  redisOpts.DialTimeout,
		ReadTimeout:  redisOpts.ReadTimeout,
		WriteTimeout: redisOpts.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warnw("failed to connect to redis, caching disabled", "error", err.Error(), "addr", redisOpts.Addr())
		_ = client.Close()
		return nil
	}

	logger.Infow("Redis client initialized", "addr", redisOpts.Addr())
	return client
}

// serve 运行 HTTP 服务器直至收到退出信号，然后优雅关闭。
func serve(g *gin.Engine, opts *Options) error {
	srv := &http.Server{
		Addr:         opts.HTTP.Addr,
		Handler:      g,
		ReadTimeout:  opts.HTTP.ReadTimeout,
		WriteTimeout: opts.HTTP.WriteTimeout,
		IdleTimeout:  opts.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", opts.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-quit:
		logger.Infow("Shutting down...", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
