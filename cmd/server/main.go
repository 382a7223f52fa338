// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"wherespace-go/internal/chunker"
	"wherespace-go/internal/config"
	"wherespace-go/internal/extractor"
	"wherespace-go/internal/handler"
	"wherespace-go/internal/middleware"
	"wherespace-go/internal/model"
	"wherespace-go/internal/pipeline"
	"wherespace-go/internal/registry"
	"wherespace-go/internal/repository"
	"wherespace-go/internal/service"
	"wherespace-go/pkg/database"
	"wherespace-go/pkg/embedding"
	"wherespace-go/pkg/es"
	"wherespace-go/pkg/kafka"
	"wherespace-go/pkg/llm"
	"wherespace-go/pkg/log"
	"wherespace-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、对象存储与向量存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.Document{}, &model.DocumentChunk{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	vectorStore, err := es.NewStore(cfg.Elasticsearch, cfg.Ollama.EmbedDimensions)
	if err != nil {
		log.Fatalf("Elasticsearch 初始化失败: %v", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化模型后端与注册表
	llmClient := llm.NewClient(cfg.Ollama)
	modelRegistry := registry.New(llmClient, database.RDB, cfg.Ollama)
	embeddingClient := embedding.NewClient(cfg.Ollama, modelRegistry.EmbedModelResolver())

	// 6. 初始化摄取管道
	ck, err := chunker.New(cfg.Chunking.MaxSize, cfg.Chunking.Overlap)
	if err != nil {
		log.Fatalf("分块配置非法: %v", err)
	}
	archive := storage.NewDocumentArchive(cfg.MinIO.BucketName)
	processor := pipeline.NewProcessor(
		extractor.NewRegistry(cfg.Tika),
		ck,
		embeddingClient,
		vectorStore,
		archive,
		docRepo,
		kafka.ProduceIngestTask,
		cfg.Ingest,
	)

	// 7. 初始化 Service (依赖注入)
	retrievalService := service.NewRetrievalService(embeddingClient, vectorStore, cfg.Retrieval)
	chatService := service.NewChatService(retrievalService, llmClient, modelRegistry, conversationRepo)

	// 8. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8.1 启动时摄取种子目录（幂等，内容重复自动跳过）
	if cfg.Ingest.SeedDir != "" {
		go func() {
			if _, err := processor.IngestDirectory(context.Background(), cfg.Ingest.SeedDir); err != nil {
				log.Warnf("种子目录摄取失败, dir=%s: %v", cfg.Ingest.SeedDir, err)
			}
		}()
	}

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 10. 注册路由
	queryHandler := handler.NewQueryHandler(chatService)
	chatHandler := handler.NewChatHandler(chatService)
	ingestHandler := handler.NewIngestHandler(processor)
	documentHandler := handler.NewDocumentHandler(docRepo, chunkRepo, archive)
	modelHandler := handler.NewModelHandler(modelRegistry)

	apiV1 := r.Group("/api/v1")
	{
		ingest := apiV1.Group("/ingest")
		{
			ingest.POST("/directory", ingestHandler.IngestDirectory)
			ingest.POST("/file", ingestHandler.IngestFile)
		}

		documents := apiV1.Group("/documents")
		{
			documents.GET("", documentHandler.List)
			documents.GET("/download", documentHandler.Download)
			documents.GET("/chunks", documentHandler.Chunks)
			documents.DELETE("", ingestHandler.Flush)
		}

		query := apiV1.Group("/query")
		{
			query.POST("/stream", queryHandler.Stream)
		}

		models := apiV1.Group("/models")
		{
			models.GET("", modelHandler.List)
			models.POST("/current", modelHandler.Set)
		}
	}

	// Chat 路由 (WebSocket)
	r.GET("/chat", chatHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者在进程退出时随循环自然结束，
	// 如需更精细的控制可在 StartConsumer 中加入关闭通道。
	log.Info("服务已优雅关闭")
}
