package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/agent"
	"github.com/invoice-agent/backend/internal/api/handlers"
	"github.com/invoice-agent/backend/internal/cache/redis"
	"github.com/invoice-agent/backend/internal/embedding"
	"github.com/invoice-agent/backend/internal/ingestion"
	"github.com/invoice-agent/backend/internal/llm"
	"github.com/invoice-agent/backend/internal/metrics"
	"github.com/invoice-agent/backend/internal/middleware/ratelimit"
	"github.com/invoice-agent/backend/internal/rag"
	"github.com/invoice-agent/backend/internal/storage/sqlite"
	"github.com/invoice-agent/backend/internal/tools"
	"github.com/invoice-agent/backend/internal/validation"
	"github.com/invoice-agent/backend/internal/vector/milvus"
	"github.com/invoice-agent/backend/pkg/config"
	appLogger "github.com/invoice-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Invoice Agent API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, running without cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	backend := llm.NewOpenAIBackend(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Temperature, cfg.LLM.MaxTokens)

	gateway, err := llm.NewGateway(backend, llm.GatewayConfig{
		Models:         cfg.LLM.Models,
		AttemptTimeout: time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	if err != nil {
		appLogger.Fatal("Failed to create model gateway", zap.Error(err))
	}

	embedder := embedding.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.EmbeddingModel, cache)

	pipeline := rag.NewPipeline(embedder, sqliteClient, sqliteClient, gateway)
	if cache != nil {
		pipeline = pipeline.WithAnswerCache(cache)
	}

	if cfg.Vector.Provider == "milvus" {
		milvusClient, err := milvus.NewClient(cfg.Vector.Endpoint, cfg.Vector.CollectionName, cfg.LLM.EmbeddingDim)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer milvusClient.Close()

		if err := milvusClient.EnsureCollection(context.Background()); err != nil {
			appLogger.Fatal("Failed to ensure Milvus collection", zap.Error(err))
		}

		pipeline = pipeline.WithVectorIndex(milvusClient)
	}

	validator := validation.NewValidator(sqliteClient, gateway)

	exporter, err := tools.NewExporter(sqliteClient, cfg.Export.Dir, cfg.Export.BaseURL)
	if err != nil {
		appLogger.Fatal("Failed to create exporter", zap.Error(err))
	}

	toolbox := tools.NewInvoiceToolbox(sqliteClient, validator, pipeline, exporter)
	chatAgent := agent.NewAgent(gateway, pipeline, toolbox)
	processor := ingestion.NewProcessor(sqliteClient, pipeline)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.Server.RateLimit})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	chatHandler := handlers.NewChatHandler(chatAgent)
	documentHandler := handlers.NewDocumentHandler(processor, sqliteClient, validator, toolbox)
	exportHandler := handlers.NewExportHandler(exporter, cfg.Export.Dir)
	wsHandler := handlers.NewWebSocketHandler(chatAgent)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Delete("/documents/:id", documentHandler.DeleteDocument)
	api.Post("/documents/:id/reindex", documentHandler.ReindexDocument)
	api.Post("/documents/:id/validate", documentHandler.ValidateDocument)
	api.Post("/documents/:id/force-validate", documentHandler.ForceValidateDocument)

	api.Post("/exports", exportHandler.CreateExport)
	api.Get("/exports/files/:filename", exportHandler.DownloadExport)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
