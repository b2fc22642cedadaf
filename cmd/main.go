package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"catalog-service/internal/config"
	"catalog-service/internal/handlers"
	"catalog-service/internal/jobs"
	"catalog-service/internal/middleware"
	"catalog-service/internal/queue"
	"catalog-service/internal/repository"
)

// @title Catalog Service API
// @version 1.0.0
// @description Product catalog service with asynchronous price-list imports

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8087
// @BasePath /api/v1

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "production" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Initialize Redis client
	var redisClient *redis.Client
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("WARNING: Failed to parse Redis URL: %v (continuing without Redis)", err)
	} else {
		redisClient = redis.NewClient(redisOpts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: Failed to connect to Redis: %v (caching will be disabled)", err)
			redisClient = nil
		} else {
			log.Println("✓ Redis connected successfully")
		}
		cancel()
	}

	// Initialize repository and job tracker
	catalogRepo := repository.NewCatalogRepository(db, redisClient)
	tracker := jobs.NewTracker(db, logger)

	// Initialize the import queue. The API cannot accept imports without it.
	importQueue, err := queue.Connect(cfg.NATSURL, logger)
	if err != nil {
		log.Fatal("Failed to connect to NATS:", err)
	}
	defer importQueue.Close()

	// Initialize handlers
	pager := handlers.Pager{DefaultPageSize: cfg.DefaultPageSize, MaxPageSize: cfg.MaxPageSize}
	catalogHandler := handlers.NewCatalogHandler(catalogRepo, pager, logger)
	importHandler := handlers.NewImportHandler(tracker, importQueue, cfg.ImportSpoolDir, pager, logger)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Health check endpoints
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.HealthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	{
		products := v1.Group("/products")
		{
			products.GET("", catalogHandler.GetProducts)
			products.GET("/:id", catalogHandler.GetProduct)
			products.POST("", catalogHandler.CreateProduct)
			products.PUT("/:id", catalogHandler.UpdateProduct)
			products.DELETE("/:id", catalogHandler.DeleteProduct)

			// Price-list import
			products.GET("/import/template", importHandler.GetImportTemplate)
			products.POST("/import", importHandler.SubmitImport)
		}

		categories := v1.Group("/categories")
		{
			categories.GET("", catalogHandler.GetCategories)
			categories.GET("/:id", catalogHandler.GetCategory)
			categories.POST("", catalogHandler.CreateCategory)
			categories.PUT("/:id", catalogHandler.UpdateCategory)
			categories.DELETE("/:id", catalogHandler.DeleteCategory)
		}

		imports := v1.Group("/imports")
		{
			imports.GET("", importHandler.ListImportJobs)
			imports.GET("/:id", importHandler.GetImportJob)
			imports.POST("/:id/cancel", importHandler.CancelImportJob)
		}
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Catalog service starting on port %s", cfg.Port)
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-quit
	log.Println("Shutting down catalog-service...")
	log.Println("Catalog service stopped")
}
