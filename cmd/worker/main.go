package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"catalog-service/internal/classifier"
	"catalog-service/internal/config"
	"catalog-service/internal/jobs"
	"catalog-service/internal/queue"
	"catalog-service/internal/repository"
	"catalog-service/internal/worker"
)

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

	// Initialize Redis client for post-import cache invalidation
	var redisClient *redis.Client
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("WARNING: Failed to parse Redis URL: %v (continuing without Redis)", err)
	} else {
		redisClient = redis.NewClient(redisOpts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: Failed to connect to Redis: %v (cache invalidation disabled)", err)
			redisClient = nil
		} else {
			log.Println("✓ Redis connected successfully")
		}
		cancel()
	}

	// Initialize repository and job tracker
	catalogRepo := repository.NewCatalogRepository(db, redisClient)
	tracker := jobs.NewTracker(db, logger)

	// Every import run needs the fallback category to exist.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	uncategorizedID, err := catalogRepo.EnsureUncategorized(ctx)
	cancel()
	if err != nil {
		log.Fatal("Failed to ensure uncategorized category:", err)
	}

	// Load the category classifier. A missing or broken model is not
	// fatal: imports run in degraded mode and rows without a usable
	// category hint land in the uncategorized bucket.
	clf, err := classifier.Load(cfg.ClassifierModelPath, cfg.ClassifierThreshold, uncategorizedID, logger)
	if err != nil {
		log.Printf("WARNING: Failed to load classifier model: %v (running in degraded mode)", err)
		clf = classifier.Unavailable(uncategorizedID)
	}

	// Connect to the job queue
	importQueue, err := queue.Connect(cfg.NATSURL, logger)
	if err != nil {
		log.Fatal("Failed to connect to NATS:", err)
	}
	defer importQueue.Close()

	runner := worker.NewRunner(
		tracker,
		catalogRepo,
		importQueue,
		clf,
		uncategorizedID,
		cfg.ImportBatchSize,
		worker.DefaultRetryPolicy(cfg.WorkerMaxAttempts),
		cfg.JobStaleAfter,
		logger,
	)

	// Graceful shutdown handling
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("Catalog import worker starting")
	if err := runner.Run(runCtx); err != nil {
		log.Fatal("Worker failed:", err)
	}
	log.Println("Catalog import worker stopped")
}
