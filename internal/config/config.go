package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"catalog-service/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL string

	// NATS
	NATSURL string

	// Server
	Port        string
	Environment string

	// Pagination
	DefaultPageSize int
	MaxPageSize     int

	// Import pipeline
	ImportBatchSize int
	ImportSpoolDir  string

	// Classifier
	ClassifierModelPath string
	ClassifierThreshold float64

	// Worker
	WorkerMaxAttempts int
	JobStaleAfter     time.Duration
}

func Load() *Config {
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	defaultPageSize, _ := strconv.Atoi(getEnv("DEFAULT_PAGE_SIZE", "20"))
	maxPageSize, _ := strconv.Atoi(getEnv("MAX_PAGE_SIZE", "100"))
	batchSize, _ := strconv.Atoi(getEnv("IMPORT_BATCH_SIZE", "100"))
	maxAttempts, _ := strconv.Atoi(getEnv("WORKER_MAX_ATTEMPTS", "3"))
	threshold, _ := strconv.ParseFloat(getEnv("CLASSIFIER_THRESHOLD", "0.55"), 64)
	staleMinutes, _ := strconv.Atoi(getEnv("JOB_STALE_AFTER_MINUTES", "30"))

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "catalog_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		NATSURL: getEnv("NATS_URL", "nats://localhost:4222"),

		Port:        getEnv("PORT", "8087"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DefaultPageSize: defaultPageSize,
		MaxPageSize:     maxPageSize,

		ImportBatchSize: batchSize,
		ImportSpoolDir:  getEnv("IMPORT_SPOOL_DIR", "/var/spool/catalog-imports"),

		ClassifierModelPath: getEnv("CLASSIFIER_MODEL_PATH", "models/category_model.json"),
		ClassifierThreshold: threshold,

		WorkerMaxAttempts: maxAttempts,
		JobStaleAfter:     time.Duration(staleMinutes) * time.Minute,
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate models to keep schema up to date
	// This will add missing columns but won't delete existing columns
	log.Println("Running auto-migrations...")
	if err := db.AutoMigrate(
		&models.Category{},
		&models.Manufacturer{},
		&models.Product{},
		&models.ImportJob{},
	); err != nil {
		return nil, fmt.Errorf("failed to run auto-migrations: %w", err)
	}
	log.Println("Auto-migrations completed successfully")

	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
