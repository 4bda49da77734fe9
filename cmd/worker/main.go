package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imagebatch-backend/cmd"
	"imagebatch-backend/internal/core"
	"imagebatch-backend/internal/database"
	"imagebatch-backend/internal/imaging"
	"imagebatch-backend/internal/messaging"
	"imagebatch-backend/internal/storage"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	StorageBucket     string `env:"STORAGE_BUCKET" envDefault:"product-images"`

	ImageConcurrency int           `env:"IMAGE_CONCURRENCY" envDefault:"4"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	FetchRateLimit   float64       `env:"FETCH_RATE_LIMIT" envDefault:"0"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Bucket:          cfg.StorageBucket,
	})
	if err != nil {
		log.Fatalf("Worker: Failed to create S3 object store: %v", err)
	}
	if err := store.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("Worker: Failed to ensure storage bucket: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	fetcher := imaging.NewFetcher(
		imaging.WithTimeout(cfg.FetchTimeout),
		imaging.WithRateLimit(cfg.FetchRateLimit),
	)

	worker := core.NewTaskProcessor(db, store, reciever, fetcher, cfg.ImageConcurrency)

	go worker.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping worker...")
	worker.Stop()

	log.Println("Worker process stopped.")
}
