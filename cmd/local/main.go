package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"imagebatch-backend/internal/api"
	"imagebatch-backend/internal/core"
	"imagebatch-backend/internal/database"
	"imagebatch-backend/internal/imaging"
	"imagebatch-backend/internal/messaging"
	"imagebatch-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root string `env:"ROOT" envDefault:"./imagebatch"`
	Port int    `env:"PORT" envDefault:"3001"`

	ImageConcurrency int           `env:"IMAGE_CONCURRENCY" envDefault:"4"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	FetchRateLimit   float64       `env:"FETCH_RATE_LIMIT" envDefault:"0"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "imagebatch.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue rebuilds the in-memory queue from jobs that were accepted but
// never started. Jobs interrupted mid-run stay where they were; a job does not
// resume across a restart.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var pending []database.ImportJob
	if err := db.Where("status = ?", database.JobPending).Find(&pending).Error; err != nil {
		log.Fatalf("Failed to fetch pending jobs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, job := range pending {
		if err := queue.PublishProcessJobTask(context.Background(), messaging.ProcessJobPayload{JobId: job.Id}); err != nil {
			log.Fatalf("Failed to publish process job task: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, store, queue)
	apiHandler.AddRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}
	if err := store.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("Failed to create storage directory: %v", err)
	}

	queue := createQueue(db)

	fetcher := imaging.NewFetcher(
		imaging.WithTimeout(cfg.FetchTimeout),
		imaging.WithRateLimit(cfg.FetchRateLimit),
	)

	worker := core.NewTaskProcessor(db, store, queue, fetcher, cfg.ImageConcurrency)

	server := createServer(db, store, queue, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
