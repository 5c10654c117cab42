package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ilramdhan/sheetcalc/config"
	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/infrastructure/storage"
	"github.com/ilramdhan/sheetcalc/internal/modules/sheet"
)

var (
	pollInterval = flag.Duration("poll", 30*time.Second, "Interval between checks for pending jobs")
	once         = flag.Bool("once", false, "Process pending jobs once and exit")
)

func main() {
	flag.Parse()
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	policy, _ := cfg.Formula.Policy()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("Starting worker service with %d workers and batch size %d",
		cfg.Worker.Count, cfg.Worker.BatchSize)

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	engine := sheet.NewComputeEngine(store.Sheets, policy)
	workerPool := sheet.NewWorkerPool(engine, store.Sheets, store.Jobs, cfg.Worker.Count, cfg.Worker.BatchSize)

	if *once {
		processPending(ctx, workerPool, store)
		return
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Worker service ready. Waiting for jobs...")

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			log.Println("Shutting down worker service...")
			cancel()
			return

		case <-ticker.C:
			processPending(ctx, workerPool, store)
		}
	}
}

func processPending(ctx context.Context, workerPool *sheet.WorkerPool, store *storage.Storage) {
	jobs, err := store.Jobs.ListRecent(ctx, 10)
	if err != nil {
		log.Printf("Failed to list jobs: %v", err)
		return
	}

	for _, job := range jobs {
		if job.Status != entity.JobStatusPending {
			continue
		}
		log.Printf("Found pending job: %s", job.ID)

		startTime := time.Now()
		if err := workerPool.RecalculateAll(ctx, job.ID); err != nil {
			log.Printf("Job %s failed: %v", job.ID, err)
			continue
		}
		log.Printf("Job %s completed in %v", job.ID, time.Since(startTime))
	}
}
