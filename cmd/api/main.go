package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ilramdhan/sheetcalc/config"
	"github.com/ilramdhan/sheetcalc/internal/api"
	"github.com/ilramdhan/sheetcalc/internal/infrastructure/storage"
	"github.com/ilramdhan/sheetcalc/internal/modules/sheet"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	policy, _ := cfg.Formula.Policy()
	ctx := context.Background()

	// Storage
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	// Initialize compute engine and worker pool
	engine := sheet.NewComputeEngine(store.Sheets, policy)
	workerPool := sheet.NewWorkerPool(engine, store.Sheets, store.Jobs, cfg.Worker.Count, cfg.Worker.BatchSize)

	app := api.NewApp(api.Deps{
		Sheets:     store.Sheets,
		Jobs:       store.Jobs,
		Engine:     engine,
		WorkerPool: workerPool,
		Policy:     policy,
		AccessLog:  true,
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		app.Shutdown()
	}()

	// Start server
	log.Printf("Starting API server on :%s (env=%s)", cfg.App.Port, cfg.App.Env)
	if err := app.Listen(":" + cfg.App.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
