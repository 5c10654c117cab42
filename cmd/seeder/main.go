package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/ilramdhan/sheetcalc/config"
	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
	"github.com/ilramdhan/sheetcalc/internal/infrastructure/storage"
	"github.com/ilramdhan/sheetcalc/internal/modules/sheet"
)

var (
	sheetCount  = flag.Int("sheets", 10000, "Number of character sheets to generate")
	batchSize   = flag.Int("batch", 1000, "Batch size for bulk inserts")
	workerCount = flag.Int("workers", 10, "Number of parallel workers")
	seed        = flag.Int64("seed", 0, "Random seed (0 uses the current time)")
)

func main() {
	flag.Parse()
	godotenv.Load()

	// Print header
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          CHARACTER SHEET ENGINE - DATA SEEDER                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	log.Printf("Configuration:")
	log.Printf("  Sheets:      %d", *sheetCount)
	log.Printf("  Batch Size:  %d", *batchSize)
	log.Printf("  Workers:     %d", *workerCount)
	log.Printf("  CPU Cores:   %d", runtime.NumCPU())
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	policy, _ := cfg.Formula.Policy()
	ctx := context.Background()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	start := time.Now()
	engine := sheet.NewComputeEngine(store.Sheets, policy)
	created, failed := seedSheets(ctx, store.Sheets, engine)

	printPerformanceSummary(PerformanceMetrics{
		TotalSheets:  created,
		FailedSheets: failed,
		TotalTime:    time.Since(start),
	})
}

// PerformanceMetrics holds timing and throughput data
type PerformanceMetrics struct {
	TotalSheets  int64
	FailedSheets int64
	TotalTime    time.Duration
}

func printPerformanceSummary(m PerformanceMetrics) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                  PERFORMANCE SUMMARY                          ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  %-20s %38v ║\n", "Total Time:", m.TotalTime.Round(time.Millisecond))
	fmt.Printf("║  %-20s %38s ║\n", "Sheets Created:", formatNumber(m.TotalSheets))
	fmt.Printf("║  %-20s %38s ║\n", "Formula Failures:", formatNumber(m.FailedSheets))
	if m.TotalTime.Seconds() > 0 {
		fmt.Printf("║  %-20s %34.0f /s ║\n", "Throughput:", float64(m.TotalSheets)/m.TotalTime.Seconds())
	}
	fmt.Println("╠───────────────────────────────────────────────────────────────╣")
	fmt.Printf("║  %-20s %35s MB ║\n", "Memory Allocated:", formatNumber(int64(memStats.Alloc/1024/1024)))
	fmt.Printf("║  %-20s %35s MB ║\n", "Total Allocated:", formatNumber(int64(memStats.TotalAlloc/1024/1024)))
	fmt.Printf("║  %-20s %38d ║\n", "GC Cycles:", memStats.NumGC)
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
}

func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	var result []rune
	for i, r := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, r)
	}
	return string(result)
}

// seedSheets generates sheets in parallel, computes their derived fields and
// stores them in batches
func seedSheets(ctx context.Context, sheets repository.CharacterSheetRepository, engine *sheet.ComputeEngine) (created, failed int64) {
	log.Printf("Seeding %d character sheets...", *sheetCount)

	idxChan := make(chan int, *workerCount*2)
	var wg sync.WaitGroup

	// Progress reporter
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c := atomic.LoadInt64(&created)
				log.Printf("Progress: sheets=%d/%d (%.1f%%)", c, *sheetCount, float64(c)/float64(*sheetCount)*100)
			}
		}
	}()

	for w := 0; w < *workerCount; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(*seed + int64(workerID)))
			batch := make([]*entity.CharacterSheet, 0, *batchSize)

			flush := func() {
				if len(batch) == 0 {
					return
				}
				n, err := sheets.CreateBatch(ctx, batch)
				if err != nil {
					log.Printf("Worker %d: failed to insert sheets: %v", workerID, err)
				}
				atomic.AddInt64(&created, n)
				batch = batch[:0]
			}

			for idx := range idxChan {
				s := newCharacter(rng, idx)
				if report := engine.Recompute(s); report.Failed() {
					atomic.AddInt64(&failed, 1)
				}
				batch = append(batch, s)
				if len(batch) >= *batchSize {
					flush()
				}
			}
			flush()
		}(w)
	}

	for i := 0; i < *sheetCount; i++ {
		idxChan <- i
	}
	close(idxChan)
	wg.Wait()
	close(done)

	log.Printf("Completed: %d sheets created", atomic.LoadInt64(&created))
	return created, failed
}
