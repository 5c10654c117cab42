package sheet

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
)

// WorkerPool manages concurrent recompute workers
type WorkerPool struct {
	engine      *ComputeEngine
	sheetRepo   repository.CharacterSheetRepository
	jobRepo     repository.BatchJobRepository
	workerCount int
	batchSize   int
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(
	engine *ComputeEngine,
	sheetRepo repository.CharacterSheetRepository,
	jobRepo repository.BatchJobRepository,
	workerCount, batchSize int,
) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &WorkerPool{
		engine:      engine,
		sheetRepo:   sheetRepo,
		jobRepo:     jobRepo,
		workerCount: workerCount,
		batchSize:   batchSize,
	}
}

// RecalculateAll recomputes the formula fields of every stored sheet and
// tracks progress on the job. Sheets whose formulas fail are still stored
// with the per-field errors and counted as failed.
func (wp *WorkerPool) RecalculateAll(ctx context.Context, jobID uuid.UUID) error {
	// Get total count
	totalCount, err := wp.sheetRepo.Count(ctx)
	if err != nil {
		_ = wp.jobRepo.Fail(ctx, jobID, err.Error())
		return fmt.Errorf("failed to count sheets: %w", err)
	}

	if err := wp.jobRepo.SetTotal(ctx, jobID, totalCount); err != nil {
		log.Printf("Failed to set job total: %v", err)
	}
	if err := wp.jobRepo.UpdateStatus(ctx, jobID, entity.JobStatusRunning, 0, 0); err != nil {
		log.Printf("Failed to mark job running: %v", err)
	}

	// Create channels
	idChan := make(chan uuid.UUID, wp.batchSize*2)
	resultChan := make(chan *entity.CharacterSheet, wp.batchSize*2)
	errChan := make(chan error, 1)

	var processedCount int64
	var failedCount int64

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < wp.workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for sheetID := range idChan {
				sheet, err := wp.sheetRepo.GetByID(ctx, sheetID)
				if err != nil {
					log.Printf("Worker %d: failed to load sheet %s: %v", workerID, sheetID, err)
					atomic.AddInt64(&failedCount, 1)
					continue
				}
				if report := wp.engine.Recompute(sheet); report.Failed() {
					atomic.AddInt64(&failedCount, 1)
				}
				resultChan <- sheet
			}
		}(i)
	}

	// Start result collector
	var resultWg sync.WaitGroup
	resultWg.Add(1)
	go func() {
		defer resultWg.Done()
		buffer := make([]*entity.CharacterSheet, 0, wp.batchSize)

		flush := func() {
			if len(buffer) == 0 {
				return
			}
			updated, err := wp.sheetRepo.UpdateBatch(ctx, buffer)
			if err != nil {
				log.Printf("Failed to update batch: %v", err)
			} else if skipped := int64(len(buffer)) - updated; skipped > 0 {
				// edited while queued; the editor already stored a recomputed copy
				log.Printf("Skipped %d sheets modified during recalculation", skipped)
			}
			atomic.AddInt64(&processedCount, int64(len(buffer)))
			if err := wp.jobRepo.UpdateProgress(ctx, jobID, int64(len(buffer)), 0); err != nil {
				log.Printf("Failed to update job progress: %v", err)
			}
			buffer = buffer[:0]
		}

		for sheet := range resultChan {
			buffer = append(buffer, sheet)
			if len(buffer) >= wp.batchSize {
				flush()
			}
		}
		flush()
	}()

	// Dispatcher: fetch IDs and send to workers
	go func() {
		defer close(idChan)
		offset := 0
		for {
			if err := ctx.Err(); err != nil {
				errChan <- err
				return
			}
			ids, err := wp.sheetRepo.ListIDs(ctx, wp.batchSize, offset)
			if err != nil {
				errChan <- fmt.Errorf("failed to list sheet IDs: %w", err)
				return
			}
			if len(ids) == 0 {
				return
			}
			for _, id := range ids {
				select {
				case <-ctx.Done():
					errChan <- ctx.Err()
					return
				case idChan <- id:
				}
			}
			offset += len(ids)
		}
	}()

	// Wait for workers to finish
	wg.Wait()
	close(resultChan)

	// Wait for result collector
	resultWg.Wait()

	failed := atomic.LoadInt64(&failedCount)
	processed := atomic.LoadInt64(&processedCount)

	select {
	case err := <-errChan:
		_ = wp.jobRepo.UpdateStatus(context.WithoutCancel(ctx), jobID, entity.JobStatusRunning, processed, failed)
		_ = wp.jobRepo.Fail(context.WithoutCancel(ctx), jobID, err.Error())
		return err
	default:
	}

	if err := wp.jobRepo.UpdateStatus(ctx, jobID, entity.JobStatusRunning, processed, failed); err != nil {
		log.Printf("Failed to record final job counts: %v", err)
	}
	if err := wp.jobRepo.Complete(ctx, jobID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	log.Printf("Recalculation complete: processed=%d, failed=%d, total=%d", processed, failed, totalCount)
	return nil
}
