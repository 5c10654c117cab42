// Package storage opens the repositories selected by STORAGE_DRIVER.
package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/ilramdhan/sheetcalc/config"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
	"github.com/ilramdhan/sheetcalc/internal/infrastructure/persistence"
	"github.com/ilramdhan/sheetcalc/internal/infrastructure/sqlite"
	"github.com/ilramdhan/sheetcalc/pkg/database"
)

// Storage bundles the repositories of one backend
type Storage struct {
	Sheets repository.CharacterSheetRepository
	Jobs   repository.BatchJobRepository
	close  func()
}

// Open connects to the configured backend
func Open(ctx context.Context, cfg *config.Config) (*Storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		log.Printf("Using sqlite storage at %s", cfg.Storage.SQLitePath)
		return &Storage{
			Sheets: store.Sheets(),
			Jobs:   store.Jobs(),
			close: func() {
				if err := store.Close(); err != nil {
					log.Printf("Failed to close sqlite store: %v", err)
				}
			},
		}, nil

	case config.StoragePostgres:
		pool, err := database.NewPool(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Printf("Using postgres storage at %s:%s/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
		return &Storage{
			Sheets: persistence.NewCharacterSheetRepository(pool),
			Jobs:   persistence.NewBatchJobRepository(pool),
			close:  func() { database.Close(pool) },
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Close releases the backend
func (s *Storage) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}
