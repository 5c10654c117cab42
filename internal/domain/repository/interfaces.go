package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a record changed since it was read
	ErrConflict = errors.New("record was modified concurrently")
)

// CharacterSheetRepository defines the interface for character sheet operations
type CharacterSheetRepository interface {
	// Create creates a new character sheet
	Create(ctx context.Context, sheet *entity.CharacterSheet) error
	// CreateBatch creates multiple sheets in one round trip
	CreateBatch(ctx context.Context, sheets []*entity.CharacterSheet) (int64, error)
	// GetByID retrieves a sheet by ID
	GetByID(ctx context.Context, id uuid.UUID) (*entity.CharacterSheet, error)
	// List retrieves sheets with pagination
	List(ctx context.Context, limit, offset int) ([]*entity.CharacterSheet, error)
	// ListIDs retrieves sheet IDs with pagination (for batch processing)
	ListIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error)
	// Count returns the total count of sheets
	Count(ctx context.Context) (int64, error)
	// Update stores the fields of a sheet and bumps its version. It returns
	// ErrConflict when the stored version no longer matches sheet.Version.
	Update(ctx context.Context, sheet *entity.CharacterSheet) error
	// UpdateBatch stores the fields of multiple sheets, skipping sheets that
	// are gone or whose stored version moved on, and returns how many it wrote
	UpdateBatch(ctx context.Context, sheets []*entity.CharacterSheet) (int64, error)
	// Delete deletes a sheet
	Delete(ctx context.Context, id uuid.UUID) error
}

// BatchJobRepository defines the interface for batch job operations
type BatchJobRepository interface {
	// Create creates a new batch job
	Create(ctx context.Context, job *entity.BatchJob) error
	// GetByID retrieves a job by ID
	GetByID(ctx context.Context, id uuid.UUID) (*entity.BatchJob, error)
	// UpdateStatus updates a job's status and progress
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus, processed, failed int64) error
	// UpdateProgress updates a job's progress atomically
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, failed int64) error
	// SetTotal records the number of records a job will process
	SetTotal(ctx context.Context, id uuid.UUID, total int64) error
	// Complete marks a job as completed
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail marks a job as failed
	Fail(ctx context.Context, id uuid.UUID, errorMsg string) error
	// ListRecent retrieves recent jobs
	ListRecent(ctx context.Context, limit int) ([]*entity.BatchJob, error)
}
