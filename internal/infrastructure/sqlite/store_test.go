package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
	"github.com/ilramdhan/sheetcalc/pkg/formula"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sheets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSheet(name string) *entity.CharacterSheet {
	return &entity.CharacterSheet{
		ID:   uuid.New(),
		Name: name,
		Fields: []*entity.Field{
			{Key: "str", Type: entity.FieldTypeNumber, Value: formula.IntValue(14), SequenceOrder: 1},
			{Key: "str_mod", Type: entity.FieldTypeNumber, Value: formula.IntValue(2), Formula: "floor((str - 10) / 2)", SequenceOrder: 2},
		},
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheets.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (id TEXT);\n", extractUpMigration(content))
	assert.Equal(t, "SELECT 1;", extractUpMigration("SELECT 1;"))
}

func TestSheetStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	sheets := openTestStore(t).Sheets()

	sheet := newSheet("Aria")
	require.NoError(t, sheets.Create(ctx, sheet))

	got, err := sheets.GetByID(ctx, sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, "Aria", got.Name)
	require.Len(t, got.Fields, 2)
	assert.Equal(t, formula.IntValue(14), got.Fields[0].Value)
	assert.Equal(t, "floor((str - 10) / 2)", got.Fields[1].Formula)
	assert.False(t, got.CreatedAt.IsZero())

	got.Fields[0].Value = formula.IntValue(16)
	require.NoError(t, sheets.Update(ctx, got))
	assert.Equal(t, int64(1), got.Version)

	again, err := sheets.GetByID(ctx, sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, formula.IntValue(16), again.Fields[0].Value)
	assert.Equal(t, int64(1), again.Version)
}

func TestSheetStoreNotFound(t *testing.T) {
	ctx := context.Background()
	sheets := openTestStore(t).Sheets()

	_, err := sheets.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.ErrorIs(t, sheets.Update(ctx, newSheet("ghost")), repository.ErrNotFound)
	assert.ErrorIs(t, sheets.Delete(ctx, uuid.New()), repository.ErrNotFound)
}

func TestSheetStoreRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	sheets := openTestStore(t).Sheets()

	sheet := newSheet("Aria")
	require.NoError(t, sheets.Create(ctx, sheet))

	first, err := sheets.GetByID(ctx, sheet.ID)
	require.NoError(t, err)
	second, err := sheets.GetByID(ctx, sheet.ID)
	require.NoError(t, err)

	first.Fields[0].Value = formula.IntValue(18)
	require.NoError(t, sheets.Update(ctx, first))

	second.Fields[0].Value = formula.IntValue(8)
	assert.ErrorIs(t, sheets.Update(ctx, second), repository.ErrConflict)
	assert.Equal(t, int64(0), second.Version)

	updated, err := sheets.UpdateBatch(ctx, []*entity.CharacterSheet{second})
	require.NoError(t, err)
	assert.Zero(t, updated)

	got, err := sheets.GetByID(ctx, sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, formula.IntValue(18), got.Fields[0].Value)
	assert.Equal(t, int64(1), got.Version)
}

func TestSheetStoreBatchAndPaging(t *testing.T) {
	ctx := context.Background()
	sheets := openTestStore(t).Sheets()

	batch := []*entity.CharacterSheet{newSheet("c"), newSheet("a"), newSheet("b")}
	n, err := sheets.CreateBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	count, err := sheets.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	page, err := sheets.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].Name)
	assert.Equal(t, "b", page[1].Name)

	ids, err := sheets.ListIDs(ctx, 10, 1)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	for _, s := range batch {
		s.Fields[0].Value = formula.IntValue(8)
	}
	batch = append(batch, newSheet("missing"))
	updated, err := sheets.UpdateBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)

	got, err := sheets.GetByID(ctx, batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, formula.IntValue(8), got.Fields[0].Value)

	require.NoError(t, sheets.Delete(ctx, batch[0].ID))
	count, err = sheets.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	jobs := openTestStore(t).Jobs()

	started := time.Now()
	job := &entity.BatchJob{
		ID:        uuid.New(),
		JobType:   entity.JobTypeRecalculateAll,
		Status:    entity.JobStatusPending,
		Metadata:  map[string]interface{}{"triggered_by": "test"},
		StartedAt: &started,
		CreatedAt: started,
	}
	require.NoError(t, jobs.Create(ctx, job))

	require.NoError(t, jobs.SetTotal(ctx, job.ID, 10))
	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, entity.JobStatusRunning, 0, 0))
	require.NoError(t, jobs.UpdateProgress(ctx, job.ID, 4, 1))
	require.NoError(t, jobs.UpdateProgress(ctx, job.ID, 5, 0))

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusRunning, got.Status)
	assert.Equal(t, int64(10), got.TotalRecords)
	assert.Equal(t, int64(9), got.ProcessedRecords)
	assert.Equal(t, int64(1), got.FailedRecords)
	assert.Equal(t, "test", got.Metadata["triggered_by"])
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, jobs.Complete(ctx, job.ID))
	got, err = jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)

	failed := &entity.BatchJob{ID: uuid.New(), JobType: entity.JobTypeRecalculateSheet, Status: entity.JobStatusPending, CreatedAt: started.Add(time.Second)}
	require.NoError(t, jobs.Create(ctx, failed))
	require.NoError(t, jobs.Fail(ctx, failed.ID, "boom"))

	recent, err := jobs.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, failed.ID, recent[0].ID)
	assert.Equal(t, "boom", recent[0].ErrorMessage)
	assert.Equal(t, entity.JobStatusFailed, recent[0].Status)

	_, err = jobs.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
