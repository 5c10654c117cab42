package sheet

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
	"github.com/ilramdhan/sheetcalc/pkg/formula"
)

// memSheets is an in-memory CharacterSheetRepository. Sheets are stored as
// JSON so callers never share field pointers with the store. beforeUpdate,
// when set, runs ahead of every Update so tests can interleave other writers.
type memSheets struct {
	mu           sync.Mutex
	sheets       map[uuid.UUID][]byte
	versions     map[uuid.UUID]int64
	beforeUpdate func(id uuid.UUID)
}

func newMemSheets(sheets ...*entity.CharacterSheet) *memSheets {
	m := &memSheets{
		sheets:   make(map[uuid.UUID][]byte),
		versions: make(map[uuid.UUID]int64),
	}
	for _, s := range sheets {
		_ = m.Create(context.Background(), s)
	}
	return m
}

func (m *memSheets) Create(_ context.Context, sheet *entity.CharacterSheet) error {
	data, err := json.Marshal(sheet)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[sheet.ID] = data
	m.versions[sheet.ID] = sheet.Version
	return nil
}

func (m *memSheets) CreateBatch(ctx context.Context, sheets []*entity.CharacterSheet) (int64, error) {
	for _, s := range sheets {
		if err := m.Create(ctx, s); err != nil {
			return 0, err
		}
	}
	return int64(len(sheets)), nil
}

func (m *memSheets) GetByID(_ context.Context, id uuid.UUID) (*entity.CharacterSheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sheets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	var s entity.CharacterSheet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *memSheets) sortedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.sheets))
	for id := range m.sheets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (m *memSheets) List(ctx context.Context, limit, offset int) ([]*entity.CharacterSheet, error) {
	ids, err := m.ListIDs(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	var out []*entity.CharacterSheet
	for _, id := range ids {
		s, err := m.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memSheets) ListIDs(_ context.Context, limit, offset int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.sortedIDs()
	if offset >= len(ids) {
		return nil, nil
	}
	end := min(offset+limit, len(ids))
	return ids[offset:end], nil
}

func (m *memSheets) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sheets)), nil
}

func (m *memSheets) Update(_ context.Context, sheet *entity.CharacterSheet) error {
	if hook := m.beforeUpdate; hook != nil {
		hook(sheet.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	version, ok := m.versions[sheet.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if version != sheet.Version {
		return repository.ErrConflict
	}
	sheet.Version++
	sheet.UpdatedAt = time.Now()
	data, err := json.Marshal(sheet)
	if err != nil {
		return err
	}
	m.sheets[sheet.ID] = data
	m.versions[sheet.ID] = sheet.Version
	return nil
}

// bump stores a copy of the sheet with one field changed, as another writer would
func (m *memSheets) bump(id uuid.UUID, key string, v formula.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s entity.CharacterSheet
	if err := json.Unmarshal(m.sheets[id], &s); err != nil {
		panic(err)
	}
	if f, ok := s.Field(key); ok {
		f.Value = v
	}
	s.Version++
	data, err := json.Marshal(&s)
	if err != nil {
		panic(err)
	}
	m.sheets[id] = data
	m.versions[id] = s.Version
}

func (m *memSheets) UpdateBatch(ctx context.Context, sheets []*entity.CharacterSheet) (int64, error) {
	var n int64
	for _, s := range sheets {
		if err := m.Update(ctx, s); err == nil {
			n++
		}
	}
	return n, nil
}

func (m *memSheets) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.sheets, id)
	delete(m.versions, id)
	return nil
}

// memJobs is an in-memory BatchJobRepository
type memJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.BatchJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[uuid.UUID]*entity.BatchJob)}
}

func (m *memJobs) Create(_ context.Context, job *entity.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) GetByID(_ context.Context, id uuid.UUID) (*entity.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) with(id uuid.UUID, fn func(*entity.BatchJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(job)
	return nil
}

func (m *memJobs) UpdateStatus(_ context.Context, id uuid.UUID, status entity.JobStatus, processed, failed int64) error {
	return m.with(id, func(j *entity.BatchJob) {
		j.Status, j.ProcessedRecords, j.FailedRecords = status, processed, failed
	})
}

func (m *memJobs) UpdateProgress(_ context.Context, id uuid.UUID, processed, failed int64) error {
	return m.with(id, func(j *entity.BatchJob) {
		j.ProcessedRecords += processed
		j.FailedRecords += failed
	})
}

func (m *memJobs) SetTotal(_ context.Context, id uuid.UUID, total int64) error {
	return m.with(id, func(j *entity.BatchJob) { j.TotalRecords = total })
}

func (m *memJobs) Complete(_ context.Context, id uuid.UUID) error {
	return m.with(id, func(j *entity.BatchJob) {
		now := time.Now()
		j.Status, j.FinishedAt = entity.JobStatusCompleted, &now
	})
}

func (m *memJobs) Fail(_ context.Context, id uuid.UUID, errorMsg string) error {
	return m.with(id, func(j *entity.BatchJob) {
		now := time.Now()
		j.Status, j.ErrorMessage, j.FinishedAt = entity.JobStatusFailed, errorMsg, &now
	})
}

func (m *memJobs) ListRecent(_ context.Context, limit int) ([]*entity.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.BatchJob
	for _, j := range m.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
