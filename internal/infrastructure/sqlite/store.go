// Package sqlite provides a single-file SQLite storage for offline use of
// character sheets, implementing the same repositories as the PostgreSQL
// persistence layer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
	"github.com/ilramdhan/sheetcalc/internal/infrastructure/sqlite/migrations"
)

const migrationTable = "schema_migrations"

// Store owns the SQLite handle shared by the sheet and job repositories.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Sheets returns the character sheet repository.
func (s *Store) Sheets() repository.CharacterSheetRepository {
	return &sheetStore{db: s.sqlDB}
}

// Jobs returns the batch job repository.
func (s *Store) Jobs() repository.BatchJobRepository {
	return &jobStore{db: s.sqlDB}
}

// applyMigrations executes each embedded migration at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", file, err)
		}
		if _, err := tx.Exec(extractUpMigration(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// extractUpMigration returns the SQL in the -- +migrate Up section.
func extractUpMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

type sheetStore struct {
	db *sql.DB
}

const sheetColumns = `id, name, owner_name, fields, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSheet(row rowScanner) (*entity.CharacterSheet, error) {
	var (
		s                    entity.CharacterSheet
		id, fields           string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &s.Name, &s.OwnerName, &fields, &s.Version, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid sheet id %q: %w", id, err)
	}
	s.ID = parsed
	if err := json.Unmarshal([]byte(fields), &s.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of sheet %s: %w", id, err)
	}
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

func (r *sheetStore) insert(ctx context.Context, exec func(context.Context, string, ...any) (sql.Result, error), sheet *entity.CharacterSheet) error {
	fields, err := sheet.FieldsJSON()
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	now := time.Now().UTC()
	if sheet.CreatedAt.IsZero() {
		sheet.CreatedAt = now
	}
	if sheet.UpdatedAt.IsZero() {
		sheet.UpdatedAt = sheet.CreatedAt
	}
	_, err = exec(ctx,
		`INSERT INTO character_sheets (`+sheetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sheet.ID.String(), sheet.Name, sheet.OwnerName, string(fields), sheet.Version,
		toMillis(sheet.CreatedAt), toMillis(sheet.UpdatedAt))
	return err
}

func (r *sheetStore) Create(ctx context.Context, sheet *entity.CharacterSheet) error {
	return r.insert(ctx, r.db.ExecContext, sheet)
}

func (r *sheetStore) CreateBatch(ctx context.Context, sheets []*entity.CharacterSheet) (int64, error) {
	if len(sheets) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, s := range sheets {
		if err := r.insert(ctx, tx.ExecContext, s); err != nil {
			return 0, fmt.Errorf("insert sheet %s: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return int64(len(sheets)), nil
}

func (r *sheetStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.CharacterSheet, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sheetColumns+` FROM character_sheets WHERE id = ?`, id.String())
	return scanSheet(row)
}

func (r *sheetStore) List(ctx context.Context, limit, offset int) ([]*entity.CharacterSheet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sheetColumns+` FROM character_sheets ORDER BY name, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sheets []*entity.CharacterSheet
	for rows.Next() {
		s, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, s)
	}
	return sheets, rows.Err()
}

func (r *sheetStore) ListIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM character_sheets ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid sheet id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *sheetStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM character_sheets`).Scan(&count)
	return count, err
}

type rowQuerier interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func (r *sheetStore) update(ctx context.Context, q rowQuerier, sheet *entity.CharacterSheet, now time.Time) error {
	fields, err := sheet.FieldsJSON()
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	err = q.QueryRowContext(ctx,
		`UPDATE character_sheets
		 SET name = ?, owner_name = ?, fields = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?
		 RETURNING version`,
		sheet.Name, sheet.OwnerName, string(fields), toMillis(now), sheet.ID.String(), sheet.Version,
	).Scan(&sheet.Version)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := q.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM character_sheets WHERE id = ?)`, sheet.ID.String(),
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return repository.ErrConflict
		}
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	sheet.UpdatedAt = now
	return nil
}

func (r *sheetStore) Update(ctx context.Context, sheet *entity.CharacterSheet) error {
	return r.update(ctx, r.db, sheet, time.Now().UTC())
}

func (r *sheetStore) UpdateBatch(ctx context.Context, sheets []*entity.CharacterSheet) (int64, error) {
	if len(sheets) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var updated int64
	for _, s := range sheets {
		err := r.update(ctx, tx, s, now)
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("update sheet %s: %w", s.ID, err)
		}
		updated++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return updated, nil
}

func (r *sheetStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM character_sheets WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type jobStore struct {
	db *sql.DB
}

const jobColumns = `id, job_type, status, total_records, processed_records, failed_records, metadata, error_message, started_at, finished_at, created_at`

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timeFromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func scanJob(row rowScanner) (*entity.BatchJob, error) {
	var (
		job                 entity.BatchJob
		id, metadata        string
		startedAt, finished sql.NullInt64
		createdAt           int64
	)
	err := row.Scan(&id, &job.JobType, &job.Status, &job.TotalRecords, &job.ProcessedRecords, &job.FailedRecords,
		&metadata, &job.ErrorMessage, &startedAt, &finished, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(metadata), &job.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of job %s: %w", id, err)
	}
	job.StartedAt = timeFromNullable(startedAt)
	job.FinishedAt = timeFromNullable(finished)
	job.CreatedAt = fromMillis(createdAt)
	return &job, nil
}

func (r *jobStore) Create(ctx context.Context, job *entity.BatchJob) error {
	metadata, err := job.MetadataJSON()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO batch_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.JobType, job.Status, job.TotalRecords, job.ProcessedRecords, job.FailedRecords,
		string(metadata), job.ErrorMessage, nullableMillis(job.StartedAt), nullableMillis(job.FinishedAt), toMillis(job.CreatedAt))
	return err
}

func (r *jobStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.BatchJob, error) {
	return scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = ?`, id.String()))
}

func (r *jobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus, processed, failed int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE batch_jobs SET status = ?, processed_records = ?, failed_records = ? WHERE id = ?`,
		status, processed, failed, id.String())
	return err
}

func (r *jobStore) UpdateProgress(ctx context.Context, id uuid.UUID, processed, failed int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE batch_jobs SET processed_records = processed_records + ?, failed_records = failed_records + ? WHERE id = ?`,
		processed, failed, id.String())
	return err
}

func (r *jobStore) SetTotal(ctx context.Context, id uuid.UUID, total int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE batch_jobs SET total_records = ? WHERE id = ?`, total, id.String())
	return err
}

func (r *jobStore) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE batch_jobs SET status = ?, finished_at = ? WHERE id = ?`,
		entity.JobStatusCompleted, toMillis(time.Now()), id.String())
	return err
}

func (r *jobStore) Fail(ctx context.Context, id uuid.UUID, errorMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE batch_jobs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		entity.JobStatusFailed, errorMsg, toMillis(time.Now()), id.String())
	return err
}

func (r *jobStore) ListRecent(ctx context.Context, limit int) ([]*entity.BatchJob, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM batch_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*entity.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
