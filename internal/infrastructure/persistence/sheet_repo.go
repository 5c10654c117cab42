package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
)

// characterSheetRepo implements repository.CharacterSheetRepository
type characterSheetRepo struct {
	pool *pgxpool.Pool
}

// NewCharacterSheetRepository creates a new character sheet repository
func NewCharacterSheetRepository(pool *pgxpool.Pool) repository.CharacterSheetRepository {
	return &characterSheetRepo{pool: pool}
}

const sheetColumns = `id, name, owner_name, fields, version, created_at, updated_at`

func scanSheet(row pgx.Row) (*entity.CharacterSheet, error) {
	var s entity.CharacterSheet
	var fields []byte
	if err := row.Scan(&s.ID, &s.Name, &s.OwnerName, &fields, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(fields, &s.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields of sheet %s: %w", s.ID, err)
	}
	return &s, nil
}

func (r *characterSheetRepo) Create(ctx context.Context, sheet *entity.CharacterSheet) error {
	fields, err := sheet.FieldsJSON()
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	query := `
		INSERT INTO character_sheets (` + sheetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		sheet.ID, sheet.Name, sheet.OwnerName, fields, sheet.Version, sheet.CreatedAt, sheet.UpdatedAt)
	return err
}

// CreateBatch uses PostgreSQL COPY protocol for high-performance bulk inserts
func (r *characterSheetRepo) CreateBatch(ctx context.Context, sheets []*entity.CharacterSheet) (int64, error) {
	if len(sheets) == 0 {
		return 0, nil
	}
	columns := []string{"id", "name", "owner_name", "fields", "version", "created_at", "updated_at"}
	rows := make([][]interface{}, len(sheets))
	for i, s := range sheets {
		fields, err := s.FieldsJSON()
		if err != nil {
			return 0, fmt.Errorf("failed to encode fields of sheet %s: %w", s.ID, err)
		}
		rows[i] = []interface{}{s.ID, s.Name, s.OwnerName, fields, s.Version, s.CreatedAt, s.UpdatedAt}
	}
	return r.pool.CopyFrom(ctx, pgx.Identifier{"character_sheets"}, columns, pgx.CopyFromRows(rows))
}

func (r *characterSheetRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.CharacterSheet, error) {
	query := `SELECT ` + sheetColumns + ` FROM character_sheets WHERE id = $1`
	return scanSheet(r.pool.QueryRow(ctx, query, id))
}

func (r *characterSheetRepo) List(ctx context.Context, limit, offset int) ([]*entity.CharacterSheet, error) {
	query := `SELECT ` + sheetColumns + ` FROM character_sheets ORDER BY name, id LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
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

func (r *characterSheetRepo) ListIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error) {
	query := `SELECT id FROM character_sheets ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *characterSheetRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM character_sheets`).Scan(&count)
	return count, err
}

func (r *characterSheetRepo) Update(ctx context.Context, sheet *entity.CharacterSheet) error {
	fields, err := sheet.FieldsJSON()
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	now := time.Now()
	query := `
		UPDATE character_sheets
		SET name = $2, owner_name = $3, fields = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $6
		RETURNING version
	`
	err = r.pool.QueryRow(ctx, query, sheet.ID, sheet.Name, sheet.OwnerName, fields, now, sheet.Version).Scan(&sheet.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.missOrConflict(ctx, sheet.ID)
	}
	if err != nil {
		return err
	}
	sheet.UpdatedAt = now
	return nil
}

// missOrConflict tells a deleted sheet apart from one whose version moved on
func (r *characterSheetRepo) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM character_sheets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return repository.ErrConflict
	}
	return repository.ErrNotFound
}

// UpdateBatch copies the new field sets into a temp table and applies them
// with a single UPDATE ... FROM
func (r *characterSheetRepo) UpdateBatch(ctx context.Context, sheets []*entity.CharacterSheet) (int64, error) {
	if len(sheets) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("temp_sheets_%d", time.Now().UnixNano())
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		CREATE TEMP TABLE %s (
			id UUID,
			fields JSONB,
			version BIGINT,
			updated_at TIMESTAMPTZ
		) ON COMMIT DROP
	`, tempTable))
	if err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}

	now := time.Now()
	columns := []string{"id", "fields", "version", "updated_at"}
	rows := make([][]interface{}, len(sheets))
	for i, s := range sheets {
		fields, err := s.FieldsJSON()
		if err != nil {
			return 0, fmt.Errorf("failed to encode fields of sheet %s: %w", s.ID, err)
		}
		rows[i] = []interface{}{s.ID, fields, s.Version, now}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, fmt.Errorf("failed to copy to temp table: %w", err)
	}

	// Sheets edited since they were read keep the newer version
	updatedRows, err := tx.Query(ctx, fmt.Sprintf(`
		UPDATE character_sheets cs
		SET fields = t.fields, version = cs.version + 1, updated_at = t.updated_at
		FROM %s t
		WHERE cs.id = t.id AND cs.version = t.version
		RETURNING cs.id, cs.version
	`, tempTable))
	if err != nil {
		return 0, fmt.Errorf("failed to update from temp table: %w", err)
	}
	versions := make(map[uuid.UUID]int64, len(sheets))
	for updatedRows.Next() {
		var id uuid.UUID
		var version int64
		if err := updatedRows.Scan(&id, &version); err != nil {
			updatedRows.Close()
			return 0, fmt.Errorf("failed to scan updated sheet: %w", err)
		}
		versions[id] = version
	}
	updatedRows.Close()
	if err := updatedRows.Err(); err != nil {
		return 0, fmt.Errorf("failed to update from temp table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, s := range sheets {
		if version, ok := versions[s.ID]; ok {
			s.Version = version
			s.UpdatedAt = now
		}
	}
	return int64(len(versions)), nil
}

func (r *characterSheetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM character_sheets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
