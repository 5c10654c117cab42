package sheet

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
	"github.com/ilramdhan/sheetcalc/pkg/formula"
)

func numberField(key string, v int64) *entity.Field {
	return &entity.Field{Key: key, Type: entity.FieldTypeNumber, Value: formula.IntValue(v)}
}

func formulaField(key, text string) *entity.Field {
	return &entity.Field{Key: key, Type: entity.FieldTypeNumber, Formula: text}
}

func fighter() *entity.CharacterSheet {
	return &entity.CharacterSheet{
		ID:   uuid.New(),
		Name: "Bruenor",
		Fields: []*entity.Field{
			formulaField("attack", "str_mod + prof"),
			numberField("str", 14),
			numberField("prof", 2),
			formulaField("str_mod", "floor((str - 10) / 2)"),
			numberField("dex", 12),
			formulaField("dex_mod", "floor((dex - 10) / 2)"),
		},
	}
}

func value(t *testing.T, s *entity.CharacterSheet, key string) formula.Value {
	t.Helper()
	f, ok := s.Field(key)
	require.True(t, ok, key)
	return f.Value
}

func TestRecompute(t *testing.T) {
	engine := NewComputeEngine(nil, formula.MissingAsZero)
	s := fighter()

	report := engine.Recompute(s)

	assert.False(t, report.Failed())
	assert.Equal(t, []string{"str_mod", "attack", "dex_mod"}, report.Evaluated)
	assert.Equal(t, formula.IntValue(2), value(t, s, "str_mod"))
	assert.Equal(t, formula.IntValue(4), value(t, s, "attack"))
	assert.Equal(t, formula.IntValue(1), value(t, s, "dex_mod"))
}

func TestRecomputeFailingFieldKeepsPriorValue(t *testing.T) {
	engine := NewComputeEngine(nil, formula.MissingAsZero)
	s := fighter()
	broken := formulaField("ratio", "str / (prof - 2)")
	broken.Value = formula.IntValue(7)
	s.Fields = append(s.Fields, broken)

	report := engine.Recompute(s)

	require.True(t, report.Failed())
	assert.Contains(t, report.Errors["ratio"], "division by zero")
	assert.Equal(t, formula.IntValue(7), broken.Value)
	assert.NotEmpty(t, broken.Error)
	assert.Equal(t, formula.IntValue(4), value(t, s, "attack"))
}

func TestRecomputeCircularReference(t *testing.T) {
	engine := NewComputeEngine(nil, formula.MissingAsZero)
	s := &entity.CharacterSheet{
		ID: uuid.New(),
		Fields: []*entity.Field{
			formulaField("a", "b + 1"),
			formulaField("b", "a + 1"),
			formulaField("c", "1 + 1"),
		},
	}

	report := engine.Recompute(s)

	assert.Contains(t, report.Errors["a"], "circular reference")
	assert.Contains(t, report.Errors["b"], "circular reference")
	assert.Equal(t, []string{"c"}, report.Evaluated)
	assert.Equal(t, formula.IntValue(2), value(t, s, "c"))
}

func TestRecomputeMissingFieldPolicy(t *testing.T) {
	s := &entity.CharacterSheet{ID: uuid.New(), Fields: []*entity.Field{formulaField("total", "bonus + 3")}}

	report := NewComputeEngine(nil, formula.MissingAsZero).Recompute(s)
	assert.False(t, report.Failed())
	assert.Equal(t, formula.IntValue(3), value(t, s, "total"))
	require.Len(t, report.Warnings["total"], 1)
	assert.Contains(t, report.Warnings["total"][0], "bonus")

	s.Fields[0].Value = formula.IntValue(0)
	report = NewComputeEngine(nil, formula.MissingIsError).Recompute(s)
	assert.True(t, report.Failed())
	assert.Contains(t, report.Errors["total"], "bonus")
	assert.Equal(t, formula.IntValue(0), value(t, s, "total"))
}

func TestRecomputeExprDialect(t *testing.T) {
	s := fighter()
	f := formulaField("label", `str >= 14 ? "strong" : "weak"`)
	f.Type = entity.FieldTypeText
	f.Dialect = formula.DialectExpr
	s.Fields = append(s.Fields, f)

	report := NewComputeEngine(nil, formula.MissingAsZero).Recompute(s)

	assert.False(t, report.Failed(), report.Errors)
	assert.Equal(t, formula.StringValue("strong"), f.Value)
}

func TestSetFieldValue(t *testing.T) {
	ctx := context.Background()
	s := fighter()
	repo := newMemSheets(s)
	engine := NewComputeEngine(repo, formula.MissingAsZero)

	updated, report, err := engine.SetFieldValue(ctx, s.ID, "str", formula.IntValue(18))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"str_mod", "attack"}, report.Evaluated)
	assert.Equal(t, formula.IntValue(4), value(t, updated, "str_mod"))
	assert.Equal(t, formula.IntValue(6), value(t, updated, "attack"))
	assert.Equal(t, int64(1), updated.Version)

	stored, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, formula.IntValue(18), value(t, stored, "str"))
	assert.Equal(t, formula.IntValue(6), value(t, stored, "attack"))
}

func TestSetFieldValueErrors(t *testing.T) {
	ctx := context.Background()
	s := fighter()
	engine := NewComputeEngine(newMemSheets(s), formula.MissingAsZero)

	_, _, err := engine.SetFieldValue(ctx, s.ID, "nope", formula.IntValue(1))
	assert.ErrorIs(t, err, ErrFieldNotFound)

	_, _, err = engine.SetFieldValue(ctx, s.ID, "attack", formula.IntValue(1))
	assert.ErrorIs(t, err, ErrComputedField)

	_, _, err = engine.SetFieldValue(ctx, uuid.New(), "str", formula.IntValue(1))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSetFieldValueReplaysAfterConcurrentEdit(t *testing.T) {
	ctx := context.Background()
	s := fighter()
	repo := newMemSheets(s)
	engine := NewComputeEngine(repo, formula.MissingAsZero)

	edits := 0
	repo.beforeUpdate = func(id uuid.UUID) {
		if edits == 0 {
			repo.bump(id, "prof", formula.IntValue(3))
		}
		edits++
	}

	updated, _, err := engine.SetFieldValue(ctx, s.ID, "str", formula.IntValue(18))
	require.NoError(t, err)
	assert.Equal(t, 2, edits)
	assert.Equal(t, int64(2), updated.Version)

	stored, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, formula.IntValue(18), value(t, stored, "str"))
	assert.Equal(t, formula.IntValue(3), value(t, stored, "prof"))
	assert.Equal(t, formula.IntValue(7), value(t, stored, "attack"))
}

func TestSetFieldValueGivesUpOnConflict(t *testing.T) {
	ctx := context.Background()
	s := fighter()
	repo := newMemSheets(s)
	engine := NewComputeEngine(repo, formula.MissingAsZero)
	repo.beforeUpdate = func(id uuid.UUID) { repo.bump(id, "dex", formula.IntValue(10)) }

	_, _, err := engine.SetFieldValue(ctx, s.ID, "str", formula.IntValue(18))
	assert.ErrorIs(t, err, repository.ErrConflict)

	repo.beforeUpdate = nil
	stored, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, formula.IntValue(14), value(t, stored, "str"))
	assert.Equal(t, int64(maxUpdateAttempts), stored.Version)
}

func TestSetFieldFormula(t *testing.T) {
	ctx := context.Background()
	s := fighter()
	repo := newMemSheets(s)
	engine := NewComputeEngine(repo, formula.MissingAsZero)

	updated, report, err := engine.SetFieldFormula(ctx, s.ID, "str_mod", "(str - 10) / 2 + 1", formula.DialectNative)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"str_mod", "attack"}, report.Evaluated)
	assert.Equal(t, formula.IntValue(3), value(t, updated, "str_mod"))
	assert.Equal(t, formula.IntValue(5), value(t, updated, "attack"))

	// a rejected formula leaves the stored sheet untouched
	_, _, err = engine.SetFieldFormula(ctx, s.ID, "str_mod", "(str - 10", formula.DialectNative)
	var parseErr *formula.ParseError
	require.True(t, errors.As(err, &parseErr))
	stored, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	f, _ := stored.Field("str_mod")
	assert.Equal(t, "(str - 10) / 2 + 1", f.Formula)

	// clearing turns the field into a plain input
	updated, _, err = engine.SetFieldFormula(ctx, s.ID, "str_mod", "", "")
	require.NoError(t, err)
	f, _ = updated.Field("str_mod")
	assert.False(t, f.IsComputed())
	assert.Equal(t, formula.IntValue(3), f.Value)

	_, _, err = engine.SetFieldFormula(ctx, s.ID, "str_mod", "1", "lua")
	assert.Error(t, err)
}

func TestSetFieldFormulaCycle(t *testing.T) {
	ctx := context.Background()
	s := fighter()
	engine := NewComputeEngine(newMemSheets(s), formula.MissingAsZero)

	updated, report, err := engine.SetFieldFormula(ctx, s.ID, "str_mod", "attack - prof", formula.DialectNative)
	require.NoError(t, err)
	assert.Contains(t, report.Errors["str_mod"], "circular reference")
	assert.Contains(t, report.Errors["attack"], "circular reference")
	f, _ := updated.Field("attack")
	assert.NotEmpty(t, f.Error)
}

func TestRecomputeSheet(t *testing.T) {
	ctx := context.Background()
	s := fighter()
	repo := newMemSheets(s)
	engine := NewComputeEngine(repo, formula.MissingAsZero)

	updated, report, err := engine.RecomputeSheet(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, report.Evaluated, 3)
	assert.Equal(t, formula.IntValue(4), value(t, updated, "attack"))

	_, _, err = engine.RecomputeSheet(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func BenchmarkRecompute(b *testing.B) {
	engine := NewComputeEngine(nil, formula.MissingAsZero)
	s := fighter()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Recompute(s)
	}
}
