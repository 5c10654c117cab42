// Package sheet keeps the computed fields of character sheets up to date.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
	"github.com/ilramdhan/sheetcalc/pkg/formula"
)

var (
	// ErrFieldNotFound is returned when a sheet has no field with the given key
	ErrFieldNotFound = errors.New("field not found")
	// ErrComputedField is returned when a value is written to a formula field
	ErrComputedField = errors.New("field is computed by a formula")
	// ErrCircularReference is recorded on every field that takes part in a cycle
	ErrCircularReference = errors.New("circular reference")
)

// Report summarises one recompute pass
type Report struct {
	Evaluated []string            `json:"evaluated"`
	Errors    map[string]string   `json:"errors,omitempty"`
	Warnings  map[string][]string `json:"warnings,omitempty"`
}

func newReport() *Report {
	return &Report{
		Errors:   make(map[string]string),
		Warnings: make(map[string][]string),
	}
}

// Failed reports whether any formula field failed
func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

func (r *Report) fail(f *entity.Field, err error) {
	f.Error = err.Error()
	r.Errors[f.Key] = f.Error
}

// ComputeEngine evaluates formula fields against the other fields of their sheet
type ComputeEngine struct {
	sheetRepo repository.CharacterSheetRepository
	policy    formula.MissingFieldPolicy
}

// NewComputeEngine creates a new compute engine
func NewComputeEngine(sheetRepo repository.CharacterSheetRepository, policy formula.MissingFieldPolicy) *ComputeEngine {
	return &ComputeEngine{
		sheetRepo: sheetRepo,
		policy:    policy,
	}
}

// compiled holds the parsed formulas of one sheet for the duration of a pass
type compiled struct {
	engines map[string]formula.Engine
	graph   *DependencyGraph
}

func (e *ComputeEngine) compile(sheet *entity.CharacterSheet, report *Report) *compiled {
	c := &compiled{engines: make(map[string]formula.Engine)}
	var keys []string
	reads := make(map[string][]string)

	for _, f := range sheet.Fields {
		if !f.IsComputed() {
			continue
		}
		keys = append(keys, f.Key)
		eng, err := formula.NewEngine(f.Dialect, formula.WithMissingFieldPolicy(e.policy))
		if err == nil {
			err = eng.SetFormula(f.Formula)
		}
		if err != nil {
			report.fail(f, err)
			continue
		}
		c.engines[f.Key] = eng
		reads[f.Key] = eng.Fields()
	}
	c.graph = NewDependencyGraph(keys, reads)
	return c
}

// Recompute evaluates every formula field of sheet in dependency order.
// A failing field keeps its previous value and carries the error; the
// remaining fields are still evaluated.
func (e *ComputeEngine) Recompute(sheet *entity.CharacterSheet) *Report {
	report := newReport()
	c := e.compile(sheet, report)
	e.run(sheet, c, nil, report)
	return report
}

// run evaluates the fields in calculation order. When only is non-nil, fields
// outside it are skipped.
func (e *ComputeEngine) run(sheet *entity.CharacterSheet, c *compiled, only map[string]bool, report *Report) {
	order, cyclic := c.graph.CalculationOrder()
	for key := range cyclic {
		if only != nil && !only[key] {
			continue
		}
		if f, ok := sheet.Field(key); ok {
			report.fail(f, fmt.Errorf("%w involving %q", ErrCircularReference, key))
		}
	}

	for _, key := range order {
		if only != nil && !only[key] {
			continue
		}
		eng, ok := c.engines[key]
		if !ok {
			continue // failed to parse, already reported
		}
		f, _ := sheet.Field(key)
		result, err := eng.Evaluate(sheet)
		if err != nil {
			report.fail(f, err)
			continue
		}
		f.Value = result.Value
		f.Error = ""
		report.Evaluated = append(report.Evaluated, key)
		for _, w := range result.Warnings {
			report.Warnings[key] = append(report.Warnings[key], w.Error())
		}
	}
}

// maxUpdateAttempts bounds how often a sheet edit is replayed on a fresh
// read after losing a version race
const maxUpdateAttempts = 3

// modify loads a sheet, applies change and stores it. When another writer
// stored the sheet in between, the change is replayed on a fresh copy.
func (e *ComputeEngine) modify(ctx context.Context, sheetID uuid.UUID, change func(*entity.CharacterSheet) (*Report, error)) (*entity.CharacterSheet, *Report, error) {
	var lastErr error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		sheet, err := e.sheetRepo.GetByID(ctx, sheetID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get sheet: %w", err)
		}
		report, err := change(sheet)
		if err != nil {
			return nil, nil, err
		}
		err = e.sheetRepo.Update(ctx, sheet)
		if err == nil {
			return sheet, report, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, nil, fmt.Errorf("failed to update sheet: %w", err)
		}
		log.Printf("Sheet %s was modified concurrently (attempt %d/%d)", sheetID, attempt, maxUpdateAttempts)
		lastErr = err
	}
	return nil, nil, fmt.Errorf("failed to update sheet: %w", lastErr)
}

// SetFieldValue stores a new input value and recomputes the fields that
// depend on it
func (e *ComputeEngine) SetFieldValue(ctx context.Context, sheetID uuid.UUID, key string, value formula.Value) (*entity.CharacterSheet, *Report, error) {
	return e.modify(ctx, sheetID, func(sheet *entity.CharacterSheet) (*Report, error) {
		f, ok := sheet.Field(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, key)
		}
		if f.IsComputed() {
			return nil, fmt.Errorf("%w: %s", ErrComputedField, key)
		}
		f.Value = value

		report := newReport()
		c := e.compile(sheet, report)
		e.run(sheet, c, c.graph.Affected(key), report)
		return report, nil
	})
}

// SetFieldFormula validates and stores the formula of a field, then
// recomputes the field and its dependents. An empty text turns the field
// back into a plain input that keeps its last value.
func (e *ComputeEngine) SetFieldFormula(ctx context.Context, sheetID uuid.UUID, key, text string, dialect formula.Dialect) (*entity.CharacterSheet, *Report, error) {
	if text != "" {
		eng, err := formula.NewEngine(dialect, formula.WithMissingFieldPolicy(e.policy))
		if err != nil {
			return nil, nil, err
		}
		if err := eng.SetFormula(text); err != nil {
			return nil, nil, err
		}
	}

	return e.modify(ctx, sheetID, func(sheet *entity.CharacterSheet) (*Report, error) {
		f, ok := sheet.Field(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, key)
		}
		f.Formula = text
		f.Dialect = dialect
		f.Error = ""
		if text == "" {
			f.Dialect = ""
		}

		report := newReport()
		c := e.compile(sheet, report)
		only := c.graph.Affected(key)
		only[key] = true
		e.run(sheet, c, only, report)
		return report, nil
	})
}

// RecomputeSheet loads a sheet, recomputes all of its formula fields and stores it
func (e *ComputeEngine) RecomputeSheet(ctx context.Context, sheetID uuid.UUID) (*entity.CharacterSheet, *Report, error) {
	sheet, report, err := e.modify(ctx, sheetID, func(sheet *entity.CharacterSheet) (*Report, error) {
		return e.Recompute(sheet), nil
	})
	if err != nil {
		return nil, nil, err
	}
	if report.Failed() {
		log.Printf("Warning: sheet %s has %d failing formula fields", sheetID, len(report.Errors))
	}
	return sheet, report, nil
}
