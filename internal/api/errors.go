package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
	"github.com/ilramdhan/sheetcalc/internal/modules/sheet"
	"github.com/ilramdhan/sheetcalc/pkg/formula"
)

func checkFormula(text string, dialect formula.Dialect, policy formula.MissingFieldPolicy) error {
	eng, err := formula.NewEngine(dialect, formula.WithMissingFieldPolicy(policy))
	if err != nil {
		return err
	}
	return eng.SetFormula(text)
}

// formulaError answers 422 for formulas that do not parse or evaluate,
// with the byte offset of the offending token when known
func formulaError(c *fiber.Ctx, err error) error {
	body := fiber.Map{"error": err.Error()}

	var parseErr *formula.ParseError
	var evalErr *formula.EvaluationError
	switch {
	case errors.As(err, &parseErr):
		body["position"] = parseErr.Pos
		body["kind"] = "parse"
	case errors.As(err, &evalErr):
		body["position"] = evalErr.Pos
		body["kind"] = "evaluation"
	default:
		return c.Status(400).JSON(body)
	}
	return c.Status(422).JSON(body)
}

// storageError maps repository and engine errors to a status code
func storageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, sheet.ErrFieldNotFound):
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, sheet.ErrComputedField), errors.Is(err, repository.ErrConflict):
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
}

func policyName(p formula.MissingFieldPolicy) string {
	if p == formula.MissingIsError {
		return "strict"
	}
	return "zero"
}
