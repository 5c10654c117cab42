// Package api exposes character sheets and the formula engine over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/internal/domain/repository"
	"github.com/ilramdhan/sheetcalc/internal/modules/sheet"
	"github.com/ilramdhan/sheetcalc/pkg/formula"
)

// Deps are the services the HTTP handlers work on
type Deps struct {
	Sheets     repository.CharacterSheetRepository
	Jobs       repository.BatchJobRepository
	Engine     *sheet.ComputeEngine
	WorkerPool *sheet.WorkerPool
	Policy     formula.MissingFieldPolicy
	// AccessLog enables the request logger middleware
	AccessLog bool
}

type createSheetRequest struct {
	Name      string          `json:"name"`
	OwnerName string          `json:"owner_name"`
	Fields    []*entity.Field `json:"fields"`
}

type setValueRequest struct {
	Value *formula.Value `json:"value"`
}

type setFormulaRequest struct {
	Formula string `json:"formula"`
	Dialect string `json:"dialect"`
}

type evaluateRequest struct {
	Formula string                   `json:"formula"`
	Dialect string                   `json:"dialect"`
	Fields  map[string]formula.Value `json:"fields"`
}

// NewApp builds the fiber application with every route registered
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Sheetcalc API",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: false,
	})

	// Middleware
	app.Use(recover.New())
	if d.AccessLog {
		app.Use(logger.New())
	}
	app.Use(cors.New())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// API v1 routes
	api := app.Group("/api/v1")

	// Sheet endpoints
	api.Get("/sheets", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		limit := c.QueryInt("limit", 20)
		offset := c.QueryInt("offset", 0)
		sheets, err := d.Sheets.List(ctx, limit, offset)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		count, _ := d.Sheets.Count(ctx)
		return c.JSON(fiber.Map{
			"data":   sheets,
			"total":  count,
			"limit":  limit,
			"offset": offset,
		})
	})

	api.Post("/sheets", func(c *fiber.Ctx) error {
		var req createSheetRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.Name == "" {
			return c.Status(400).JSON(fiber.Map{"error": "name is required"})
		}
		seen := make(map[string]bool, len(req.Fields))
		for i, f := range req.Fields {
			if f == nil || f.Key == "" {
				return c.Status(400).JSON(fiber.Map{"error": "field key is required"})
			}
			if seen[f.Key] {
				return c.Status(400).JSON(fiber.Map{"error": "duplicate field key " + f.Key})
			}
			seen[f.Key] = true
			if f.Type == "" {
				f.Type = entity.FieldTypeNumber
			}
			if f.SequenceOrder == 0 {
				f.SequenceOrder = i + 1
			}
			if f.IsComputed() {
				dialect, err := formula.ParseDialect(string(f.Dialect))
				if err != nil {
					return c.Status(400).JSON(fiber.Map{"error": err.Error()})
				}
				f.Dialect = dialect
				if err := checkFormula(f.Formula, f.Dialect, d.Policy); err != nil {
					return formulaError(c, err)
				}
			}
		}

		now := time.Now()
		s := &entity.CharacterSheet{
			ID:        uuid.New(),
			Name:      req.Name,
			OwnerName: req.OwnerName,
			Fields:    req.Fields,
			CreatedAt: now,
			UpdatedAt: now,
		}
		report := d.Engine.Recompute(s)
		if err := d.Sheets.Create(c.UserContext(), s); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(fiber.Map{"sheet": s, "report": report})
	})

	api.Get("/sheets/:id", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid id"})
		}
		s, err := d.Sheets.GetByID(c.UserContext(), id)
		if err != nil {
			return storageError(c, err)
		}
		return c.JSON(s)
	})

	api.Delete("/sheets/:id", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid id"})
		}
		if err := d.Sheets.Delete(c.UserContext(), id); err != nil {
			return storageError(c, err)
		}
		return c.SendStatus(204)
	})

	api.Post("/sheets/:id/recalculate", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid id"})
		}
		s, report, err := d.Engine.RecomputeSheet(c.UserContext(), id)
		if err != nil {
			return storageError(c, err)
		}
		return c.JSON(fiber.Map{"sheet": s, "report": report})
	})

	api.Put("/sheets/:id/fields/:key/value", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid id"})
		}
		var req setValueRequest
		if err := c.BodyParser(&req); err != nil || req.Value == nil {
			return c.Status(400).JSON(fiber.Map{"error": "value is required"})
		}
		s, report, err := d.Engine.SetFieldValue(c.UserContext(), id, c.Params("key"), *req.Value)
		if err != nil {
			return storageError(c, err)
		}
		return c.JSON(fiber.Map{"sheet": s, "report": report})
	})

	api.Put("/sheets/:id/fields/:key/formula", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid id"})
		}
		var req setFormulaRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
		dialect, err := formula.ParseDialect(req.Dialect)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		s, report, err := d.Engine.SetFieldFormula(c.UserContext(), id, c.Params("key"), req.Formula, dialect)
		if err != nil {
			var parseErr *formula.ParseError
			if errors.As(err, &parseErr) {
				return formulaError(c, err)
			}
			return storageError(c, err)
		}
		return c.JSON(fiber.Map{"sheet": s, "report": report})
	})

	// Formula endpoints
	api.Post("/formulas/validate", func(c *fiber.Ctx) error {
		var req setFormulaRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
		dialect, err := formula.ParseDialect(req.Dialect)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		eng, err := formula.NewEngine(dialect, formula.WithMissingFieldPolicy(d.Policy))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		if err := eng.SetFormula(req.Formula); err != nil {
			return formulaError(c, err)
		}
		return c.JSON(fiber.Map{"valid": true, "fields": eng.Fields()})
	})

	api.Post("/formulas/evaluate", func(c *fiber.Ctx) error {
		var req evaluateRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
		dialect, err := formula.ParseDialect(req.Dialect)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		resolver := formula.MapResolver(req.Fields)
		eng, err := formula.NewEngine(dialect, formula.WithMissingFieldPolicy(d.Policy))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		if err := eng.SetFormula(req.Formula); err != nil {
			return formulaError(c, err)
		}
		result, err := eng.Evaluate(resolver)
		if err != nil {
			return formulaError(c, err)
		}
		warnings := make([]string, 0, len(result.Warnings))
		for _, w := range result.Warnings {
			warnings = append(warnings, w.Error())
		}
		return c.JSON(fiber.Map{
			"value":    result.Value,
			"display":  result.Value.String(),
			"warnings": warnings,
		})
	})

	// Recalculation endpoints
	api.Post("/recalculate/all", func(c *fiber.Ctx) error {
		now := time.Now()
		job := &entity.BatchJob{
			ID:        uuid.New(),
			JobType:   entity.JobTypeRecalculateAll,
			Status:    entity.JobStatusPending,
			Metadata:  map[string]interface{}{"policy": policyName(d.Policy)},
			CreatedAt: now,
			StartedAt: &now,
		}
		if err := d.Jobs.Create(c.UserContext(), job); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		// Start async recalculation
		go func() {
			if err := d.WorkerPool.RecalculateAll(context.Background(), job.ID); err != nil {
				log.Printf("Recalculation failed: %v", err)
			}
		}()

		return c.Status(202).JSON(fiber.Map{
			"job_id":  job.ID,
			"message": "Recalculation started",
			"status":  job.Status,
		})
	})

	// Job status endpoints
	api.Get("/jobs", func(c *fiber.Ctx) error {
		jobs, err := d.Jobs.ListRecent(c.UserContext(), c.QueryInt("limit", 20))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"data": jobs})
	})

	api.Get("/jobs/:id", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid id"})
		}
		job, err := d.Jobs.GetByID(c.UserContext(), id)
		if err != nil {
			return storageError(c, err)
		}
		return c.JSON(fiber.Map{
			"job":      job,
			"progress": job.Progress(),
		})
	})

	// Stats endpoint
	api.Get("/stats", func(c *fiber.Ctx) error {
		sheetCount, _ := d.Sheets.Count(c.UserContext())
		return c.JSON(fiber.Map{
			"sheets":    sheetCount,
			"policy":    policyName(d.Policy),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	return app
}
