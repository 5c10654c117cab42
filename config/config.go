package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ilramdhan/sheetcalc/pkg/formula"
)

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Worker   WorkerConfig
	Formula  FormulaConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"APP_PORT" envDefault:"8080"`
}

// StorageConfig selects where sheets are kept
type StorageConfig struct {
	Driver     string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"sheetcalc.db"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            string        `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER" envDefault:"postgres"`
	Password        string        `env:"DB_PASSWORD" envDefault:"postgres"`
	Name            string        `env:"DB_NAME" envDefault:"sheetcalc"`
	PoolMax         int           `env:"DB_POOL_MAX" envDefault:"50"`
	PoolMinConns    int           `env:"DB_POOL_MIN" envDefault:"10"`
	PoolMaxConnLife time.Duration `env:"DB_POOL_MAX_CONN_LIFE" envDefault:"30m"`
}

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	Count     int `env:"WORKER_COUNT" envDefault:"100"`
	BatchSize int `env:"BATCH_SIZE" envDefault:"1000"`
}

// FormulaConfig holds formula evaluation settings
type FormulaConfig struct {
	// MissingFields is "zero" or "strict"
	MissingFields string `env:"FORMULA_MISSING_FIELDS" envDefault:"zero"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch cfg.Storage.Driver {
	case StoragePostgres, StorageSQLite:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Storage.Driver)
	}
	if _, err := cfg.Formula.Policy(); err != nil {
		return nil, err
	}
	if cfg.Worker.Count < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be positive, got %d", cfg.Worker.Count)
	}
	if cfg.Worker.BatchSize < 1 {
		return nil, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.Worker.BatchSize)
	}
	return &cfg, nil
}

// Policy returns the missing field policy named by MissingFields
func (c *FormulaConfig) Policy() (formula.MissingFieldPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(c.MissingFields)) {
	case "", "zero":
		return formula.MissingAsZero, nil
	case "strict", "error":
		return formula.MissingIsError, nil
	default:
		return 0, fmt.Errorf("unknown FORMULA_MISSING_FIELDS %q", c.MissingFields)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.Name + "?sslmode=disable"
}
