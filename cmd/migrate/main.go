package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/ilramdhan/sheetcalc/config"
	"github.com/ilramdhan/sheetcalc/internal/infrastructure/sqlite"
	"github.com/ilramdhan/sheetcalc/pkg/database"
)

const (
	migrationsDir = "migrations"
	dirUsage      = "Directory holding the *.up.sql and *.down.sql files"
)

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|status> [-dir migrations]")
		os.Exit(1)
	}
	command := os.Args[1]
	flags := flag.NewFlagSet(command, flag.ExitOnError)
	dir := flags.String("dir", migrationsDir, dirUsage)
	flags.Parse(os.Args[2:])

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Driver == config.StorageSQLite {
		// the sqlite store migrates itself from its embedded schema on open
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to migrate sqlite store: %v", err)
		}
		store.Close()
		log.Printf("sqlite store at %s is up to date", cfg.Storage.SQLitePath)
		return
	}

	migrations, err := loadMigrations(*dir)
	if err != nil {
		log.Fatalf("Failed to load migrations: %v", err)
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	m := &migrator{pool: pool}
	if err := m.ensureTable(ctx); err != nil {
		log.Fatalf("Failed to create migrations table: %v", err)
	}

	switch command {
	case "up":
		err = m.up(ctx, migrations)
	case "down":
		err = m.down(ctx, migrations)
	case "status":
		err = m.status(ctx, migrations, os.Stdout)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}
