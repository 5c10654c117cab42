package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migration pairs the up and down scripts sharing a version prefix
type migration struct {
	Version string
	Up      string
	Down    string
}

// loadMigrations reads NNN_name.up.sql / NNN_name.down.sql pairs from dir,
// ordered by version. Every version needs an up script.
func loadMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		name := e.Name()
		var direction string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			direction = "up"
		case strings.HasSuffix(name, ".down.sql"):
			direction = "down"
		default:
			continue
		}

		version := versionOf(name)
		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version}
			byVersion[version] = m
		}
		path := filepath.Join(dir, name)
		if direction == "up" {
			m.Up = path
		} else {
			m.Down = path
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has no up script", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func versionOf(filename string) string {
	base := filepath.Base(filename)
	if i := strings.IndexByte(base, '_'); i > 0 {
		return base[:i]
	}
	return strings.SplitN(base, ".", 2)[0]
}

type migrator struct {
	pool *pgxpool.Pool
}

func (m *migrator) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

// applied returns the applied versions with their timestamps
func (m *migrator) applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := m.pool.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		out[version] = at
	}
	return out, rows.Err()
}

// run executes a script and its bookkeeping statement in one transaction
func (m *migrator) run(ctx context.Context, script, bookkeeping, version string) error {
	content, err := os.ReadFile(script)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", script, err)
	}
	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", filepath.Base(script), err)
		}
		_, err := tx.Exec(ctx, bookkeeping, version)
		return err
	})
}

func (m *migrator) up(ctx context.Context, migrations []migration) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	count := 0
	for _, mig := range migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		log.Printf("Applying %s...", mig.Version)
		if err := m.run(ctx, mig.Up, `INSERT INTO schema_migrations (version) VALUES ($1)`, mig.Version); err != nil {
			return err
		}
		count++
	}
	log.Printf("Applied %d migrations", count)
	return nil
}

// down rolls back the newest applied migration
func (m *migrator) down(ctx context.Context, migrations []migration) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		mig := migrations[i]
		if _, ok := done[mig.Version]; !ok {
			continue
		}
		if mig.Down == "" {
			return fmt.Errorf("migration %s has no down script", mig.Version)
		}
		log.Printf("Rolling back %s...", mig.Version)
		return m.run(ctx, mig.Down, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
	}
	log.Println("No migrations to roll back")
	return nil
}

func (m *migrator) status(ctx context.Context, migrations []migration, w io.Writer) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	printStatus(w, migrations, done)
	return nil
}

func printStatus(w io.Writer, migrations []migration, done map[string]time.Time) {
	for _, mig := range migrations {
		if at, ok := done[mig.Version]; ok {
			fmt.Fprintf(w, "[APPLIED] %s  %s\n", mig.Version, at.Format(time.RFC3339))
		} else {
			fmt.Fprintf(w, "[PENDING] %s\n", mig.Version)
		}
	}
}
