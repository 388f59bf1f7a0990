package db

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one versioned DDL artifact. The version is the integer
// prefix of the filename (001_initial_schema.sql -> 1).
type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations discovers the embedded migration files and orders them by
// their integer prefix. Files without a parsable prefix are skipped.
func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var ms []migration
	for _, e := range entries {
		name := e.Name()
		prefix, _, found := strings.Cut(name, "_")
		if !found {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		ms = append(ms, migration{version: version, name: name, sql: string(body)})
	}

	sort.Slice(ms, func(i, j int) bool { return ms[i].version < ms[j].version })
	return ms, nil
}

// ExpectedVersion is the schema version this binary was built against:
// the highest migration prefix in the embedded set.
func ExpectedVersion() int {
	ms, err := loadMigrations()
	if err != nil || len(ms) == 0 {
		return 0
	}
	return ms[len(ms)-1].version
}

// MigrateResult reports what Migrate did.
type MigrateResult struct {
	Applied []string // migration filenames applied, in order
	Version int      // schema version after migration
}

// Migrate opens the database at path without the version gate and applies
// every migration whose version exceeds the recorded one. Each migration's
// DDL and its schema_version record commit in a single transaction.
func Migrate(path string) (*MigrateResult, error) {
	d, err := open(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	current, err := currentVersion(d.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if current < 0 {
		current = 0
	}

	ms, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, fmt.Errorf("no migrations found")
	}

	result := &MigrateResult{Version: ms[len(ms)-1].version}
	for _, m := range ms {
		if m.version <= current {
			continue
		}

		tx, err := d.Begin()
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", m.name, Classify(err))
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)",
			m.version,
		); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("migration %s: %w", m.name, Classify(err))
		}

		result.Applied = append(result.Applied, m.name)
	}

	return result, nil
}
