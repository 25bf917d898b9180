package migration

import (
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// RunMigrations applies the embedded schema migrations. Already-applied
// migrations are a no-op.
func RunMigrations(sqlDB *sql.DB) error {
	source, err := iofs.New(embeddedMigrations, migrationsDir)
	if err != nil {
		return err
	}

	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// SchemaSQL returns the up migrations concatenated in order. Tests use it to
// build the schema on sqlite, where the postgres migrate driver cannot run.
func SchemaSQL() (string, error) {
	entries, err := embeddedMigrations.ReadDir(migrationsDir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		raw, err := embeddedMigrations.ReadFile(migrationsDir + "/" + name)
		if err != nil {
			return "", err
		}
		b.Write(raw)
		b.WriteString("\n")
	}
	// sqlite only maps TIMESTAMP and DATETIME declared types onto time.Time,
	// so the postgres spelling has to be rewritten for the test schema.
	return strings.ReplaceAll(b.String(), "TIMESTAMPTZ", "TIMESTAMP"), nil
}
