package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
)

const migrationTable = `
create table if not exists schema_migration (
	filename text primary key,
	applied_at timestamptz not null default now()
)`

// migrate applies every embedded *.sql file that has not yet been
// recorded in schema_migration, in filename order, one file per
// transaction — mirroring the teacher's migrate.go, which tracks
// applied migrations by name rather than by a numeric version counter.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migrationTable); err != nil {
		return fmt.Errorf("sqlstore: create migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("sqlstore: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		row := s.db.QueryRowContext(ctx, `select exists(select 1 from schema_migration where filename = $1)`, name)
		if err := row.Scan(&applied); err != nil {
			return fmt.Errorf("sqlstore: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		contents, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("sqlstore: read migration %s: %w", name, err)
		}

		if err := s.applyMigration(ctx, name, string(contents)); err != nil {
			return fmt.Errorf("sqlstore: apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, name, contents string) error {
	return s.executeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, contents); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `insert into schema_migration (filename) values ($1)`, name); err != nil {
			return err
		}
		return nil
	})
}
