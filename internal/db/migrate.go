package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"subsync/internal/types"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration is one embedded schema file.
type Migration struct {
	Version string
	SQL     string
}

// Migrations returns the embedded migrations ordered by version.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(migrationFS, "migrations/"+e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: strings.TrimSuffix(e.Name(), ".sql"), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations and returns the versions it applied.
func Migrate(ctx context.Context, db DBTX, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create schema_migrations", err)
	}

	migrations, err := Migrations()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read embedded migrations", err)
	}

	var applied []string
	for _, m := range migrations {
		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`,
			m.Version,
		).Scan(&exists); err != nil {
			return applied, types.NewAppError(types.ErrCodeInternalDB, "failed to check migration state", err)
		}
		if exists {
			continue
		}

		if _, err := db.Exec(ctx, m.SQL); err != nil {
			return applied, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("migration %s failed", m.Version), err)
		}
		if _, err := db.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
			return applied, types.NewAppError(types.ErrCodeInternalDB, "failed to record migration", err)
		}

		logger.InfoContext(ctx, "migration applied", slog.String("version", m.Version))
		applied = append(applied, m.Version)
	}
	return applied, nil
}
