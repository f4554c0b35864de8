package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockID is the Postgres advisory lock held while migrating, so
// replicas starting together apply each file once.
const migrationLockID int64 = 0x70657270726b // "perprk"

// Migration is one versioned schema change. Files follow the golang-migrate
// naming: {version}_{name}.up.sql and an optional {version}_{name}.down.sql.
type Migration struct {
	Version string
	Name    string
	Up      string // file name
	Down    string // file name, empty when irreversible
}

// MigrationStatus is one migration and whether it has been applied.
type MigrationStatus struct {
	Migration
	Applied bool
}

// Migrator applies the migrations of one directory.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: migrationsDir, logger: logger.With().Str("component", "migrator").Logger()}
}

// LoadMigrations reads dir and returns its migrations ordered by version.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		file := e.Name()
		var base string
		var up bool
		switch {
		case strings.HasSuffix(file, ".up.sql"):
			base, up = strings.TrimSuffix(file, ".up.sql"), true
		case strings.HasSuffix(file, ".down.sql"):
			base = strings.TrimSuffix(file, ".down.sql")
		default:
			continue
		}
		version, name, ok := strings.Cut(base, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: want {version}_{name}", file)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration version %s used by %q and %q", version, m.Name, name)
		}
		if up {
			m.Up = file
		} else {
			m.Down = file
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s_%s has no up file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up applies every pending migration in version order.
func (m *Migrator) Up(ctx context.Context) error {
	migrations, err := LoadMigrations(m.dir)
	if err != nil {
		return err
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, mg := range migrations {
			if applied[mg.Version] {
				continue
			}
			m.logger.Info().Str("version", mg.Version).Str("name", mg.Name).Msg("applying migration")
			err := m.exec(ctx, conn, mg.Up,
				`INSERT INTO public.perp_risk_migrations (version, name) VALUES ($1, $2)`, mg.Version, mg.Name)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	migrations, err := LoadMigrations(m.dir)
	if err != nil {
		return err
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version string
		err := conn.QueryRowContext(ctx,
			`SELECT version FROM public.perp_risk_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		i := sort.Search(len(migrations), func(i int) bool { return migrations[i].Version >= version })
		if i == len(migrations) || migrations[i].Version != version {
			return fmt.Errorf("applied migration %s not found in %s", version, m.dir)
		}
		mg := migrations[i]
		if mg.Down == "" {
			return fmt.Errorf("migration %s_%s is irreversible", mg.Version, mg.Name)
		}
		m.logger.Info().Str("version", mg.Version).Str("name", mg.Name).Msg("rolling back migration")
		return m.exec(ctx, conn, mg.Down,
			`DELETE FROM public.perp_risk_migrations WHERE version = $1`, mg.Version)
	})
}

// Status reports every migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := LoadMigrations(m.dir)
	if err != nil {
		return nil, err
	}
	var out []MigrationStatus
	err = m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		out = make([]MigrationStatus, len(migrations))
		for i, mg := range migrations {
			out[i] = MigrationStatus{Migration: mg, Applied: applied[mg.Version]}
		}
		return nil
	})
	return out, err
}

// Pending counts migrations not yet applied.
func Pending(statuses []MigrationStatus) int {
	n := 0
	for _, s := range statuses {
		if !s.Applied {
			n++
		}
	}
	return n
}

// locked runs fn on one connection holding the migration advisory lock,
// after making sure the bookkeeping table exists.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.perp_risk_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("migration table: %w", err)
	}
	return fn(conn)
}

// exec runs one migration file and its bookkeeping statement in a single
// transaction.
func (m *Migrator) exec(ctx context.Context, conn *sql.Conn, file, record string, args ...any) error {
	body, err := os.ReadFile(filepath.Join(m.dir, file))
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", file, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM public.perp_risk_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
