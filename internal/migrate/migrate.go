// Package migrate applies the SQL schema migrations under ops/migrations.
// Files follow NNNN_name.up.sql / NNNN_name.down.sql; seeds live in their own
// directory and are safe to re-run.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema step.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

var fileNamePattern = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// Load reads the migration pairs from dir, sorted by version.
func Load(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("bad version in %q: %w", entry.Name(), err)
		}
		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", entry.Name(), err)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: m[2]}
			byVersion[version] = mig
		}
		if mig.Name != m[2] {
			return nil, fmt.Errorf("version %d has conflicting names %q and %q", version, mig.Name, m[2])
		}
		switch m[3] {
		case "up":
			mig.UpSQL = string(body)
		case "down":
			mig.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if strings.TrimSpace(mig.UpSQL) == "" {
			return nil, fmt.Errorf("migration %04d_%s has no up script", mig.Version, mig.Name)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Manager applies migrations and seeds against one database.
type Manager struct {
	db      *sql.DB
	dir     string
	seedDir string
}

// NewManager builds a manager. seedDir may be empty.
func NewManager(db *sql.DB, dir, seedDir string) *Manager {
	return &Manager{db: db, dir: dir, seedDir: seedDir}
}

func (m *Manager) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		create table if not exists schema_migrations (
			version    integer primary key,
			name       text not null,
			applied_at timestamptz not null default now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func (m *Manager) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx,
		`select coalesce(max(version), 0) from schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Up applies every pending migration, each in its own transaction, and
// returns the number applied.
func (m *Manager) Up(ctx context.Context) (int, error) {
	if err := m.ensureVersionTable(ctx); err != nil {
		return 0, err
	}
	migrations, err := Load(m.dir)
	if err != nil {
		return 0, err
	}
	current, err := m.currentVersion(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.applyUp(ctx, mig); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (m *Manager) applyUp(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", mig.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.UpSQL); err != nil {
		return fmt.Errorf("apply migration %04d_%s: %w", mig.Version, mig.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`insert into schema_migrations (version, name) values ($1, $2)`,
		mig.Version, mig.Name); err != nil {
		return fmt.Errorf("record migration %d: %w", mig.Version, err)
	}
	return tx.Commit()
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}
	migrations, err := Load(m.dir)
	if err != nil {
		return err
	}
	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return errors.New("no migrations applied")
	}

	var target *Migration
	for i := range migrations {
		if migrations[i].Version == current {
			target = &migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no migration files for applied version %d", current)
	}
	if strings.TrimSpace(target.DownSQL) == "" {
		return fmt.Errorf("migration %04d_%s has no down script", target.Version, target.Name)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollback %d: %w", target.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, target.DownSQL); err != nil {
		return fmt.Errorf("roll back %04d_%s: %w", target.Version, target.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from schema_migrations where version = $1`, target.Version); err != nil {
		return fmt.Errorf("unrecord migration %d: %w", target.Version, err)
	}
	return tx.Commit()
}

// Seed executes every .sql file in the seed directory, sorted by name, each
// in its own transaction.
func (m *Manager) Seed(ctx context.Context) error {
	if m.seedDir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.seedDir)
	if err != nil {
		return fmt.Errorf("read seeds dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := os.ReadFile(filepath.Join(m.seedDir, name))
		if err != nil {
			return fmt.Errorf("read seed %q: %w", name, err)
		}
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin seed %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply seed %q: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit seed %q: %w", name, err)
		}
	}
	return nil
}
