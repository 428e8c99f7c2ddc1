package migrate

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadPairsAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0002_add_index.up.sql", "create index i on t(c);")
	writeFile(t, dir, "0002_add_index.down.sql", "drop index i;")
	writeFile(t, dir, "0001_init.up.sql", "create table t (c int);")
	writeFile(t, dir, "0001_init.down.sql", "drop table t;")
	writeFile(t, dir, "README.md", "not a migration")

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(got))
	}
	if got[0].Version != 1 || got[0].Name != "init" || got[1].Version != 2 {
		t.Fatalf("wrong order: %+v", got)
	}
	if got[0].UpSQL == "" || got[0].DownSQL == "" {
		t.Fatal("scripts not loaded")
	}
}

func TestLoadRejectsMissingUp(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0001_init.down.sql", "drop table t;")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for down-only migration")
	}
}

func TestLoadRejectsConflictingNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0001_init.up.sql", "select 1;")
	writeFile(t, dir, "0001_other.down.sql", "select 1;")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for conflicting names at one version")
	}
}

func TestLoadShippedMigrations(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "ops", "migrations", "sql"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no shipped migrations found")
	}
	for _, m := range got {
		if m.DownSQL == "" {
			t.Fatalf("migration %04d_%s lacks a down script", m.Version, m.Name)
		}
	}
}
