package database

import (
	"path/filepath"
	"testing"
)

func TestNewDBRunsMigrations(t *testing.T) {
	t.Parallel()

	db, err := NewDB(NewConfig(filepath.Join(t.TempDir(), "news.db")))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"sources", "articles", "pipeline_runs"} {
		var n int
		if err := db.Get(&n, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table); err != nil {
			t.Fatalf("query sqlite_master: %v", err)
		}
		if n != 1 {
			t.Fatalf("table %s missing after migrations", table)
		}
	}

	var applied int
	if err := db.Get(&applied, "SELECT COUNT(*) FROM migrations"); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 3 {
		t.Fatalf("expected 3 applied migrations, got %d", applied)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "news.db")
	for i := 0; i < 2; i++ {
		db, err := NewDB(NewConfig(path))
		if err != nil {
			t.Fatalf("NewDB (attempt %d): %v", i+1, err)
		}
		db.Close()
	}
}

func TestRollbackDropsLatestTable(t *testing.T) {
	t.Parallel()

	db, err := NewDB(NewConfig(filepath.Join(t.TempDir(), "news.db")))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	if err := db.Rollback(1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	var n int
	if err := db.Get(&n, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'pipeline_runs'"); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if n != 0 {
		t.Fatalf("pipeline_runs should be dropped after rollback")
	}
}

func TestDeleteDBMissingFile(t *testing.T) {
	t.Parallel()

	if err := DeleteDB(filepath.Join(t.TempDir(), "absent.db")); err != nil {
		t.Fatalf("DeleteDB on missing file: %v", err)
	}
}
