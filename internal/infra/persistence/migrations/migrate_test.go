package migrations

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"

	dbmigrations "github.com/metamart/marketplace/db/migrations"
)

func TestResolveDirRejectsEmptyPath(t *testing.T) {
	if _, err := resolveDir("   "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestResolveDirRejectsMissingPath(t *testing.T) {
	if _, err := resolveDir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestResolveDirRejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir.sql")
	if err := os.WriteFile(file, []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := resolveDir(file); err == nil {
		t.Fatalf("expected error for non-directory path")
	}
}

func TestFileURL(t *testing.T) {
	url := fileURL("/tmp/migrations")
	if url != "file:///tmp/migrations" {
		t.Fatalf("unexpected file url: %s", url)
	}
	if !strings.HasPrefix(fileURL("relative/path"), "file:///") {
		t.Fatalf("expected rooted file url")
	}
}

func TestRollbackRejectsNonPositiveSteps(t *testing.T) {
	if err := Rollback(context.Background(), "postgresql://", t.TempDir(), 0, nil); err == nil {
		t.Fatalf("expected error for zero steps")
	}
}

func TestEmbeddedMigrationsAreComplete(t *testing.T) {
	entries, err := dbmigrations.Files.ReadDir(".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	var ups, downs int
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 {
		t.Fatalf("no embedded up migrations found")
	}
	if ups != downs {
		t.Fatalf("unpaired migrations: %d up, %d down", ups, downs)
	}

	if _, err := iofs.New(dbmigrations.Files, "."); err != nil {
		t.Fatalf("embedded migrations source: %v", err)
	}
}
