package store

import (
	"io/fs"
	"strings"
	"testing"
)

// TestMigrationFilesAreWellFormed is a lexical sanity check, not a real SQL
// parse: every migration file must be non-empty and have balanced
// parentheses, and every .up.sql must have a matching .down.sql.
func TestMigrationFilesAreWellFormed(t *testing.T) {
	ups := map[string]bool{}
	downs := map[string]bool{}

	err := fs.WalkDir(migrationFiles, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		data, err := fs.ReadFile(migrationFiles, path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}

		content := strings.TrimSpace(string(data))
		if content == "" {
			t.Fatalf("%s is empty", path)
		}
		if depth := parenDepth(content); depth != 0 {
			t.Fatalf("%s has unbalanced parentheses (depth %d)", path, depth)
		}

		switch {
		case strings.HasSuffix(path, ".up.sql"):
			ups[strings.TrimSuffix(path, ".up.sql")] = true
		case strings.HasSuffix(path, ".down.sql"):
			downs[strings.TrimSuffix(path, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk migrations: %v", err)
	}

	if len(ups) == 0 {
		t.Fatalf("expected at least one migration")
	}
	for name := range ups {
		if !downs[name] {
			t.Fatalf("migration %s has no matching .down.sql", name)
		}
	}
	for name := range downs {
		if !ups[name] {
			t.Fatalf("migration %s has no matching .up.sql", name)
		}
	}
}

func parenDepth(s string) int {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}
