package store

import (
	"io/fs"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations: %s", entry.Name())
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestMigrationVersionsAreSorted(t *testing.T) {
	ups, err := migrationVersions(migrationFiles, ".up.sql")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(ups) < 2 {
		t.Fatalf("expected at least two up migrations, got %v", ups)
	}
	for i := 1; i < len(ups); i++ {
		if ups[i-1] >= ups[i] {
			t.Fatalf("migrations out of order: %v", ups)
		}
	}
	if ups[0] != "0001_documents.up.sql" {
		t.Fatalf("first migration = %q", ups[0])
	}
}
