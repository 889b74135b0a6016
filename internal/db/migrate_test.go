package db

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/copydesk?sslmode=disable", "pgx5://u:p@localhost:5432/copydesk?sslmode=disable"},
		{"postgresql://u@db/copydesk", "pgx5://u@db/copydesk"},
		{"pgx5://u@db/copydesk", "pgx5://u@db/copydesk"},
	}
	for _, tt := range tests {
		if got := migrateURL(tt.in); got != tt.want {
			t.Errorf("migrateURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMigrations_pairedUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %q in migrations", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}
