package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/jewel?sslmode=disable": "pgx5://u:p@localhost:5432/jewel?sslmode=disable",
		"postgresql://localhost/jewel":                        "pgx5://localhost/jewel",
		"pgx5://localhost/jewel":                              "pgx5://localhost/jewel",
	}
	for in, want := range cases {
		require.Equal(t, want, migrateURL(in), in)
	}
}

func TestEveryMigrationHasDownPair(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	ups := 0
	for name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		ups++
		down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
		require.True(t, names[down], "missing %s", down)
	}
	require.Equal(t, len(names), ups*2)
}
