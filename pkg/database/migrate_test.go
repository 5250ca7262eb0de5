package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_schema.sql", names[0])
	assert.IsIncreasing(t, names)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	for _, name := range names {
		sql, err := migrationsFS.ReadFile("migrations/" + name)
		require.NoError(t, err)
		for _, stmt := range strings.Split(string(sql), ";") {
			stmt = strings.TrimSpace(stmt)
			if strings.HasPrefix(stmt, "CREATE") || strings.Contains(stmt, "\nCREATE") {
				assert.Contains(t, stmt, "IF NOT EXISTS", "%s: %q", name, firstLine(stmt))
			}
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
