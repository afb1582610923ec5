package store

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrations, migrationsDir+"/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		body, err := fs.ReadFile(migrations, name)
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", name)
		assert.Contains(t, string(body), "-- +goose Down", name)
	}

	initial, err := fs.ReadFile(migrations, files[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(initial), "UNIQUE (student_id, course_id, scan_date)"))
	assert.Contains(t, string(initial), "CHECK (active_window_minutes > 0)")
}

func TestNilHandlesAreUnhealthy(t *testing.T) {
	var db *DB
	var rdb *Redis
	assert.False(t, db.Healthy(t.Context()))
	assert.False(t, rdb.Healthy(t.Context()))
	assert.NoError(t, db.Close())
	assert.NoError(t, rdb.Close())
}
