package store

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"002_create_collaborator_tables.up.sql": {Data: []byte("SELECT 2;")},
		"001_create_subscriptions.up.sql":       {Data: []byte("SELECT 1;")},
		"001_create_subscriptions.down.sql":     {Data: []byte("DROP TABLE subscriptions;")},
		"README.md":                             {Data: []byte("notes")},
		"extra/003_add_delivery_index.up.sql":   {Data: []byte("SELECT 3;")},
	}

	files, err := migrationFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_create_subscriptions.up.sql",
		"002_create_collaborator_tables.up.sql",
		"extra/003_add_delivery_index.up.sql",
	}, files)
}

func TestMigrationFiles_Empty(t *testing.T) {
	files, err := migrationFiles(fstest.MapFS{})
	require.NoError(t, err)
	assert.Empty(t, files)
}
