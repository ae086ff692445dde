package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolongerevil/state-server-go/migrations"
)

func TestLoadMigrations(t *testing.T) {
	t.Run("sorts up migrations and skips down files", func(t *testing.T) {
		fsys := fstest.MapFS{
			"20260302_090000_add_index.up.sql":        {Data: []byte("CREATE INDEX x ON t (c);")},
			"20260301_120000_initial_schema.up.sql":   {Data: []byte("CREATE TABLE t (c TEXT);")},
			"20260301_120000_initial_schema.down.sql": {Data: []byte("DROP TABLE t;")},
			"README.md": {Data: []byte("notes")},
		}

		got, err := LoadMigrations(fsys)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "20260301_120000", got[0].Version)
		assert.Equal(t, "initial_schema", got[0].Name)
		assert.Equal(t, "CREATE TABLE t (c TEXT);", got[0].UpSQL)
		assert.Equal(t, "20260302_090000", got[1].Version)
		assert.Equal(t, "add_index", got[1].Name)
	})

	t.Run("rejects malformed names", func(t *testing.T) {
		fsys := fstest.MapFS{
			"initial.up.sql": {Data: []byte("SELECT 1;")},
		}
		_, err := LoadMigrations(fsys)
		assert.Error(t, err)
	})

	t.Run("embedded schema creates every table", func(t *testing.T) {
		got, err := LoadMigrations(migrations.FS)
		require.NoError(t, err)
		require.NotEmpty(t, got)

		schema := got[0].UpSQL
		for _, table := range []string{"states", "entry_keys", "device_owners", "device_shares", "users"} {
			assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
		}
	})
}
