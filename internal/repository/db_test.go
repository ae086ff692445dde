package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nolongerevil/state-server-go/internal/database"
	"github.com/nolongerevil/state-server-go/migrations"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and empties every table.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, migrations.FS))
	_, err = db.ExecContext(ctx, `TRUNCATE states, entry_keys, device_owners, device_shares, users`)
	require.NoError(t, err)
	return db
}
