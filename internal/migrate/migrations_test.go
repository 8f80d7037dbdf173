package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otto/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)

	for _, table := range []string{"runs", "run_events", "sandbox_resources"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}
}
