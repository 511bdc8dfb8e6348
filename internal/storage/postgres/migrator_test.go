package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadMigrationsFromFS_OrdersByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_reconcile_outcomes.up.sql":   sqlFile("CREATE TABLE reconcile_outcomes (txn_ref TEXT);"),
		"sql/migrations/0002_reconcile_outcomes.down.sql": sqlFile("DROP TABLE reconcile_outcomes;"),
		"sql/migrations/0001_pending_orders.up.sql":       sqlFile("CREATE TABLE pending_orders (session_id TEXT);"),
		"sql/migrations/0001_pending_orders.down.sql":     sqlFile("DROP TABLE pending_orders;"),
	}

	migrations, err := loadMigrationsFromFS(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, int64(1), migrations[0].Version)
	assert.Equal(t, "pending_orders", migrations[0].Name)
	assert.Equal(t, int64(2), migrations[1].Version)
	assert.Equal(t, "reconcile_outcomes", migrations[1].Name)
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fsys    fstest.MapFS
		wantErr string
	}{
		"missing down": {
			fsys:    fstest.MapFS{"sql/migrations/0001_pending_orders.up.sql": sqlFile("SELECT 1;")},
			wantErr: "both up and down",
		},
		"unparsable file name": {
			fsys: fstest.MapFS{"sql/migrations/pending_orders.sql": sqlFile("SELECT 1;")},
		},
		"blank body": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_pending_orders.up.sql":   sqlFile(" \n\t"),
				"sql/migrations/0001_pending_orders.down.sql": sqlFile("DROP TABLE pending_orders;"),
			},
		},
		"up and down disagree on name": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_pending_orders.up.sql": sqlFile("SELECT 1;"),
				"sql/migrations/0001_drafts.down.sql":       sqlFile("SELECT 1;"),
			},
			wantErr: "name mismatch",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := loadMigrationsFromFS(tc.fsys)
			require.Error(t, err)
			if tc.wantErr != "" {
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoadMigrationsFromFS_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(embeddedMigrations)
	require.NoError(t, err)

	var names []string
	for i, m := range migrations {
		assert.Equal(t, int64(i+1), m.Version)
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"pending_orders", "reconcile_outcomes", "outbox_messages", "timeline_events", "outcome_draft"}, names)
}

func TestMigrationStatePending(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, MigrationState{Applied: 1, Available: 4}.Pending())
	assert.Zero(t, MigrationState{Applied: 5, Available: 4}.Pending())
}
