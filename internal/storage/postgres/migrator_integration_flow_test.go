package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func constraintExists(ctx context.Context, t *testing.T, store *Store, name string) bool {
	t.Helper()
	var exists bool
	err := store.DB().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = $1)`, name).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := rawTestStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100), "reset")

	steps := []struct {
		name        string
		apply       func() error
		wantVersion int64
		wantCount   int
		exclusion   bool
	}{
		{name: "reset", apply: func() error { return nil }},
		{name: "up all", apply: func() error { return store.MigrateUp(ctx, 0) }, wantVersion: 2, wantCount: 2, exclusion: true},
		{name: "up again is a no-op", apply: func() error { return store.MigrateUp(ctx, 0) }, wantVersion: 2, wantCount: 2, exclusion: true},
		{name: "down one drops room exclusion", apply: func() error { return store.MigrateDown(ctx, 1) }, wantVersion: 1, wantCount: 1},
		{name: "down default step", apply: func() error { return store.MigrateDown(ctx, 0) }},
		{name: "down on empty", apply: func() error { return store.MigrateDown(ctx, 1) }},
		{name: "up one step", apply: func() error { return store.MigrateUp(ctx, 1) }, wantVersion: 1, wantCount: 1},
	}
	for _, step := range steps {
		require.NoError(t, step.apply(), step.name)

		version, count, err := store.MigrationStatus(ctx)
		require.NoError(t, err, step.name)
		require.Equal(t, step.wantVersion, version, step.name)
		require.Equal(t, step.wantCount, count, step.name)
		require.Equal(t, step.exclusion, constraintExists(ctx, t, store, "booking_segments_no_overlap"), step.name)
	}

	states, err := store.Migrations(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.True(t, states[0].Applied)
	require.False(t, states[0].AppliedAt.IsZero())
	require.Equal(t, "segment_exclusion", states[1].Name)
	require.False(t, states[1].Applied)

	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_NilStore(t *testing.T) {
	var store *Store
	ctx := context.Background()

	require.Error(t, store.MigrateUp(ctx, 0))
	require.Error(t, store.MigrateDown(ctx, 1))
	_, _, err := store.MigrationStatus(ctx)
	require.Error(t, err)
	_, err = store.Migrations(ctx)
	require.Error(t, err)
}

func TestMigrator_PostgresChecksumDrift(t *testing.T) {
	store := migratedTestStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	set, err := loadMigrations(migrationsFS)
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'edited-by-hand' WHERE version = 1`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = store.DB().ExecContext(context.Background(),
			`UPDATE schema_migrations SET checksum = $1 WHERE version = 1`, set[0].Checksum)
	})

	require.ErrorIs(t, store.MigrateUp(ctx, 0), ErrMigrationChecksum)
}
