package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_more.up.sql":   {Data: []byte("CREATE TABLE test_b (id INT);")},
		"sql/migrations/0002_more.down.sql": {Data: []byte("DROP TABLE IF EXISTS test_b;")},
		"sql/migrations/0001_init.up.sql":   {Data: []byte("CREATE TABLE test_a (id INT);")},
		"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE IF EXISTS test_a;")},
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "init" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "more" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
	if migrations[0].Checksum == "" || migrations[0].Checksum == migrations[1].Checksum {
		t.Fatalf("expected distinct checksums, got %q and %q", migrations[0].Checksum, migrations[1].Checksum)
	}
}

func TestLoadMigrations_ChecksumIgnoresSurroundingWhitespace(t *testing.T) {
	t.Parallel()

	a, err := loadMigrations(fstest.MapFS{
		"sql/migrations/0001_init.up.sql":   {Data: []byte("CREATE TABLE t (id INT);")},
		"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE t;")},
	})
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	b, err := loadMigrations(fstest.MapFS{
		"sql/migrations/0001_init.up.sql":   {Data: []byte("\n  CREATE TABLE t (id INT);\n\n")},
		"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE t;")},
	})
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if a[0].Checksum != b[0].Checksum {
		t.Fatalf("checksums differ: %q vs %q", a[0].Checksum, b[0].Checksum)
	}
}

func TestLoadMigrations_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fsys    fstest.MapFS
		wantMsg string
	}{
		{
			name: "missing down",
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql": {Data: []byte("CREATE TABLE a (id INT);")},
			},
			wantMsg: "both up and down",
		},
		{
			name: "invalid filename",
			fsys: fstest.MapFS{
				"sql/migrations/not_a_migration.sql": {Data: []byte("SELECT 1;")},
			},
			wantMsg: "invalid migration file name",
		},
		{
			name: "empty body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":   {Data: []byte("   \n")},
				"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE IF EXISTS test;")},
			},
			wantMsg: "empty",
		},
		{
			name: "name mismatch",
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":    {Data: []byte("CREATE TABLE a (id INT);")},
				"sql/migrations/0001_other.down.sql": {Data: []byte("DROP TABLE a;")},
			},
			wantMsg: "name mismatch",
		},
		{
			name:    "no files",
			fsys:    fstest.MapFS{},
			wantMsg: "no migration files",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadMigrations(tc.fsys)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("expected %q in error, got %v", tc.wantMsg, err)
			}
		})
	}
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 embedded migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[1].UpSQL, "booking_segments_no_overlap") {
		t.Fatalf("expected exclusion constraint in migration %d_%s", migrations[1].Version, migrations[1].Name)
	}
}

func TestPgErrorClassification(t *testing.T) {
	t.Parallel()

	exclusion := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01", ConstraintName: "booking_segments_no_overlap"})
	if !isExclusionViolation(exclusion) || isUniqueViolation(exclusion) {
		t.Fatalf("expected exclusion violation: %v", exclusion)
	}
	if constraintName(exclusion) != "booking_segments_no_overlap" {
		t.Fatalf("unexpected constraint: %q", constraintName(exclusion))
	}
	if !isRetryable(&pgconn.PgError{Code: "40001"}) || !isRetryable(&pgconn.PgError{Code: "40P01"}) {
		t.Fatal("serialization failure and deadlock must be retryable")
	}
	if isRetryable(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("unique violation must not be retryable")
	}
}

func TestPgErrorClassification_NonPgError(t *testing.T) {
	t.Parallel()

	err := errors.New("plain")
	if isUniqueViolation(err) || isExclusionViolation(err) || isRetryable(err) {
		t.Fatal("plain error must not be classified as postgres error")
	}
	if constraintName(err) != "" {
		t.Fatal("plain error has no constraint name")
	}
}
