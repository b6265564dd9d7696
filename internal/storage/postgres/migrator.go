package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsDir    = "sql/migrations"
	migrationLockKey = int64(7_340_219)
	migrationTimeout = 5 * time.Second

	schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    BIGINT PRIMARY KEY,
	name       TEXT NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	// 001_init.up.sql -> версия, имя, направление
	migrationName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

	// ErrMigrationChecksum означает, что уже применённую миграцию отредактировали.
	ErrMigrationChecksum = errors.New("applied migration checksum mismatch")
)

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

func (m migration) String() string { return fmt.Sprintf("%03d_%s", m.Version, m.Name) }

// MigrationState встроенная миграция и отметка о применении.
type MigrationState struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

type appliedMigration struct {
	checksum string
	at       time.Time
}

// MigrateUp применяет ожидающие миграции по возрастанию версии; steps=0 применяет все.
// Изменённая после применения миграция останавливает процесс с ErrMigrationChecksum.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.underMigrationLock(ctx, func(conn *sql.Conn, set []migration) error {
		applied, err := readApplied(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range set {
			if a, ok := applied[m.Version]; ok {
				if a.checksum != "" && a.checksum != m.Checksum {
					return fmt.Errorf("%w: %s", ErrMigrationChecksum, m)
				}
				continue
			}
			if err := apply(ctx, conn, m, true); err != nil {
				return err
			}
			if steps--; steps == 0 {
				break
			}
		}
		return nil
	})
}

// MigrateDown откатывает steps последних применённых миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	steps = max(steps, 1)
	return s.underMigrationLock(ctx, func(conn *sql.Conn, set []migration) error {
		applied, err := readApplied(ctx, conn)
		if err != nil {
			return err
		}

		versions := slices.Sorted(maps.Keys(applied))
		slices.Reverse(versions)

		for _, v := range versions[:min(steps, len(versions))] {
			i, found := slices.BinarySearchFunc(set, v, func(m migration, v int64) int { return cmp.Compare(m.Version, v) })
			if !found {
				return fmt.Errorf("cannot roll back version %d: no migration file", v)
			}
			if err := apply(ctx, conn, set[i], false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus возвращает старшую применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	applied, err := s.appliedState(ctx)
	if err != nil {
		return 0, 0, err
	}
	var latest int64
	for v := range applied {
		latest = max(latest, v)
	}
	return latest, len(applied), nil
}

// Migrations перечисляет встроенные миграции с отметкой о применении.
func (s *Store) Migrations(ctx context.Context) ([]MigrationState, error) {
	set, err := loadMigrations(migrationsFS)
	if err != nil {
		return nil, err
	}
	applied, err := s.appliedState(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]MigrationState, len(set))
	for i, m := range set {
		a, ok := applied[m.Version]
		states[i] = MigrationState{Version: m.Version, Name: m.Name, Applied: ok, AppliedAt: a.at}
	}
	return states, nil
}

func (s *Store) appliedState(ctx context.Context) (map[int64]appliedMigration, error) {
	if s == nil || s.db == nil {
		return nil, errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	return readApplied(ctx, s.db)
}

// underMigrationLock держит pg_advisory_lock на выделенном соединении, пока выполняется fn,
// так что параллельные запуски migrate не применяют одну миграцию дважды.
func (s *Store) underMigrationLock(ctx context.Context, fn func(conn *sql.Conn, set []migration) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	set, err := loadMigrations(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("dedicated migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	_, err = conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey)
	cancel()
	if err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	return fn(conn, set)
}

// readApplied создаёт schema_migrations при необходимости и читает применённые версии.
func readApplied(ctx context.Context, q querier) (map[int64]appliedMigration, error) {
	if _, err := q.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, err := q.QueryContext(ctx, `SELECT version, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]appliedMigration)
	for rows.Next() {
		var (
			v int64
			a appliedMigration
		)
		if err := rows.Scan(&v, &a.checksum, &a.at); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		a.at = a.at.UTC()
		applied[v] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	return applied, nil
}

// apply выполняет одно направление миграции и запись в schema_migrations в одной транзакции.
func apply(ctx context.Context, conn *sql.Conn, m migration, up bool) error {
	direction, body := "down", m.DownSQL
	record, args := `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	if up {
		direction, body = "up", m.UpSQL
		record = `INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`
		args = []any{m.Version, m.Name, m.Checksum}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %s %s: begin: %w", direction, m, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("migrate %s %s: %w", direction, m, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("migrate %s %s: record: %w", direction, m, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate %s %s: commit: %w", direction, m, err)
	}
	return nil
}

// loadMigrations собирает пары up/down из migrationsDir и сортирует их по версии.
// Контрольная сумма считается по up-скрипту без окружающих пробелов.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", migrationsDir, err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		file := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(file, ".sql") {
			continue
		}
		match := migrationName.FindStringSubmatch(file)
		if match == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", file)
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid migration file name: %s: %w", file, err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, file))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file %s is empty", file)
		}

		m := byVersion[version]
		switch {
		case m == nil:
			m = &migration{Version: version, Name: match[2]}
			byVersion[version] = m
		case m.Name != match[2]:
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, match[2])
		}
		slot := &m.DownSQL
		if match[3] == "up" {
			slot = &m.UpSQL
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s script for version %d", match[3], version)
		}
		*slot = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	set := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", *m)
		}
		sum := sha256.Sum256([]byte(m.UpSQL))
		m.Checksum = hex.EncodeToString(sum[:])
		set = append(set, *m)
	}
	slices.SortFunc(set, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return set, nil
}
