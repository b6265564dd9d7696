package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// querier покрывает и *sql.DB, и *sql.Tx: репозитории не знают, работают ли они в транзакции.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Rooms возвращает репозиторий номеров вне транзакции.
func (s *Store) Rooms() domain.RoomRepository { return s.repos(s.db).Rooms() }

// Bookings возвращает репозиторий броней вне транзакции.
func (s *Store) Bookings() domain.BookingRepository { return s.repos(s.db).Bookings() }

// Guests возвращает репозиторий гостей вне транзакции.
func (s *Store) Guests() domain.GuestRepository { return s.repos(s.db).Guests() }

// Mappings возвращает таблицу соответствий вне транзакции.
func (s *Store) Mappings() domain.ChannelMappingRepository { return s.repos(s.db).Mappings() }

// Inbound возвращает хранилище входящих событий вне транзакции.
func (s *Store) Inbound() domain.InboundRepository { return s.repos(s.db).Inbound() }

// Outbound возвращает хранилище исходящих событий вне транзакции.
func (s *Store) Outbound() domain.OutboundRepository { return s.repos(s.db).Outbound() }

// Folios возвращает репозиторий счетов вне транзакции.
func (s *Store) Folios() domain.FolioRepository { return s.repos(s.db).Folios() }

// Timeline возвращает журнал событий вне транзакции.
func (s *Store) Timeline() domain.TimelineRepository { return s.repos(s.db).Timeline() }

func (s *Store) repos(q querier) repoSet {
	return repoSet{q: q, now: s.now}
}

// repoSet раздаёт репозитории поверх одного querier.
type repoSet struct {
	q   querier
	now func() time.Time
}

func (r repoSet) Rooms() domain.RoomRepository { return &roomRepository{q: r.q, now: r.now} }
func (r repoSet) Bookings() domain.BookingRepository { return &bookingRepository{q: r.q} }
func (r repoSet) Guests() domain.GuestRepository { return &guestRepository{q: r.q, now: r.now} }
func (r repoSet) Mappings() domain.ChannelMappingRepository {
	return &mappingRepository{q: r.q, now: r.now}
}
func (r repoSet) Inbound() domain.InboundRepository { return &inboundRepository{q: r.q, now: r.now} }
func (r repoSet) Outbound() domain.OutboundRepository {
	return &outboundRepository{q: r.q, now: r.now}
}
func (r repoSet) Folios() domain.FolioRepository { return &folioRepository{q: r.q, now: r.now} }
func (r repoSet) Timeline() domain.TimelineRepository { return &timelineRepository{q: r.q} }

var _ domain.Tx = repoSet{}
