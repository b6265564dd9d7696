package lease

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// Postgres держит session-level advisory lock на выделенном соединении.
// TTL не используется: блокировка снимается при release или обрыве соединения.
type Postgres struct {
	db     *sql.DB
	logger *log.Entry
}

// NewPostgres создаёт аренду поверх пула PostgreSQL.
func NewPostgres(db *sql.DB, logger *log.Entry) *Postgres {
	if logger == nil {
		logger = log.WithField("component", "lease-postgres")
	}
	return &Postgres{db: db, logger: logger}
}

// TryAcquire вызывает pg_try_advisory_lock(hashtext(key)) и не ждёт освобождения.
func (p *Postgres) TryAcquire(ctx context.Context, key string, _ time.Duration) (func(), bool, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("try advisory lock %q: %w", key, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			p.logger.WithError(err).WithField("key", key).Warn("advisory unlock failed")
		}
		_ = conn.Close()
	}
	return release, true, nil
}

var _ domain.Lease = (*Postgres)(nil)
