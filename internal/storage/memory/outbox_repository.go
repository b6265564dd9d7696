package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// outboundRecord хранит событие и порядок вставки для in-memory реализации.
type outboundRecord struct {
	domain.OutboundEvent
	seq int64
}

// outboundRepository хранит исходящие события канала.
type outboundRepository struct {
	v view
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его идентификатор.
func (r outboundRepository) Enqueue(_ context.Context, event domain.OutboundEvent) (domain.OutboundEvent, error) {
	st, unlock := r.v.enter()
	defer unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.v.now()
	}
	event.Status = domain.OutboundStatusPending
	event.Payload = append([]byte(nil), event.Payload...)
	st.outbound[event.ID] = outboundRecord{OutboundEvent: event, seq: st.next()}
	return event, nil
}

func (r outboundRepository) Get(_ context.Context, id string) (domain.OutboundEvent, error) {
	st, unlock := r.v.enter()
	defer unlock()

	rec, ok := st.outbound[id]
	if !ok {
		return domain.OutboundEvent{}, domain.ErrOutboundEventNotFound
	}
	return cloneOutbound(rec.OutboundEvent), nil
}

// PullPending возвращает до limit сообщений со статусом `pending`, старые первыми.
func (r outboundRepository) PullPending(_ context.Context, limit int) ([]domain.OutboundEvent, error) {
	return r.list(domain.OutboundStatusPending, limit, 10), nil
}

// ListFailed возвращает failed-события для операторских инструментов.
func (r outboundRepository) ListFailed(_ context.Context, limit int) ([]domain.OutboundEvent, error) {
	return r.list(domain.OutboundStatusFailed, limit, 100), nil
}

func (r outboundRepository) list(status domain.OutboundStatus, limit, fallback int) []domain.OutboundEvent {
	if limit <= 0 {
		limit = fallback
	}

	st, unlock := r.v.enter()
	defer unlock()

	records := make([]outboundRecord, 0)
	for _, rec := range st.outbound {
		if rec.Status == status {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].seq < records[j].seq
	})
	if len(records) > limit {
		records = records[:limit]
	}

	result := make([]domain.OutboundEvent, 0, len(records))
	for _, rec := range records {
		result = append(result, cloneOutbound(rec.OutboundEvent))
	}
	return result
}

// MarkProcessed обновляет статус события после успешной отправки.
func (r outboundRepository) MarkProcessed(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(rec *outboundRecord) error {
		rec.Status = domain.OutboundStatusProcessed
		rec.ProcessedAt = at
		rec.Error = ""
		return nil
	})
}

// MarkFailed фиксирует ошибку отправки и увеличивает счётчик попыток.
func (r outboundRepository) MarkFailed(_ context.Context, id string, message string) error {
	return r.update(id, func(rec *outboundRecord) error {
		rec.Status = domain.OutboundStatusFailed
		rec.Error = message
		rec.RetryCount++
		return nil
	})
}

// Requeue возвращает failed-событие в очередь. RetryCount сохраняется.
func (r outboundRepository) Requeue(_ context.Context, id string) error {
	return r.update(id, func(rec *outboundRecord) error {
		if rec.Status != domain.OutboundStatusFailed {
			return fmt.Errorf("%w: outbound event %s is %s", domain.ErrInvalidTransition, id, rec.Status)
		}
		rec.Status = domain.OutboundStatusPending
		return nil
	})
}

func (r outboundRepository) Stats(_ context.Context) (domain.OutboundStats, error) {
	st, unlock := r.v.enter()
	defer unlock()

	var stats domain.OutboundStats
	for _, rec := range st.outbound {
		switch rec.Status {
		case domain.OutboundStatusFailed:
			stats.FailedCount++
		case domain.OutboundStatusPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.CreatedAt
			}
		}
	}
	return stats, nil
}

func (r outboundRepository) update(id string, fn func(rec *outboundRecord) error) error {
	st, unlock := r.v.enter()
	defer unlock()

	rec, ok := st.outbound[id]
	if !ok {
		return domain.ErrOutboundEventNotFound
	}
	if err := fn(&rec); err != nil {
		return err
	}
	st.outbound[id] = rec
	return nil
}

func cloneOutbound(event domain.OutboundEvent) domain.OutboundEvent {
	event.Payload = append([]byte(nil), event.Payload...)
	return event
}

var _ domain.OutboundRepository = outboundRepository{}
