package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// inboundRecord хранит событие и порядок вставки для стабильной сортировки.
type inboundRecord struct {
	domain.InboundEvent
	seq int64
}

type inboundRepository struct {
	v view
}

// Append сохраняет событие как необработанное.
func (r inboundRepository) Append(_ context.Context, event domain.InboundEvent) (domain.InboundEvent, error) {
	if event.Channel == "" {
		return domain.InboundEvent{}, domain.ErrChannelRequired
	}

	st, unlock := r.v.enter()
	defer unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = r.v.now()
	}
	event.Processed = false
	event.Error = ""
	st.inbound[event.ID] = inboundRecord{InboundEvent: event, seq: st.next()}
	return event, nil
}

func (r inboundRepository) Get(_ context.Context, id string) (domain.InboundEvent, error) {
	st, unlock := r.v.enter()
	defer unlock()

	rec, ok := st.inbound[id]
	if !ok {
		return domain.InboundEvent{}, domain.ErrInboundEventNotFound
	}
	return rec.InboundEvent, nil
}

// PullUnprocessed возвращает до limit необработанных событий канала, старые первыми.
func (r inboundRepository) PullUnprocessed(_ context.Context, channel string, limit int) ([]domain.InboundEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	st, unlock := r.v.enter()
	defer unlock()

	records := make([]inboundRecord, 0)
	for _, rec := range st.inbound {
		if rec.Channel == channel && !rec.Processed {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].ReceivedAt.Equal(records[j].ReceivedAt) {
			return records[i].ReceivedAt.Before(records[j].ReceivedAt)
		}
		return records[i].seq < records[j].seq
	})
	if len(records) > limit {
		records = records[:limit]
	}

	result := make([]domain.InboundEvent, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.InboundEvent)
	}
	return result, nil
}

func (r inboundRepository) MarkProcessed(_ context.Context, id string, at time.Time) error {
	st, unlock := r.v.enter()
	defer unlock()

	rec, ok := st.inbound[id]
	if !ok {
		return domain.ErrInboundEventNotFound
	}
	rec.Processed = true
	rec.ProcessedAt = at
	rec.Error = ""
	st.inbound[id] = rec
	return nil
}

// RecordError фиксирует причину неудачи; событие остаётся в очереди.
func (r inboundRepository) RecordError(_ context.Context, id string, message string) error {
	st, unlock := r.v.enter()
	defer unlock()

	rec, ok := st.inbound[id]
	if !ok {
		return domain.ErrInboundEventNotFound
	}
	if rec.Processed {
		return nil
	}
	rec.Error = message
	st.inbound[id] = rec
	return nil
}

func (r inboundRepository) Stats(_ context.Context, channel string) (domain.InboundStats, error) {
	st, unlock := r.v.enter()
	defer unlock()

	var stats domain.InboundStats
	for _, rec := range st.inbound {
		if rec.Channel != channel || rec.Processed {
			continue
		}
		stats.UnprocessedCount++
		if rec.Error != "" {
			stats.ErroredCount++
		}
		if stats.OldestUnprocessedAt.IsZero() || rec.ReceivedAt.Before(stats.OldestUnprocessedAt) {
			stats.OldestUnprocessedAt = rec.ReceivedAt
		}
	}
	return stats, nil
}

var _ domain.InboundRepository = inboundRepository{}
