package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/metrics"
)

// Generator пишет исходящие события в транзакции мутации брони.
type Generator struct {
	now     domain.Clock
	metrics *metrics.SyncMetrics
}

// NewGenerator создаёт генератор. now и m могут быть nil.
func NewGenerator(now domain.Clock, m *metrics.SyncMetrics) *Generator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Generator{now: now, metrics: m}
}

type categoryRange struct {
	start time.Time
	end   time.Time
}

// EnqueueAvailability группирует сегменты по категории номера и пишет одно
// availability_update на группу с диапазоном [min заезд, max выезд].
// Номера, которых нет в хранилище, пропускаются. Пустой набор сегментов ничего не пишет.
// При переселении сюда передаются и сегменты до изменения, чтобы обновилась покинутая категория.
func (g *Generator) EnqueueAvailability(ctx context.Context, tx domain.Tx, segments ...[]domain.Segment) ([]domain.OutboundEvent, error) {
	ranges := make(map[string]categoryRange)
	categories := make(map[string]string)

	for _, group := range segments {
		for _, seg := range group {
			category, ok := categories[seg.RoomID]
			if !ok {
				room, err := tx.Rooms().Get(ctx, seg.RoomID)
				if errors.Is(err, domain.ErrRoomNotFound) {
					categories[seg.RoomID] = ""
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("resolve room %s: %w", seg.RoomID, err)
				}
				category = room.Category
				categories[seg.RoomID] = category
			}
			if category == "" {
				continue
			}

			r, seen := ranges[category]
			if !seen || seg.CheckIn.Before(r.start) {
				r.start = seg.CheckIn
			}
			if !seen || seg.CheckOut.After(r.end) {
				r.end = seg.CheckOut
			}
			ranges[category] = r
		}
	}
	if len(ranges) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	created := g.now()
	out := make([]domain.OutboundEvent, 0, len(names))
	for _, name := range names {
		r := ranges[name]
		event, err := domain.NewAvailabilityEvent(name, r.start, r.end)
		if err != nil {
			return nil, err
		}
		event.CreatedAt = created
		stored, err := tx.Outbound().Enqueue(ctx, event)
		if err != nil {
			return nil, fmt.Errorf("enqueue availability update for %q: %w", name, err)
		}
		g.metrics.RecordEnqueued(string(domain.OutboundAvailabilityUpdate))
		out = append(out, stored)
	}
	return out, nil
}

// EnqueueRateUpdate пишет rate_update для категории.
func (g *Generator) EnqueueRateUpdate(ctx context.Context, tx domain.Tx, payload domain.RatePayload) (domain.OutboundEvent, error) {
	event, err := domain.NewRateEvent(payload)
	if err != nil {
		return domain.OutboundEvent{}, err
	}
	event.CreatedAt = g.now()

	stored, err := tx.Outbound().Enqueue(ctx, event)
	if err != nil {
		return domain.OutboundEvent{}, fmt.Errorf("enqueue rate update for %q: %w", payload.Category, err)
	}
	g.metrics.RecordEnqueued(string(domain.OutboundRateUpdate))
	return stored, nil
}
