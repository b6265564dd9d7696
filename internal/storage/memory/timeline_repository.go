package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// timelineRepository хранит события броней в памяти (для разработки/тестов).
type timelineRepository struct {
	v view
}

// Append добавляет событие в журнал брони.
func (r timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	st, unlock := r.v.enter()
	defer unlock()

	if event.Occurred.IsZero() {
		event.Occurred = r.v.now()
	}
	events := append(st.timeline[event.BookingID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	st.timeline[event.BookingID] = events

	return nil
}

// List возвращает события брони в хронологическом порядке.
func (r timelineRepository) List(_ context.Context, bookingID string) ([]domain.TimelineEvent, error) {
	st, unlock := r.v.enter()
	defer unlock()

	events := st.timeline[bookingID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = timelineRepository{}
