package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// Allocate выбирает номер категории для проживания stay.
// Номера перебираются по возрастанию номера комнаты, ремонт и блокировки пропускаются.
// Берётся первый номер без активного сегмента, пересекающего [CheckIn, CheckOut).
func Allocate(ctx context.Context, tx domain.Tx, category string, stay domain.Stay) (domain.Room, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return domain.Room{}, domain.ErrCategoryRequired
	}

	rooms, err := tx.Rooms().ListByCategory(ctx, category)
	if err != nil {
		return domain.Room{}, fmt.Errorf("list rooms of %q: %w", category, err)
	}

	for _, room := range rooms {
		if !room.Allocatable() {
			continue
		}
		overlapping, err := tx.Bookings().SegmentsOverlapping(ctx, room.ID, stay)
		if err != nil {
			return domain.Room{}, fmt.Errorf("check room %s: %w", room.Number, err)
		}
		if len(overlapping) == 0 {
			return room, nil
		}
	}

	return domain.Room{}, fmt.Errorf("%w: category %q %s", domain.ErrNoRoomAvailable, category, stay)
}
