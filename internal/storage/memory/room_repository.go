package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

type roomRepository struct {
	v view
}

// Create сохраняет номер, если номер комнаты ещё не занят.
func (r roomRepository) Create(_ context.Context, room domain.Room) error {
	if errs := room.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid room: %w", errs[0])
	}

	st, unlock := r.v.enter()
	defer unlock()

	for _, existing := range st.rooms {
		if strings.EqualFold(existing.Number, room.Number) {
			return domain.ErrDuplicateRoomNumber
		}
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	now := r.v.now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	st.rooms[room.ID] = room
	return nil
}

func (r roomRepository) Get(_ context.Context, id string) (domain.Room, error) {
	st, unlock := r.v.enter()
	defer unlock()

	room, ok := st.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return room, nil
}

func (r roomRepository) List(_ context.Context) ([]domain.Room, error) {
	st, unlock := r.v.enter()
	defer unlock()

	result := make([]domain.Room, 0, len(st.rooms))
	for _, room := range st.rooms {
		result = append(result, room)
	}
	sortRooms(result)
	return result, nil
}

// ListByCategory возвращает номера категории в порядке номера комнаты.
func (r roomRepository) ListByCategory(_ context.Context, category string) ([]domain.Room, error) {
	st, unlock := r.v.enter()
	defer unlock()

	return roomsOfCategory(st, category), nil
}

func (r roomRepository) UpdateStatus(_ context.Context, id string, status domain.RoomStatus) error {
	if !status.Valid() {
		return domain.ErrRoomStatusInvalid
	}

	st, unlock := r.v.enter()
	defer unlock()

	room, ok := st.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Status = status
	room.UpdatedAt = r.v.now()
	st.rooms[id] = room
	return nil
}

func roomsOfCategory(st *state, category string) []domain.Room {
	result := make([]domain.Room, 0)
	for _, room := range st.rooms {
		if room.Category == category {
			result = append(result, room)
		}
	}
	sortRooms(result)
	return result
}

func sortRooms(rooms []domain.Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Number != rooms[j].Number {
			return rooms[i].Number < rooms[j].Number
		}
		return rooms[i].ID < rooms[j].ID
	})
}

var _ domain.RoomRepository = roomRepository{}
