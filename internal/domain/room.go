package domain

import (
	"strings"
	"time"
)

// RoomStatus описывает операционное состояние физического номера.
type RoomStatus string

const (
	// RoomStatusAvailable означает, что номер чистый и свободен.
	RoomStatusAvailable RoomStatus = "available"
	// RoomStatusOccupied означает, что гость заселён.
	RoomStatusOccupied RoomStatus = "occupied"
	// RoomStatusDirty означает, что номер освобождён и ждёт уборки.
	RoomStatusDirty RoomStatus = "dirty"
	// RoomStatusMaintenance означает ремонт, номер выведен из продажи.
	RoomStatusMaintenance RoomStatus = "maintenance"
	// RoomStatusBlocked означает блокировку оператором.
	RoomStatusBlocked RoomStatus = "blocked"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusAvailable, RoomStatusOccupied, RoomStatusDirty, RoomStatusMaintenance, RoomStatusBlocked:
		return true
	default:
		return false
	}
}

// Room описывает физический номер. Category задаётся оператором и не является перечислением.
type Room struct {
	ID             string
	Number         string
	Category       string
	BasePriceMinor int64
	Status         RoomStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Allocatable сообщает, можно ли поселить в номер бронь из канала.
func (r Room) Allocatable() bool {
	return r.Status != RoomStatusMaintenance && r.Status != RoomStatusBlocked
}

// CountsTowardsInventory сообщает, входит ли номер в продаваемый инвентарь категории.
// Заблокированные номера остаются в инвентаре, исключается только ремонт.
func (r Room) CountsTowardsInventory() bool {
	return r.Status != RoomStatusMaintenance
}

// Validate проверяет обязательные поля номера.
func (r *Room) Validate() []error {
	var errs []error

	if strings.TrimSpace(r.Number) == "" {
		errs = append(errs, ErrRoomNumberRequired)
	}
	if strings.TrimSpace(r.Category) == "" {
		errs = append(errs, ErrCategoryRequired)
	}
	if r.BasePriceMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if !r.Status.Valid() {
		errs = append(errs, ErrRoomStatusInvalid)
	}

	return errs
}
