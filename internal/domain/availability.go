package domain

import "time"

// DailyAvailability содержит число свободных номеров категории на одну дату.
type DailyAvailability struct {
	Date      time.Time
	Available int
}

// ComputeAvailability считает свободные номера на каждую дату из [from, to] включительно.
// rooms и segments уже отфильтрованы по категории, segments принадлежат броням, держащим инвентарь.
// Ночь d занята сегментом, если CheckIn <= d < CheckOut. Результат не бывает отрицательным.
func ComputeAvailability(rooms []Room, segments []Segment, from, to time.Time) []DailyAvailability {
	total := 0
	for _, room := range rooms {
		if room.CountsTowardsInventory() {
			total++
		}
	}

	days := DaysInclusive(from, to)
	out := make([]DailyAvailability, 0, len(days))
	for _, day := range days {
		occupied := 0
		for _, seg := range segments {
			if seg.Stay().Covers(day) {
				occupied++
			}
		}
		available := total - occupied
		if available < 0 {
			available = 0
		}
		out = append(out, DailyAvailability{Date: day, Available: available})
	}
	return out
}
