package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout задаёт формат календарной даты во внешних payload и в outbound-событиях.
const DateLayout = "2006-01-02"

// Day приводит момент времени к полуночи UTC той же календарной даты.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate разбирает дату в формате YYYY-MM-DD или RFC3339.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidDate)
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return Day(t), nil
}

// FormatDate печатает дату в формате YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Overlaps проверяет пересечение полуинтервалов [aStart, aEnd) и [bStart, bEnd).
// Выезд в день X не конфликтует с заездом в день X.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Stay описывает полуинтервал проживания [CheckIn, CheckOut) в календарных датах.
type Stay struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// NewStay нормализует даты и проверяет, что выезд строго позже заезда.
func NewStay(checkIn, checkOut time.Time) (Stay, error) {
	stay := Stay{CheckIn: Day(checkIn), CheckOut: Day(checkOut)}
	if !stay.CheckOut.After(stay.CheckIn) {
		return Stay{}, fmt.Errorf("%w: check-out %s is not after check-in %s",
			ErrInvalidStay, FormatDate(stay.CheckOut), FormatDate(stay.CheckIn))
	}
	return stay, nil
}

// Nights возвращает количество ночей проживания.
func (s Stay) Nights() int {
	return int(s.CheckOut.Sub(s.CheckIn).Hours() / 24)
}

// Overlaps проверяет пересечение двух проживаний.
func (s Stay) Overlaps(other Stay) bool {
	return Overlaps(s.CheckIn, s.CheckOut, other.CheckIn, other.CheckOut)
}

// Covers сообщает, занята ли ночь, начинающаяся в day.
func (s Stay) Covers(day time.Time) bool {
	day = Day(day)
	return !s.CheckIn.After(day) && s.CheckOut.After(day)
}

func (s Stay) String() string {
	return fmt.Sprintf("[%s,%s)", FormatDate(s.CheckIn), FormatDate(s.CheckOut))
}

// DaysInclusive перечисляет даты от from до to включительно.
func DaysInclusive(from, to time.Time) []time.Time {
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return nil
	}
	days := make([]time.Time, 0, int(to.Sub(from).Hours()/24)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
