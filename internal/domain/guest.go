package domain

import (
	"strings"
	"time"
)

// Guest описывает гостя. AliasEmail выдаёт канал и служит ключом дедупликации.
type Guest struct {
	ID         string
	FirstName  string
	LastName   string
	Email      string
	AliasEmail string
	CreatedAt  time.Time
}

// NormalizeEmail приводит адрес к виду для сравнения.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FullName возвращает имя и фамилию через пробел.
func (g Guest) FullName() string {
	return strings.TrimSpace(g.FirstName + " " + g.LastName)
}
