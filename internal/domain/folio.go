package domain

import "time"

// FolioKind различает виды счетов.
type FolioKind string

const (
	// FolioKindGuest обозначает счёт, привязанный к брони гостя.
	FolioKindGuest FolioKind = "guest"
	// FolioKindExternal обозначает счёт стороннего плательщика (агентство, компания).
	FolioKindExternal FolioKind = "external"
)

// FolioHeader содержит общие поля любого счёта.
type FolioHeader struct {
	ID           string
	Currency     string
	BalanceMinor int64
	OpenedBy     Actor
	OpenedAt     time.Time
}

// Folio закрыт для реализаций вне пакета: счёт либо гостевой, либо внешний.
type Folio interface {
	Header() FolioHeader
	Kind() FolioKind
	sealedFolio()
}

// GuestFolio открывается на бронь при её создании.
type GuestFolio struct {
	FolioHeader
	ReservationID string
}

// Header возвращает общие поля счёта.
func (f GuestFolio) Header() FolioHeader { return f.FolioHeader }

// Kind возвращает FolioKindGuest.
func (f GuestFolio) Kind() FolioKind { return FolioKindGuest }

func (GuestFolio) sealedFolio() {}

// ExternalFolio принадлежит плательщику, не связанному с конкретной бронью.
type ExternalFolio struct {
	FolioHeader
	Alias       string
	Description string
}

// Header возвращает общие поля счёта.
func (f ExternalFolio) Header() FolioHeader { return f.FolioHeader }

// Kind возвращает FolioKindExternal.
func (f ExternalFolio) Kind() FolioKind { return FolioKindExternal }

func (ExternalFolio) sealedFolio() {}
