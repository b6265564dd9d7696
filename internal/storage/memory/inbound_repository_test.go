package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/storage/memory"
)

func TestInboundRepository_PullRecordErrorAndMark(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithClock(fixedClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))))
	repo := store.Inbound()

	first, err := repo.Append(ctx, domain.InboundEvent{Channel: "booking", Payload: `{"n":1}`})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := repo.Append(ctx, domain.InboundEvent{Channel: "booking", Payload: `{"n":2}`})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := repo.Append(ctx, domain.InboundEvent{Channel: "expedia", Payload: `{}`}); err != nil {
		t.Fatalf("append other channel: %v", err)
	}

	pulled, err := repo.PullUnprocessed(ctx, "booking", 50)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pulled) != 2 || pulled[0].ID != first.ID || pulled[1].ID != second.ID {
		t.Fatalf("expected both booking events oldest first, got %+v", pulled)
	}

	if err := repo.RecordError(ctx, first.ID, "unmapped external room"); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if err := repo.MarkProcessed(ctx, second.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	pulled, err = repo.PullUnprocessed(ctx, "booking", 50)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pulled) != 1 || pulled[0].ID != first.ID || pulled[0].Error != "unmapped external room" {
		t.Fatalf("errored event must stay queued with its error, got %+v", pulled)
	}

	stats, err := repo.Stats(ctx, "booking")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.UnprocessedCount != 1 || stats.ErroredCount != 1 || !stats.OldestUnprocessedAt.Equal(first.ReceivedAt) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := repo.RecordError(ctx, second.ID, "room conflict"); err != nil {
		t.Fatalf("record error on processed event: %v", err)
	}
	done, err := repo.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !done.Processed || done.Error != "" {
		t.Fatalf("processed event must keep an empty error, got %+v", done)
	}
	if err := repo.RecordError(ctx, "missing", "x"); !errors.Is(err, domain.ErrInboundEventNotFound) {
		t.Fatalf("expected ErrInboundEventNotFound, got %v", err)
	}

	if _, err := repo.Append(ctx, domain.InboundEvent{Payload: `{}`}); !errors.Is(err, domain.ErrChannelRequired) {
		t.Fatalf("expected ErrChannelRequired, got %v", err)
	}
}

func TestMappingRepository_FindByCategoryPicksEarliest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := store.Mappings()

	for _, m := range []domain.ChannelRoomMapping{
		{Channel: "booking", Category: "Doble", ExternalRoomID: "DBL-A", ExternalRatePlanID: "BAR", Active: true},
		{Channel: "booking", Category: "Doble", ExternalRoomID: "DBL-B", ExternalRatePlanID: "BAR", Active: true},
		{Channel: "booking", Category: "Suite", ExternalRoomID: "STE", Active: false},
	} {
		if err := repo.Create(ctx, m); err != nil {
			t.Fatalf("create mapping: %v", err)
		}
	}

	got, err := repo.FindByCategory(ctx, "booking", "Doble")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ExternalRoomID != "DBL-A" {
		t.Fatalf("expected earliest mapping DBL-A, got %s", got.ExternalRoomID)
	}

	if _, err := repo.FindByCategory(ctx, "booking", "Suite"); !errors.Is(err, domain.ErrMappingNotFound) {
		t.Fatalf("inactive mapping must be ignored, got %v", err)
	}
	if _, err := repo.FindByExternalRoom(ctx, "expedia", "DBL-A"); !errors.Is(err, domain.ErrMappingNotFound) {
		t.Fatalf("mapping of another channel must be ignored, got %v", err)
	}

	dup := domain.ChannelRoomMapping{Channel: "booking", Category: "Doble", ExternalRoomID: "DBL-A", ExternalRatePlanID: "BAR", Active: true}
	if err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrDuplicateMapping) {
		t.Fatalf("expected ErrDuplicateMapping, got %v", err)
	}
}

func TestFolioRepository_RoundTripsVariants(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := store.Folios()

	opened := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	guest := domain.GuestFolio{
		FolioHeader:   domain.FolioHeader{ID: "f1", Currency: "EUR", BalanceMinor: 24000, OpenedBy: "channel:booking", OpenedAt: opened},
		ReservationID: "b1",
	}
	external := domain.ExternalFolio{
		FolioHeader: domain.FolioHeader{ID: "f2", Currency: "EUR", OpenedBy: "frontdesk", OpenedAt: opened},
		Alias:       "ACME",
		Description: "corporate account",
	}
	for _, f := range []domain.Folio{guest, external} {
		if err := repo.Open(ctx, f); err != nil {
			t.Fatalf("open: %v", err)
		}
	}

	got, err := repo.Get(ctx, "f1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	gf, ok := got.(domain.GuestFolio)
	if !ok {
		t.Fatalf("expected GuestFolio, got %T", got)
	}
	if gf.ReservationID != "b1" || gf.BalanceMinor != 24000 || !gf.OpenedAt.Equal(opened) {
		t.Fatalf("unexpected guest folio %+v", gf)
	}

	got, err = repo.Get(ctx, "f2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ef, ok := got.(domain.ExternalFolio); !ok || ef.Alias != "ACME" {
		t.Fatalf("expected ExternalFolio ACME, got %#v", got)
	}

	list, err := repo.ListByReservation(ctx, "b1")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one folio for b1, got %d err=%v", len(list), err)
	}
}
