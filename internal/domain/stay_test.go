package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

func date(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return d
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name       string
		a, b, c, d string
		want       bool
	}{
		{name: "back to back", a: "2026-01-01", b: "2026-01-05", c: "2026-01-05", d: "2026-01-08", want: false},
		{name: "back to back reversed", a: "2026-01-05", b: "2026-01-08", c: "2026-01-01", d: "2026-01-05", want: false},
		{name: "one night shared", a: "2026-01-01", b: "2026-01-05", c: "2026-01-04", d: "2026-01-08", want: true},
		{name: "contained", a: "2026-01-01", b: "2026-01-10", c: "2026-01-03", d: "2026-01-04", want: true},
		{name: "identical", a: "2026-01-01", b: "2026-01-02", c: "2026-01-01", d: "2026-01-02", want: true},
		{name: "disjoint", a: "2026-01-01", b: "2026-01-02", c: "2026-02-01", d: "2026-02-02", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.Overlaps(date(t, tc.a), date(t, tc.b), date(t, tc.c), date(t, tc.d))
			if got != tc.want {
				t.Fatalf("Overlaps(%s,%s,%s,%s)=%v, want %v", tc.a, tc.b, tc.c, tc.d, got, tc.want)
			}
			// пересечение симметрично
			if sym := domain.Overlaps(date(t, tc.c), date(t, tc.d), date(t, tc.a), date(t, tc.b)); sym != got {
				t.Fatalf("overlap is not symmetric for %s", tc.name)
			}
		})
	}
}

func TestParseDateAcceptsRFC3339(t *testing.T) {
	got, err := domain.ParseDate("2026-03-10T15:04:05+02:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}

	if _, err := domain.ParseDate("10/03/2026"); !errors.Is(err, domain.ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestNewStay(t *testing.T) {
	stay, err := domain.NewStay(date(t, "2026-03-10"), date(t, "2026-03-12"))
	if err != nil {
		t.Fatalf("new stay: %v", err)
	}
	if stay.Nights() != 2 {
		t.Fatalf("expected 2 nights, got %d", stay.Nights())
	}
	if !stay.Covers(date(t, "2026-03-11")) || stay.Covers(date(t, "2026-03-12")) {
		t.Fatalf("check-out night must not be covered: %s", stay)
	}

	if _, err := domain.NewStay(date(t, "2026-03-10"), date(t, "2026-03-10")); !errors.Is(err, domain.ErrInvalidStay) {
		t.Fatalf("expected ErrInvalidStay, got %v", err)
	}
}

func TestDaysInclusive(t *testing.T) {
	days := domain.DaysInclusive(date(t, "2026-02-27"), date(t, "2026-03-01"))
	if len(days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(days))
	}
	if domain.FormatDate(days[2]) != "2026-03-01" {
		t.Fatalf("unexpected last day %s", domain.FormatDate(days[2]))
	}
	if got := domain.DaysInclusive(date(t, "2026-03-02"), date(t, "2026-03-01")); got != nil {
		t.Fatalf("expected nil for reversed range, got %v", got)
	}
}
