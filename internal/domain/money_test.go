package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

func TestParseMinor(t *testing.T) {
	cases := map[string]int64{
		"240":     24000,
		"240.5":   24050,
		"240.50":  24050,
		"0.07":    7,
		" 12.30 ": 1230,
		"-1.25":   -125,
	}
	for raw, want := range cases {
		got, err := domain.ParseMinor(raw)
		if err != nil {
			t.Fatalf("ParseMinor(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseMinor(%q)=%d, want %d", raw, got, want)
		}
	}

	for _, raw := range []string{"", "1.234", "abc", "1.", ".5", "1,50"} {
		if _, err := domain.ParseMinor(raw); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("ParseMinor(%q): expected ErrInvalidAmount, got %v", raw, err)
		}
	}
}

func TestFormatMinor(t *testing.T) {
	if got := domain.FormatMinor(24050); got != "240.50" {
		t.Fatalf("unexpected %q", got)
	}
	if got := domain.FormatMinor(-7); got != "-0.07" {
		t.Fatalf("unexpected %q", got)
	}
}
