package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorPredicates(t *testing.T) {
	type verdict struct{ version, idempotency, conflict bool }

	cases := map[string]struct {
		err  error
		want verdict
	}{
		"nil":                 {err: nil},
		"stale version":       {err: ErrBookingVersionConflict, want: verdict{version: true, conflict: true}},
		"joined stale":        {err: errors.Join(ErrBookingVersionConflict, errors.New("booking b-1")), want: verdict{version: true, conflict: true}},
		"overlapping segment": {err: fmt.Errorf("move room 204: %w", ErrRoomConflict), want: verdict{conflict: true}},
		"reservation dup":     {err: fmt.Errorf("create: %w", ErrDuplicateReservation), want: verdict{conflict: true}},
		"delivery replay":     {err: ErrIdempotencyKeyAlreadyExists, want: verdict{idempotency: true}},
		"delivery reuse":      {err: fmt.Errorf("claim: %w", ErrIdempotencyHashMismatch), want: verdict{idempotency: true}},
		"missing key":         {err: ErrIdempotencyKeyNotFound},
		"sold out":            {err: ErrNoRoomAvailable},
		"booking missing":     {err: ErrBookingNotFound},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := verdict{
				version:     IsVersionConflict(tc.err),
				idempotency: IsIdempotencyConflict(tc.err),
				conflict:    IsConflict(tc.err),
			}
			if got != tc.want {
				t.Errorf("predicates(%v) = %+v, want %+v", tc.err, got, tc.want)
			}
		})
	}
}
