package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation      = "23505"
	pgErrExclusionViolation   = "23P01"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
)

func pgErrorCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", ""
	}
	return pgErr.Code, pgErr.ConstraintName
}

func isUniqueViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgErrUniqueViolation
}

// isExclusionViolation срабатывает на booking_segments_no_overlap.
func isExclusionViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgErrExclusionViolation
}

func isRetryable(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgErrSerializationFailure || code == pgErrDeadlockDetected
}

func constraintName(err error) string {
	_, name := pgErrorCode(err)
	return name
}
