package database

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolationCode is the Postgres SQLSTATE for a unique-constraint
// violation (23505).
const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-violation,
// driving the bulk-copy-then-ON-CONFLICT fallback in the bar ingester and
// the constraint_rejected classification in the identity matcher.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}

// ConstraintName extracts the violated constraint name from a Postgres
// error, or "" if err is not a constraint violation. The identity matcher
// uses this to tell
// "constraint_rejected" (expected: another asset already claimed this
// identity via idx_assets_unique_securities_primary_id) apart from any other
// unique-violation, which is classified as "failed".
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
