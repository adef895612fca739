package repository

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// isUniqueViolation reports whether err came from a unique constraint, for
// either supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key")
}
