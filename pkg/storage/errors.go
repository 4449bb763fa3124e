package storage

import (
	"errors"
	"sync"

	"github.com/lib/pq"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var (
	violationsMu     sync.RWMutex
	uniqueViolations = []func(error) bool{isPQUniqueViolation}
)

// RegisterUniqueViolation adds a matcher for the unique constraint errors of
// another driver. Drivers only linked into tests, such as SQLite, register
// here so production binaries do not depend on them.
func RegisterUniqueViolation(match func(error) bool) {
	violationsMu.Lock()
	defer violationsMu.Unlock()
	uniqueViolations = append(uniqueViolations, match)
}

// IsUniqueViolation reports whether err was raised by a unique or primary key
// constraint in any registered driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	violationsMu.RLock()
	defer violationsMu.RUnlock()
	for _, match := range uniqueViolations {
		if match(err) {
			return true
		}
	}
	return false
}

func isPQUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}
