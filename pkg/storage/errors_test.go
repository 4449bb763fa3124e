package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("nope"), false},
		{"postgres unique", &pq.Error{Code: "23505"}, true},
		{"postgres wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"postgres fk", &pq.Error{Code: "23503"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsUniqueViolation(tt.err))
		})
	}
}

type driverError struct{ code int }

func (e driverError) Error() string { return fmt.Sprintf("driver error %d", e.code) }

func TestRegisterUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", driverError{code: 2067})
	assert.False(t, IsUniqueViolation(err))

	violationsMu.RLock()
	saved := uniqueViolations
	violationsMu.RUnlock()
	t.Cleanup(func() {
		violationsMu.Lock()
		uniqueViolations = saved
		violationsMu.Unlock()
	})

	RegisterUniqueViolation(func(err error) bool {
		var de driverError
		return errors.As(err, &de) && de.code == 2067
	})
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(driverError{code: 19}))
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}), "postgres is still recognized")
}
