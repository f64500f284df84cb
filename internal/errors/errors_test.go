package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrValidation,
		ErrNotFound,
		ErrConflict,
		ErrInvalidCredentials,
		ErrStore,
		ErrTimeout,
	}
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestSentinelErrors_ExpectedMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrValidation, "validation failed"},
		{ErrNotFound, "not found"},
		{ErrConflict, "conflict"},
		{ErrInvalidCredentials, "invalid username or password"},
		{ErrStore, "store failure"},
		{ErrTimeout, "store timeout"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("creating client: %w", NewValidationError("name", "is required"))

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrNotFound))

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "is required", ve.Fields["name"])
}

func TestValidationError_MessageIsSorted(t *testing.T) {
	ve := NewValidationError("secret", "is required")
	ve.Add("name", "is required")

	assert.Equal(t, "validation failed: name: is required, secret: is required", ve.Error())
}

func TestValidationError_AddOnZeroValue(t *testing.T) {
	var ve ValidationError
	ve.Add("type", "must be one of [web]")
	assert.Len(t, ve.Fields, 1)
}
