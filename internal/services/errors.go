package services

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrCacheMiss    = errors.New("recommendation cache miss")
)

// ValidationError reports a request rejected before any computation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
