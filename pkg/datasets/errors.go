package datasets

import (
	"errors"
	"fmt"
)

// ValidationError rejects a malformed dataset or asset before anything is
// persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrNotFound indicates the requested dataset or asset does not exist.
var ErrNotFound = errors.New("dataset not found")

// ErrNotOwner indicates the caller does not own the dataset it tried to edit.
var ErrNotOwner = errors.New("not the dataset owner")
