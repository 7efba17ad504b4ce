package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrJobIDRequired indicates a transcode job without its executor ID.
	ErrJobIDRequired = errors.New("job_id is required")

	// ErrInvalidJobStatus indicates an unknown job status.
	ErrInvalidJobStatus = errors.New("invalid job status: must be 'running', 'completed' or 'failed'")
)
