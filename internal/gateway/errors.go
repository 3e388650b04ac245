package gateway

import (
	"errors"
	"fmt"
)

// Code identifies a service-level failure. A program that exits nonzero is
// not a service failure and never produces a Code.
type Code string

const (
	CodeInvalidRequest Code = "invalid_request"
	CodeStorageFailure Code = "storage_failure"
	CodeSpawnFailed    Code = "spawn_failed"
	CodeTimedOut       Code = "timed_out"
	CodeResourceLimit  Code = "resource_limit_exceeded"
	CodeServiceBusy    Code = "service_busy"
	CodeCanceled       Code = "canceled"
)

var (
	ErrEmptySource    = errors.New("code is required")
	ErrSourceTooLarge = errors.New("code exceeds the size limit")
)

// ServiceError is returned by Execute for every failure the caller should
// see as "the service could not run your code".
type ServiceError struct {
	Code    Code
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// AsServiceError extracts a *ServiceError from err.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
