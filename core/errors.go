package core

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is a malformed input (phone, OTP, PIN) or a PIN confirmation mismatch.
// It never changes persisted state; the user is re-prompted.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

func (err ValidationError) Unwrap() error { return err.Err }

// NetworkError is a transport or server failure of the OTP backend.
// Reason is the server-provided message, surfaced verbatim.
type NetworkError struct {
	Op            string
	Reason        string
	StatusCode    int
	NotRegistered bool
	Timeout       bool
	Err           error
}

func (err NetworkError) Error() string {
	switch {
	case err.Reason != "":
		return err.Reason
	case err.Timeout:
		return err.Op + ": request timed out"
	case err.Err != nil:
		return err.Op + ": " + err.Err.Error()
	default:
		return fmt.Sprintf("%s: unexpected status %d", err.Op, err.StatusCode)
	}
}

func (err NetworkError) Unwrap() error { return err.Err }

// LockoutError is a deliberate denial of PIN checking while a lock is active.
type LockoutError struct {
	Until     time.Time
	Remaining time.Duration
}

func NewLockoutError(until, now time.Time) error {
	return &LockoutError{Until: until, Remaining: until.Sub(now)}
}

func (err LockoutError) Error() string {
	return fmt.Sprintf("too many attempts, try again in %s", err.Remaining.Round(time.Second))
}

// StorageError is a secure store read/write failure. Callers fail closed.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func NewStorageError(op, key string, err error) error {
	return &StorageError{Op: op, Key: key, Err: err}
}

func (err StorageError) Error() string {
	if err.Key == "" {
		return fmt.Sprintf("store %s: %v", err.Op, err.Err)
	}
	return fmt.Sprintf("store %s %q: %v", err.Op, err.Key, err.Err)
}

func (err StorageError) Unwrap() error { return err.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

func IsLockout(err error) bool {
	var target *LockoutError
	return errors.As(err, &target)
}

func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
