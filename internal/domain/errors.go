package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrLockHeld    = errors.New("lock already held")
	ErrJobNotFound = errors.New("job not found")
)

// ParseError reports a malformed numeric or hex value in a single transfer
// record. The record is skipped; processing continues.
type ParseError struct {
	Field string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: malformed value %q", e.Field, e.Value)
}

// DecodeError reports an ABI mismatch on a log emitted by an allow-listed
// contract. The log degrades to an UnknownLog record; decoding of the rest
// of the receipt continues.
type DecodeError struct {
	Contract string
	Topic    string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode log %s topic %s: %v", e.Contract, e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransientError marks a provider failure worth retrying (rate limit,
// timeout, 5xx).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a provider failure that retrying cannot fix.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
