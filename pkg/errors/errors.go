package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrFileNotFound         = errors.New("file not found")
	ErrInvalidFileFormat    = errors.New("invalid file format")
	ErrSchemaValidation     = errors.New("schema validation failed")
	ErrExternalAPITimeout   = errors.New("external API timeout")
	ErrExternalAPIError     = errors.New("external API error")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidGradeValue    = errors.New("invalid grade value")

	ErrRecordNotFound    = errors.New("grade record not found")
	ErrRecordInFlight    = errors.New("grade record is being synchronized")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSubmitterMismatch = errors.New("not all grade records have the same submitter external id")
	ErrMissingIdentity   = errors.New("no external id for user")
	ErrUnknownGradeKind  = errors.New("unknown grade kind")
	ErrEmptyBatch        = errors.New("empty grade batch")
	ErrStatusConflict    = errors.New("grade record status changed")
)

// Class is the failure taxonomy used by the synchronizer to decide what happens
// to a record or a whole batch.
type Class int

const (
	ClassUnknown Class = iota
	// ClassTransport covers network failures and timeouts talking to the SIS.
	ClassTransport
	// ClassProtocol covers malformed or absent response bodies.
	ClassProtocol
	// ClassDomain is a per-record rejection by the SIS.
	ClassDomain
	// ClassImmutable is a rejection because the SIS record is rolled or closed.
	ClassImmutable
	// ClassInvariant marks setup problems that abort the whole operation.
	ClassInvariant
	// ClassContention means another process holds the course lock.
	ClassContention
)

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassProtocol:
		return "protocol"
	case ClassDomain:
		return "domain"
	case ClassImmutable:
		return "immutable"
	case ClassInvariant:
		return "invariant"
	case ClassContention:
		return "contention"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a batch hitting this class should be resubmitted.
func (c Class) Recoverable() bool {
	return c == ClassTransport || c == ClassProtocol
}

// SyncError carries a classification, a short machine-readable reason and a
// free-text detail.
type SyncError struct {
	Class  Class
	Reason string
	Detail string
	Err    error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s error: %s", e.Class, e.Reason)
	if e.Detail != "" {
		msg += " - " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func NewTransportError(err error, detail string) error {
	return &SyncError{Class: ClassTransport, Reason: "connection_error", Detail: detail, Err: err}
}

func NewProtocolError(err error, detail string) error {
	return &SyncError{Class: ClassProtocol, Reason: "bad_response", Detail: detail, Err: err}
}

func NewInvariantError(err error, detail string) error {
	return &SyncError{Class: ClassInvariant, Reason: "invariant_violation", Detail: detail, Err: err}
}

func NewContentionError(err error, detail string) error {
	return &SyncError{Class: ClassContention, Reason: "lock_held", Detail: detail, Err: err}
}

// NewRejectionError classifies a per-record SIS rejection. Rolled records are
// immutable, everything else is a domain rejection.
func NewRejectionError(rolled bool, detail string) error {
	if rolled {
		return &SyncError{Class: ClassImmutable, Reason: "record_rolled", Detail: detail}
	}
	return &SyncError{Class: ClassDomain, Reason: "record_rejected", Detail: detail}
}

// ClassOf returns the classification of err, looking through wrapped errors.
// Unclassified retryable errors and cancelled or expired contexts count as
// transport failures.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Class
	}
	var re RetryableError
	if errors.As(err, &re) {
		return ClassTransport
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransport
	}
	if errors.Is(err, ErrSubmitterMismatch) || errors.Is(err, ErrMissingIdentity) {
		return ClassInvariant
	}
	return ClassUnknown
}

func IsInvariant(err error) bool {
	return ClassOf(err) == ClassInvariant
}

type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s",
		e.Field, e.Value, e.Message)
}

// FieldErrors is the result of grade rule validation, keyed by field name.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	return fmt.Sprintf("grade has %d invalid field(s)", len(fe))
}

type RetryableError struct {
	Err     error
	Message string
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %s - %s", e.Message, e.Err.Error())
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error, message string) error {
	return RetryableError{
		Err:     err,
		Message: message,
	}
}
