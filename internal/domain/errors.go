package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownParameter marks references to names missing from the catalog.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrInvalidCopySource marks template copies from an unusable source.
	ErrInvalidCopySource = errors.New("invalid copy source")
)

// UnknownSampleError reports a sample id that does not resolve.
type UnknownSampleError struct {
	SampleID int64
}

func (e *UnknownSampleError) Error() string {
	return fmt.Sprintf("sample %d not found", e.SampleID)
}

// DomainError reports invalid input. Err, when set, carries the cause.
type DomainError struct {
	Reason string
	Err    error
}

func (e *DomainError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "invalid request"
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError formats a DomainError without a cause.
func NewDomainError(format string, args ...any) *DomainError {
	return &DomainError{Reason: fmt.Sprintf(format, args...)}
}

// UnknownParameter builds the DomainError for a name missing from the catalog.
func UnknownParameter(name string) *DomainError {
	return &DomainError{
		Reason: fmt.Sprintf("unknown parameter %q", name),
		Err:    ErrUnknownParameter,
	}
}

// ValidationError is a catalog level coercion or constraint failure.
type ValidationError struct {
	Parameter string
	Expected  string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for parameter %q (expected %s): %s", e.Parameter, e.Expected, e.Reason)
}

// StorageError wraps a persistence failure. Its message is not meant for
// end users.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrorKind is the coarse classification the presentation boundary switches on.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnknownSample
	KindDomain
	KindStorage
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnknownSample:
		return "unknown_sample"
	case KindDomain:
		return "domain"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Classify maps an error returned by the domain service to its kind. The
// outermost typed error wins, so a DomainError wrapping a storage cause is
// still a domain error.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		switch cur.(type) {
		case *UnknownSampleError:
			return KindUnknownSample
		case *DomainError, *ValidationError:
			return KindDomain
		case *StorageError:
			return KindStorage
		}
	}
	return KindInternal
}
