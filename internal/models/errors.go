package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindUsage              ErrorKind = "usage"
	KindConfig             ErrorKind = "config"
	KindConversion         ErrorKind = "conversion"
	KindMetadataExtraction ErrorKind = "metadata_extraction"
	KindConnection         ErrorKind = "connection"
	KindAuthentication     ErrorKind = "authentication"
	KindIndexSubmission    ErrorKind = "index_submission"
	KindCleanup            ErrorKind = "cleanup"
)

// Error is a classified pipeline error with context.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new classified error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func UsageError(message string, err error) *Error {
	return NewError(KindUsage, message, err)
}

func ConfigError(message string, err error) *Error {
	return NewError(KindConfig, message, err)
}

func ConversionError(message string, err error) *Error {
	return NewError(KindConversion, message, err)
}

func MetadataExtractionError(message string, err error) *Error {
	return NewError(KindMetadataExtraction, message, err)
}

func ConnectionError(message string, err error) *Error {
	return NewError(KindConnection, message, err)
}

func AuthenticationError(message string, err error) *Error {
	return NewError(KindAuthentication, message, err)
}

func IndexSubmissionError(message string, err error) *Error {
	return NewError(KindIndexSubmission, message, err)
}

func CleanupError(message string, err error) *Error {
	return NewError(KindCleanup, message, err)
}
