package model

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (wrapped) by every record store backend.
var (
	// ErrNotFound indicates no record matched a lookup.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates a uniqueness constraint was violated at the
	// storage boundary (duplicate key or duplicate live slug).
	ErrConflict = errors.New("record conflict")
)

// ErrorCode categorizes record errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates a seed attribute required for key or
	// slug derivation was null or missing, or a type declaration is invalid.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeResourceExhausted indicates slug disambiguation ran out of
	// attempts.
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// ErrCodeSerialization indicates a value had no serialization strategy.
	ErrCodeSerialization ErrorCode = "SERIALIZATION"

	// ErrCodeLogRequired indicates a write was attempted on a type that
	// requires an audit log message without one being queued.
	ErrCodeLogRequired ErrorCode = "LOG_REQUIRED"

	// ErrCodeInvalidValue indicates an attribute value could not be coerced
	// to the attribute's declared kind.
	ErrCodeInvalidValue ErrorCode = "INVALID_VALUE"
)

// Error is the structured error type for record operations.
//
// Type and Attribute identify the record type and attribute involved, when
// known. Err carries an underlying cause for errors.Unwrap.
type Error struct {
	Code      ErrorCode
	Message   string
	Type      string
	Attribute string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Type != "" && e.Attribute != "":
		msg = fmt.Sprintf("%s (type=%s, attribute=%s)", msg, e.Type, e.Attribute)
	case e.Type != "":
		msg = fmt.Sprintf("%s (type=%s)", msg, e.Type)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates an Error for a missing seed attribute or a
// malformed type declaration.
func NewConfigurationError(typeName, attr, message string) *Error {
	return &Error{
		Code:      ErrCodeConfiguration,
		Message:   message,
		Type:      typeName,
		Attribute: attr,
	}
}

// NewResourceExhaustedError creates an Error for an exhausted slug search.
func NewResourceExhaustedError(typeName, attr string, attempts int, root string) *Error {
	return &Error{
		Code:      ErrCodeResourceExhausted,
		Message:   fmt.Sprintf("exceeded %d attempts searching for available slug on input %q", attempts, root),
		Type:      typeName,
		Attribute: attr,
	}
}

// NewSerializationError creates an Error for an unconvertible value.
func NewSerializationError(typeName, attr string, v any) *Error {
	return &Error{
		Code:      ErrCodeSerialization,
		Message:   fmt.Sprintf("no serializer for value of type %T", v),
		Type:      typeName,
		Attribute: attr,
	}
}

// NewLogRequiredError creates an Error for a write without an audit message.
func NewLogRequiredError(typeName, op string) *Error {
	return &Error{
		Code:    ErrCodeLogRequired,
		Message: fmt.Sprintf("attempting to %s without log message", op),
		Type:    typeName,
	}
}

// NewInvalidValueError creates an Error for a value of the wrong kind.
func NewInvalidValueError(typeName, attr string, kind Kind, v any, err error) *Error {
	return &Error{
		Code:      ErrCodeInvalidValue,
		Message:   fmt.Sprintf("cannot use %T as %s", v, kind),
		Type:      typeName,
		Attribute: attr,
		Err:       err,
	}
}

// IsConfigurationError reports whether err is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsResourceExhausted reports whether err is a resource exhausted error.
func IsResourceExhausted(err error) bool {
	return hasCode(err, ErrCodeResourceExhausted)
}

// IsSerializationError reports whether err is a serialization error.
func IsSerializationError(err error) bool {
	return hasCode(err, ErrCodeSerialization)
}

// IsLogRequired reports whether err is a missing log message error.
func IsLogRequired(err error) bool {
	return hasCode(err, ErrCodeLogRequired)
}

// IsInvalidValue reports whether err is an invalid attribute value error.
func IsInvalidValue(err error) bool {
	return hasCode(err, ErrCodeInvalidValue)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
