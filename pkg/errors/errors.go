package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies failures across the master, its units and their RPC channels
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeDuplicateUnit ErrorType = "duplicate_unit"
	ErrorTypeProcess       ErrorType = "process"
	ErrorTypeDiscovery     ErrorType = "discovery"
	ErrorTypeHealthCheck   ErrorType = "health_check"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypePermission    ErrorType = "permission"
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeCancelled     ErrorType = "cancelled"
	ErrorTypeNotReady      ErrorType = "not_ready"
	ErrorTypeApplication   ErrorType = "application"
	ErrorTypeUnsupported   ErrorType = "unsupported"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Type))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteString("]")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Validation and registry errors
func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewDuplicateUnitError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDuplicateUnit, message, cause)
}

// Process errors
func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewDiscoveryError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDiscovery, message, cause)
}

func NewHealthCheckError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHealthCheck, message, cause)
}

// System errors
func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func NewUnsupportedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeUnsupported, message, cause)
}

// RPC errors
func NewNotReadyError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotReady, message, cause)
}

func NewApplicationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeApplication, message, cause)
}

func hasType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// TypeOf returns the type of the outermost DomainError in the chain, or empty string
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

func IsValidationError(err error) bool    { return hasType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool      { return hasType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool      { return hasType(err, ErrorTypeConflict) }
func IsDuplicateUnitError(err error) bool { return hasType(err, ErrorTypeDuplicateUnit) }
func IsProcessError(err error) bool       { return hasType(err, ErrorTypeProcess) }
func IsDiscoveryError(err error) bool     { return hasType(err, ErrorTypeDiscovery) }
func IsHealthCheckError(err error) bool   { return hasType(err, ErrorTypeHealthCheck) }
func IsTimeoutError(err error) bool       { return hasType(err, ErrorTypeTimeout) }
func IsPermissionError(err error) bool    { return hasType(err, ErrorTypePermission) }
func IsIOError(err error) bool            { return hasType(err, ErrorTypeIO) }
func IsNetworkError(err error) bool       { return hasType(err, ErrorTypeNetwork) }
func IsInternalError(err error) bool      { return hasType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool     { return hasType(err, ErrorTypeCancelled) }
func IsNotReadyError(err error) bool      { return hasType(err, ErrorTypeNotReady) }
func IsApplicationError(err error) bool   { return hasType(err, ErrorTypeApplication) }
func IsUnsupportedError(err error) bool   { return hasType(err, ErrorTypeUnsupported) }

// IsUnreachableError reports whether err means the remote side could not be reached
// at all, as opposed to being reached and answering with a failure.
func IsUnreachableError(err error) bool {
	return IsNetworkError(err) || IsTimeoutError(err)
}

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d errors occurred: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
