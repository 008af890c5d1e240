// Package errors provides structured error handling for netscan operations.
// Every error carries an ErrorCode so callers can separate session-aborting
// conditions from per-host and per-port outcomes that are only recorded.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Target and input errors.
	CodeTargetInvalid   ErrorCode = "TARGET_INVALID"
	CodePortInvalid     ErrorCode = "PORT_INVALID"
	CodeProtocolUnknown ErrorCode = "PROTOCOL_UNKNOWN"

	// Network and probing errors.
	CodeNoInterface     ErrorCode = "NO_INTERFACE"
	CodeNoProbeMode     ErrorCode = "NO_PROBE_MODE"
	CodeScanFailed      ErrorCode = "SCAN_FAILED"
	CodeDiscoveryFailed ErrorCode = "DISCOVERY_FAILED"
	CodeDetectionFailed ErrorCode = "DETECTION_FAILED"

	// Storage and artifact errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeFileWrite          ErrorCode = "FILE_WRITE"
	CodeDownloadFailed     ErrorCode = "DOWNLOAD_FAILED"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	e := NewScanError(code, message)
	e.Target = target
	return e
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	e := NewScanError(code, message)
	e.Cause = err
	return e
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	e := NewScanErrorWithTarget(code, message, target)
	e.Cause = err
	return e
}

// DiscoveryError represents ping sweep errors.
type DiscoveryError struct {
	Code    ErrorCode
	Message string
	Network string
	Mode    string
	Cause   error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Network != "" {
		msg = fmt.Sprintf("%s (network: %s)", msg, e.Network)
	}
	if e.Mode != "" {
		msg = fmt.Sprintf("%s (mode: %s)", msg, e.Mode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// NewDiscoveryError creates a new discovery error.
func NewDiscoveryError(code ErrorCode, message string) *DiscoveryError {
	return &DiscoveryError{Code: code, Message: message}
}

// WrapDiscoveryError wraps an existing error as a discovery error.
func WrapDiscoveryError(code ErrorCode, message string, err error) *DiscoveryError {
	return &DiscoveryError{Code: code, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field: %s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{Code: code, Message: message, Cause: err}
}

// StoreError represents persistence and artifact errors.
type StoreError struct {
	Code    ErrorCode
	Message string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation: %s)", msg, e.Operation)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// WrapStoreError wraps an existing error as a store error.
func WrapStoreError(code ErrorCode, message, operation string, err error) *StoreError {
	return &StoreError{Code: code, Message: message, Operation: operation, Cause: err}
}

// GetCode extracts the outermost error code found in the chain.
func GetCode(err error) ErrorCode {
	for err != nil {
		switch e := err.(type) {
		case *ScanError:
			return e.Code
		case *DiscoveryError:
			return e.Code
		case *ConfigError:
			return e.Code
		case *StoreError:
			return e.Code
		}
		err = stderrors.Unwrap(err)
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsFatal reports whether err must abort a session before any host is
// contacted. Everything else is recorded as data.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeTargetInvalid, CodePortInvalid, CodeProtocolUnknown, CodeValidation,
		CodeConfiguration, CodePermission, CodeNoInterface, CodeNoProbeMode:
		return true
	default:
		return false
	}
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrInvalidPort creates an error for a malformed port specification.
func ErrInvalidPort(spec string) *ScanError {
	return NewScanErrorWithTarget(CodePortInvalid, "Invalid port specification", spec)
}

// ErrUnknownProtocol creates an error for a protocol with no detector.
func ErrUnknownProtocol(name string) *ScanError {
	return NewScanErrorWithTarget(CodeProtocolUnknown, "Unknown protocol", name)
}

// ErrNoProbeMode is returned when neither ICMP nor TCP probing can be used.
func ErrNoProbeMode(err error) *DiscoveryError {
	return WrapDiscoveryError(CodeNoProbeMode, "No usable probe mode", err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
