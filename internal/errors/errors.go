// Package errors provides structured error handling for netscope operations.
// It defines error codes, error types, and provides utilities for creating
// and classifying errors raised by the probing engines.
package errors

import (
	"context"
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
	CodeNotFound      ErrorCode = "NOT_FOUND"

	// Environment errors. These stop the engine that hit them.
	CodeUnavailableInterface  ErrorCode = "UNAVAILABLE_INTERFACE"
	CodeUnavailableCapability ErrorCode = "UNAVAILABLE_CAPABILITY"

	// Network and scanning errors.
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	CodeScanFailed         ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid      ErrorCode = "TARGET_INVALID"

	// File system errors.
	CodeFileNotFound ErrorCode = "FILE_NOT_FOUND"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
)

// ScanError represents an error that occurred during probing or service scanning.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DiscoveryError represents network discovery and network context errors.
type DiscoveryError struct {
	Code    ErrorCode
	Message string
	Network string
	Method  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("[%s] %s (network: %s)", e.Code, e.Message, e.Network)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// WrapDiscoveryError wraps an existing error as a discovery error.
func WrapDiscoveryError(code ErrorCode, message string, err error) *DiscoveryError {
	return &DiscoveryError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
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
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var discoveryErr *DiscoveryError
	if stderrors.As(err, &discoveryErr) {
		return discoveryErr.Code
	}
	var configErr *ConfigError
	if stderrors.As(err, &configErr) {
		return configErr.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeNetworkUnreachable, CodeRateLimited:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a condition that should stop the run.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeValidation,
		CodeUnavailableInterface, CodeUnavailableCapability:
		return true
	default:
		return false
	}
}

// FromContext labels a context error: an expired deadline becomes
// CodeTimeout, anything else CodeCanceled. It returns nil for nil.
func FromContext(err error) *ScanError {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapScanError(CodeTimeout, "time budget exhausted", err)
	default:
		return WrapScanError(CodeCanceled, "canceled", err)
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid probe targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrUnavailableCapability creates an error for a missing system probing tool.
func ErrUnavailableCapability(tool string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeUnavailableCapability, "System probing capability unavailable", tool, err)
}

// ErrNoUsableInterface creates an error for hosts without a usable network interface.
func ErrNoUsableInterface() *DiscoveryError {
	return &DiscoveryError{
		Code:    CodeUnavailableInterface,
		Message: "No usable network interface",
		Context: make(map[string]interface{}),
	}
}
