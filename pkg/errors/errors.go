// Package errors provides custom error types for the dyad sync engine.
// These errors enable programmatic error checking and carry enough
// context to decide whether a failure is fatal to a run, fatal to a
// single record, or retryable.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is reports whether any error in err's chain matches target.
// It's an alias for the standard library errors.Is.
var Is = errors.Is

// As finds the first error in err's chain that matches target.
// It's an alias for the standard library errors.As.
var As = errors.As

// Common sentinel errors for the sync engine
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that an account API rate limit has been exceeded
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")

	// ErrAccountUnavailable indicates that an account API is temporarily unavailable
	ErrAccountUnavailable = errors.New("account unavailable")

	// ErrAuthorization indicates expired or invalid credentials at an account
	ErrAuthorization = errors.New("authorization failed")

	// ErrStateCorrupted indicates the sync state store is unusable
	ErrStateCorrupted = errors.New("state store corrupted")

	// ErrStateLocked indicates another sync run holds the state store lock
	ErrStateLocked = errors.New("state store locked by another run")

	// ErrClassifierUnavailable indicates the assisted-matching capability is not configured
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// APIError represents an error from an account collaborator API
type APIError struct {
	Account    string
	StatusCode int
	Message    string
	Endpoint   string
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Account, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s: %s", e.Account, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support. Rate-limit and server-side status
// codes map onto the transient sentinels so callers can retry without
// inspecting status codes directly.
func (e *APIError) Is(target error) bool {
	if e.StatusCode == 404 {
		return target == ErrNotFound
	}
	if e.StatusCode == 429 {
		return target == ErrRateLimited
	}
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return target == ErrAuthorization
	}
	if e.StatusCode >= 500 {
		return target == ErrAccountUnavailable
	}
	return false
}

// NewAPIError creates a new APIError
func NewAPIError(account string, statusCode int, message string) *APIError {
	return &APIError{
		Account:    account,
		StatusCode: statusCode,
		Message:    message,
	}
}

// AuthenticationError represents an authentication/authorization error
// at an account collaborator. Fatal to the run.
type AuthenticationError struct {
	Account string
	Method  string // "oauth", "api_key", etc.
	Message string
	Err     error
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("authentication error for %s (%s): %s", e.Account, e.Method, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthorization
}

// MalformedRecordError indicates a record whose fields could not be
// parsed into the sync model. The record is skipped, never fed into
// matching or fingerprinting.
type MalformedRecordError struct {
	Account string
	ID      string
	Field   string
	Err     error
}

// Error implements the error interface
func (e *MalformedRecordError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed record %s in %s: bad field %s", e.ID, e.Account, e.Field)
	}
	return fmt.Sprintf("malformed record %s in %s", e.ID, e.Account)
}

// Unwrap implements errors.Unwrap
func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrInvalidInput
}

// StateError represents a failure in the durable sync state store.
type StateError struct {
	Operation string // "open", "migrate", "lock", "commit", "query"
	Message   string
	Err       error
}

// Error implements the error interface
func (e *StateError) Error() string {
	return fmt.Sprintf("state store error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *StateError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *StateError) Is(target error) bool {
	if e.Operation == "lock" {
		return target == ErrStateLocked
	}
	return target == ErrStateCorrupted
}

// NewStateError creates a new StateError
func NewStateError(operation, message string, err error) *StateError {
	return &StateError{Operation: operation, Message: message, Err: err}
}

// SyncError represents an error affecting specific records during a sync run
type SyncError struct {
	Account string
	Records []string
	Err     error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if len(e.Records) > 0 {
		return fmt.Sprintf("sync error for account %s (affected records: %v): %v", e.Account, e.Records, e.Err)
	}
	return fmt.Sprintf("sync error for account %s: %v", e.Account, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError creates a new SyncError
func NewSyncError(account string, records []string, err error) *SyncError {
	return &SyncError{Account: account, Records: records, Err: err}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// IOError represents an error during I/O operations
type IOError struct {
	Operation string // "read", "write", "create", "delete", "open", "close"
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("IO error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError
func NewIOError(operation, path string, err error) *IOError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &IOError{Operation: operation, Path: path, Message: message, Err: err}
}

// ResourceError represents an error during resource operations
type ResourceError struct {
	Operation string // "create", "update", "delete", "fetch"
	Resource  string // "contact", "group", "mapping", "cursor"
	ID        string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ResourceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s %s %s: %s", e.Operation, e.Resource, e.ID, e.Message)
	}
	return fmt.Sprintf("failed to %s %s: %s", e.Operation, e.Resource, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// NewResourceError creates a new ResourceError
func NewResourceError(operation, resource, id string, err error) *ResourceError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ResourceError{
		Operation: operation,
		Resource:  resource,
		ID:        id,
		Message:   message,
		Err:       err,
	}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimited checks if an error is a rate limit error
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// IsAuthorization checks if an error is an authorization failure.
// Authorization failures are fatal to a run.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrAuthorization)
}

// IsTransient reports whether an error is worth retrying with backoff:
// rate limits, timeouts, and temporary account unavailability.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrAccountUnavailable)
}

// IsStateLocked checks if an error indicates lock contention on the state store
func IsStateLocked(err error) bool {
	return errors.Is(err, ErrStateLocked)
}

// Wrap helpers

// WrapIO wraps an error as an IOError, returning nil for nil errors
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewIOError(operation, path, err)
}

// WrapResource wraps an error as a ResourceError, returning nil for nil errors
func WrapResource(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return NewResourceError(operation, resource, id, err)
}

// WrapAPI wraps an error as an APIError, returning nil for nil errors
func WrapAPI(account string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	return &APIError{
		Account:    account,
		StatusCode: statusCode,
		Message:    err.Error(),
		Err:        err,
	}
}
