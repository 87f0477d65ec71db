// Package errors provides the structured error type used across manualbox,
// with error codes, categories, and operational context.
package errors

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for manualbox operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Container errors
	ErrCodeInvalidKey         ErrorCode = "INVALID_KEY"
	ErrCodeMalformedContainer ErrorCode = "MALFORMED_CONTAINER"
	ErrCodeContainerLocked    ErrorCode = "CONTAINER_LOCKED"
	ErrCodeContainerRead      ErrorCode = "CONTAINER_READ"
	ErrCodeContainerWrite     ErrorCode = "CONTAINER_WRITE"

	// Filesystem errors
	ErrCodeFileNotFound  ErrorCode = "FILE_NOT_FOUND"
	ErrCodeNoAttribute   ErrorCode = "NO_ATTRIBUTE"
	ErrCodePathInvalid   ErrorCode = "PATH_INVALID"
	ErrCodeFileTooLarge  ErrorCode = "FILE_TOO_LARGE"
	ErrCodeMountFailed   ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed ErrorCode = "UNMOUNT_FAILED"

	// Authorization errors
	ErrCodeAccessDenied    ErrorCode = "ACCESS_DENIED"
	ErrCodeProviderFailure ErrorCode = "PROVIDER_FAILURE"

	// State errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryContainer     ErrorCategory = "container"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryAuth          ErrorCategory = "auth"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeInvalidConfig:      CategoryConfiguration,
	ErrCodeConfigValidation:   CategoryConfiguration,
	ErrCodeConfigLoad:         CategoryConfiguration,
	ErrCodeConfigSave:         CategoryConfiguration,
	ErrCodeInvalidKey:         CategoryContainer,
	ErrCodeMalformedContainer: CategoryContainer,
	ErrCodeContainerLocked:    CategoryContainer,
	ErrCodeContainerRead:      CategoryContainer,
	ErrCodeContainerWrite:     CategoryContainer,
	ErrCodeFileNotFound:       CategoryFilesystem,
	ErrCodeNoAttribute:        CategoryFilesystem,
	ErrCodePathInvalid:        CategoryFilesystem,
	ErrCodeFileTooLarge:       CategoryFilesystem,
	ErrCodeMountFailed:        CategoryFilesystem,
	ErrCodeUnmountFailed:      CategoryFilesystem,
	ErrCodeAccessDenied:       CategoryAuth,
	ErrCodeProviderFailure:    CategoryAuth,
	ErrCodeAlreadyStarted:     CategoryState,
	ErrCodeNotInitialized:     CategoryState,
}

// Sentinels for errors.Is comparisons. Matching is by code, so callers
// should never mutate these.
var (
	ErrNotFound           = &ManualBoxError{Code: ErrCodeFileNotFound, Category: CategoryFilesystem, Message: "no such file or directory"}
	ErrNoAttribute        = &ManualBoxError{Code: ErrCodeNoAttribute, Category: CategoryFilesystem, Message: "no such attribute"}
	ErrAccessDenied       = &ManualBoxError{Code: ErrCodeAccessDenied, Category: CategoryAuth, Message: "access denied"}
	ErrProviderFailure    = &ManualBoxError{Code: ErrCodeProviderFailure, Category: CategoryAuth, Message: "decision provider failed"}
	ErrInvalidKey         = &ManualBoxError{Code: ErrCodeInvalidKey, Category: CategoryContainer, Message: "wrong key"}
	ErrMalformedContainer = &ManualBoxError{Code: ErrCodeMalformedContainer, Category: CategoryContainer, Message: "malformed container"}
	ErrContainerLocked    = &ManualBoxError{Code: ErrCodeContainerLocked, Category: CategoryContainer, Message: "container is in use"}
	ErrInvalidConfig      = &ManualBoxError{Code: ErrCodeInvalidConfig, Category: CategoryConfiguration, Message: "invalid configuration"}
)

// ManualBoxError represents a structured error with context and metadata.
type ManualBoxError struct {
	Code     ErrorCode
	Category ErrorCategory
	Message  string
	Details  map[string]interface{}

	Context   map[string]string
	Cause     error
	Timestamp time.Time

	Component string
	Operation string

	UserFacing bool
}

// Error implements the error interface.
func (e *ManualBoxError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *ManualBoxError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *ManualBoxError) Is(target error) bool {
	if other, ok := target.(*ManualBoxError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *ManualBoxError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	for _, k := range sortedKeys(e.Context) {
		parts = append(parts, fmt.Sprintf("%s=%q", k, e.Context[k]))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("ManualBoxError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new manualbox error with default values.
func NewError(code ErrorCode, message string) *ManualBoxError {
	return &ManualBoxError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Wrap creates a new error with the given code whose cause is err.
func Wrap(err error, code ErrorCode, message string) *ManualBoxError {
	return NewError(code, message).WithCause(err)
}

// GetCategory returns the category of an error code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad,
		ErrCodeInvalidKey, ErrCodeMalformedContainer, ErrCodeContainerLocked,
		ErrCodeFileNotFound, ErrCodePathInvalid, ErrCodeMountFailed,
		ErrCodeAccessDenied:
		return true
	}
	return false
}

// CodeOf returns the code of the first ManualBoxError in err's chain.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if e, ok := err.(*ManualBoxError); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}

// WithContext adds contextual information to an error
func (e *ManualBoxError) WithContext(key, value string) *ManualBoxError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *ManualBoxError) WithDetail(key string, value interface{}) *ManualBoxError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *ManualBoxError) WithComponent(component string) *ManualBoxError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *ManualBoxError) WithOperation(operation string) *ManualBoxError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *ManualBoxError) WithCause(cause error) *ManualBoxError {
	e.Cause = cause
	return e
}

// GetRecommendation returns a user-friendly recommendation for fixing the error
func (e *ManualBoxError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeInvalidKey: "The key does not decrypt this container. " +
			"Use the key printed when the container was first created.",
		ErrCodeMalformedContainer: "The container decrypted but could not be decoded. " +
			"Restore it from a backup; manualbox will not overwrite it.",
		ErrCodeContainerLocked: "Another manualbox process has this container mounted. " +
			"Unmount it there first.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeMountFailed: "Failed to mount filesystem. " +
			"Check mount point permissions and ensure FUSE is installed.",
		ErrCodeAccessDenied: "The read was not confirmed. " +
			"Retry and confirm the prompt to allow it.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details."
}

// UserFacingMessage returns a simplified message suitable for end users
func (e *ManualBoxError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred."
	}

	messages := map[ErrorCode]string{
		ErrCodeInvalidKey:         "Wrong key",
		ErrCodeMalformedContainer: "Container is corrupted",
		ErrCodeContainerLocked:    "Container is already mounted",
		ErrCodeFileNotFound:       "File not found",
		ErrCodeAccessDenied:       "Access denied",
		ErrCodeInvalidConfig:      "Invalid configuration",
		ErrCodeMountFailed:        "Failed to mount filesystem",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}

	return e.Message
}

// DetailedDiagnostic returns a comprehensive diagnostic message
func (e *ManualBoxError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.UserFacingMessage()))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}

	if len(e.Context) > 0 {
		parts = append(parts, "\nContext:")
		for _, k := range sortedKeys(e.Context) {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, e.Context[k]))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
