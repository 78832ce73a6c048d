// Package errors provides the categorized error taxonomy used across the
// slave-tool orchestration core.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/tuning-platform/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryCredential represents credential lookup/decryption errors
	CategoryCredential ErrorCategory = "credential"
	// CategoryVendor represents slave-tool vendor errors
	CategoryVendor ErrorCategory = "vendor"
	// CategoryIntegrity represents content verification errors
	CategoryIntegrity ErrorCategory = "integrity"
	// CategoryIO represents local disk and staging errors
	CategoryIO ErrorCategory = "io"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError for API responses
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code string) bool {
	var ce *CategorizedError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Error codes owned by this core.
const (
	CodeCredentialNotFound   = "CREDENTIAL_NOT_FOUND"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeIntegrityCheckFailed = "INTEGRITY_CHECK_FAILED"
	CodeSizeMismatch         = "SIZE_MISMATCH"
	CodePollingTimedOut      = "POLLING_TIMED_OUT"
	CodeVendorRejected       = "VENDOR_REJECTED"
	CodeSlotOperationFailed  = "SLOT_OPERATION_FAILED"
	CodeIOFailure            = "IO_FAILURE"
	CodeReplayConflict       = "REPLAY_CONFLICT"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidParameter     = "INVALID_PARAMETER"
)

// NewCredentialNotFoundError signals that a tenant has no credentials for a
// vendor. Callers must treat this as "vendor not configured", not transient.
func NewCredentialNotFoundError(tenantID string, vendor types.Vendor) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCredential,
		StatusCode: http.StatusNotFound,
		Code:       CodeCredentialNotFound,
		Message:    fmt.Sprintf("no %s credentials configured for tenant %s", vendor, tenantID),
		Details: map[string]interface{}{
			"tenantId": tenantID,
			"vendor":   string(vendor),
		},
	}
}

// NewAuthenticationFailedError signals that vendor auth failed after the
// single transparent refresh attempt.
func NewAuthenticationFailedError(vendor types.Vendor, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryVendor,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeAuthenticationFailed,
		Message:    fmt.Sprintf("authentication with %s failed", vendor),
		Details:    map[string]interface{}{"vendor": string(vendor)},
		Cause:      cause,
	}
}

// NewIntegrityCheckFailedError signals a content hash mismatch on a
// synchronous vendor response.
func NewIntegrityCheckFailedError(vendor types.Vendor, expected, actual string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryIntegrity,
		StatusCode: http.StatusBadGateway,
		Code:       CodeIntegrityCheckFailed,
		Message:    fmt.Sprintf("%s response hash mismatch", vendor),
		Details: map[string]interface{}{
			"vendor":   string(vendor),
			"expected": expected,
			"actual":   actual,
		},
	}
}

// NewSizeMismatchError signals that a script capture was attempted with files
// of different byte lengths.
func NewSizeMismatchError(originalLen, modifiedLen int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeSizeMismatch,
		Message:    fmt.Sprintf("modified file length %d does not match original length %d", modifiedLen, originalLen),
		Details: map[string]interface{}{
			"originalLength": originalLen,
			"modifiedLength": modifiedLen,
		},
	}
}

// NewPollingTimedOutError signals that an async vendor operation did not
// complete within its time budget.
func NewPollingTimedOutError(operationID string, timeoutMs int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryVendor,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodePollingTimedOut,
		Message:    fmt.Sprintf("operation %s did not complete within %dms", operationID, timeoutMs),
		Details: map[string]interface{}{
			"operationId": operationID,
			"timeoutMs":   timeoutMs,
		},
	}
}

// NewVendorRejectedError signals a non-OK vendor response with a reason.
func NewVendorRejectedError(vendor types.Vendor, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryVendor,
		StatusCode: http.StatusBadGateway,
		Code:       CodeVendorRejected,
		Message:    fmt.Sprintf("%s rejected the request: %s", vendor, reason),
		Details: map[string]interface{}{
			"vendor": string(vendor),
			"reason": reason,
		},
	}
}

// NewSlotOperationFailedError signals a file-slot close/reopen failure.
// Slot-close failures are logged and swallowed by callers; reopen failures
// abort the encode.
func NewSlotOperationFailedError(operation, slotID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryVendor,
		StatusCode: http.StatusBadGateway,
		Code:       CodeSlotOperationFailed,
		Message:    fmt.Sprintf("file slot %s %s failed", slotID, operation),
		Details: map[string]interface{}{
			"operation":  operation,
			"fileSlotId": slotID,
		},
		Cause: cause,
	}
}

// NewIOFailureError signals an unrecoverable local disk or staging failure.
func NewIOFailureError(path string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryIO,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeIOFailure,
		Message:    fmt.Sprintf("file operation failed: %s", path),
		Details:    map[string]interface{}{"path": path},
		Cause:      cause,
	}
}

// NewReplayConflictError signals that a diff record's captured original byte
// does not match the base file it is being replayed onto.
func NewReplayConflictError(position int, expected, found string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeReplayConflict,
		Message:    fmt.Sprintf("base file diverges from capture-time original at position %d", position),
		Details: map[string]interface{}{
			"position": position,
			"expected": expected,
			"found":    found,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewDatabaseError wraps a database failure
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database operation failed: %s", operation),
		Details:    map[string]interface{}{"operation": operation},
		Cause:      cause,
	}
}
