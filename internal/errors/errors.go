// Package errors provides structured error types for bucketdb.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryIndex      ErrorCategory = "INDEX"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryReindex    ErrorCategory = "REINDEX"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidBucketName = "INVALID_BUCKET_NAME"
	CodeInvalidSchema     = "INVALID_SCHEMA"

	// Storage codes
	CodeNotFound         = "NOT_FOUND"
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeStorageFailure   = "STORAGE_FAILURE"
	CodeBusy             = "BUSY"

	// Index codes
	CodeIndexWriteFailed = "INDEX_WRITE_FAILED"

	// Query codes
	CodeUnsupportedCondition = "UNSUPPORTED_CONDITION"

	// Reindex codes
	CodeCancelled = "CANCELLED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinel errors for errors.Is comparisons. Matching is by category and code.
var (
	ErrNotFound         = New(ErrCategoryStorage, CodeNotFound, "object not found")
	ErrMalformedPayload = New(ErrCategoryStorage, CodeMalformedPayload, "malformed payload")
	ErrIndexWrite       = New(ErrCategoryIndex, CodeIndexWriteFailed, "index write failed")
	ErrCancelled        = New(ErrCategoryReindex, CodeCancelled, "reindex cancelled")
)

// BucketError is the structured error type used throughout the system.
type BucketError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *BucketError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BucketError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BucketError) Is(target error) bool {
	var t *BucketError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BucketError.
func New(category ErrorCategory, code, message string) *BucketError {
	return &BucketError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new BucketError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BucketError {
	return &BucketError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *BucketError) WithDetails(details map[string]interface{}) *BucketError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var be *BucketError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BucketError.
func GetCategory(err error) ErrorCategory {
	var be *BucketError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BucketError.
func GetCode(err error) string {
	var be *BucketError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeBusy:
		return true
	default:
		return false
	}
}

// MapSQLiteError classifies a driver error. Constraint violations become
// INDEX_WRITE_FAILED when raised while writing index rows (indexWrite),
// busy/locked become retryable BUSY, sql.ErrNoRows becomes NOT_FOUND.
// Anything else is returned unchanged.
func MapSQLiteError(err error, indexWrite bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Wrap(ErrCategoryStorage, CodeNotFound, "object not found", err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			if indexWrite {
				return Wrap(ErrCategoryIndex, CodeIndexWriteFailed, "index row rejected", err).
					WithDetails(map[string]interface{}{"extended_code": int(sqliteErr.ExtendedCode)})
			}
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return Wrap(ErrCategoryStorage, CodeBusy, "database busy", err)
		}
	}
	return err
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *BucketError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *BucketError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewNotFoundError(bucket, key string) *BucketError {
	return New(ErrCategoryStorage, CodeNotFound, fmt.Sprintf("object %s/%s not found", bucket, key)).
		WithDetails(map[string]interface{}{"bucket": bucket, "key": key})
}

func NewQueryError(code, message string) *BucketError {
	return New(ErrCategoryQuery, code, message)
}

func NewReindexError(code, message string, cause error) *BucketError {
	return Wrap(ErrCategoryReindex, code, message, cause)
}

func NewInternalError(message string, cause error) *BucketError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
