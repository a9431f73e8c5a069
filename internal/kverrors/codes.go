package kverrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for replication operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeKeyNotFound     ErrorCode = 1001
	ErrCodeKeyTooLarge     ErrorCode = 1002
	ErrCodeValueTooLarge   ErrorCode = 1003

	// Server errors (5xx equivalent)
	ErrCodeInternal    ErrorCode = 2000
	ErrCodeUnavailable ErrorCode = 2001
	ErrCodeTimeout     ErrorCode = 2002
	ErrCodeStorage     ErrorCode = 2003
)

// String returns the code's wire name, used in responses and metric labels.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeKeyNotFound:
		return "key_not_found"
	case ErrCodeKeyTooLarge:
		return "key_too_large"
	case ErrCodeValueTooLarge:
		return "value_too_large"
	case ErrCodeUnavailable:
		return "unavailable"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeStorage:
		return "storage"
	default:
		return "internal"
	}
}

// KVError represents a structured error with code and context
type KVError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *KVError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *KVError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps internal error codes to HTTP status codes
func (e *KVError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeKeyTooLarge, ErrCodeValueTooLarge:
		return http.StatusBadRequest
	case ErrCodeKeyNotFound:
		return http.StatusNotFound
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new KVError
func New(code ErrorCode, message string, cause error) *KVError {
	return &KVError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *KVError) WithDetail(key string, value interface{}) *KVError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *KVError {
	return New(ErrCodeInvalidArgument, message, cause)
}

func KeyNotFound(key string) *KVError {
	return New(ErrCodeKeyNotFound, fmt.Sprintf("key not found: %s", key), nil).
		WithDetail("key", key)
}

// KeyTooLarge rejects a key exceeding the configured limit.
func KeyTooLarge(size, limit int) *KVError {
	return New(ErrCodeKeyTooLarge, fmt.Sprintf("key size %d exceeds limit %d", size, limit), nil).
		WithDetail("size", size).
		WithDetail("limit", limit)
}

// ValueTooLarge rejects a value exceeding the configured limit.
func ValueTooLarge(size, limit int) *KVError {
	return New(ErrCodeValueTooLarge, fmt.Sprintf("value size %d exceeds limit %d", size, limit), nil).
		WithDetail("size", size).
		WithDetail("limit", limit)
}

// Unavailable reports that too few healthy replicas answered to form a quorum.
func Unavailable(op string, acks, required int) *KVError {
	return New(ErrCodeUnavailable, fmt.Sprintf("%s quorum not reached: %d/%d", op, acks, required), nil).
		WithDetail("operation", op).
		WithDetail("acks", acks).
		WithDetail("required", required)
}

// Timeout reports that the designated and fallback replicas all timed out.
func Timeout(op string, cause error) *KVError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out waiting for replicas", op), cause).
		WithDetail("operation", op)
}

// StorageFailed reports a local persistence failure on one replica.
func StorageFailed(message string, cause error) *KVError {
	return New(ErrCodeStorage, message, cause)
}

func InternalError(message string, cause error) *KVError {
	return New(ErrCodeInternal, message, cause)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var kv *KVError
	if errors.As(err, &kv) {
		return kv.Code
	}
	return ErrCodeInternal
}

// IsUnavailable reports whether err is a quorum availability failure.
func IsUnavailable(err error) bool {
	return GetCode(err) == ErrCodeUnavailable
}

// IsTimeout reports whether err is a replica timeout failure.
func IsTimeout(err error) bool {
	return GetCode(err) == ErrCodeTimeout
}

// IsNotFound reports whether err is a missing-key failure.
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeKeyNotFound
}
