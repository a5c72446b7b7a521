// Package errors defines the coded application errors shared by the
// transaction executor, the domain services and the HTTP layer.
package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for coordination operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeNotFound        ErrorCode = 1001
	ErrCodeAlreadyExists   ErrorCode = 1002
	ErrCodeRateLimited     ErrorCode = 1003
	ErrCodeInProgress      ErrorCode = 1004

	// Business rule violations, deterministic and never retried
	ErrCodeAlreadyJoined ErrorCode = 1100
	ErrCodeSessionFull   ErrorCode = 1101
	ErrCodeNotAJoiner    ErrorCode = 1102
	ErrCodeInvalidScore  ErrorCode = 1103

	// Server errors (5xx equivalent)
	ErrCodeInternal           ErrorCode = 2000
	ErrCodeUnavailable        ErrorCode = 2001
	ErrCodeMaxRetriesExceeded ErrorCode = 2002
	ErrCodeCorruptedData      ErrorCode = 2003
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                 "OK",
	ErrCodeInvalidArgument:    "INVALID_REQUEST",
	ErrCodeNotFound:           "NOT_FOUND",
	ErrCodeAlreadyExists:      "ALREADY_EXISTS",
	ErrCodeRateLimited:        "RATE_LIMITED",
	ErrCodeInProgress:         "REQUEST_IN_PROGRESS",
	ErrCodeAlreadyJoined:      "ALREADY_JOINED",
	ErrCodeSessionFull:        "SESSION_FULL",
	ErrCodeNotAJoiner:         "NOT_A_JOINER",
	ErrCodeInvalidScore:       "INVALID_SCORE",
	ErrCodeInternal:           "INTERNAL_ERROR",
	ErrCodeUnavailable:        "SERVICE_UNAVAILABLE",
	ErrCodeMaxRetriesExceeded: "MAX_RETRIES_EXCEEDED",
	ErrCodeCorruptedData:      "CORRUPTED_DATA",
}

// String returns the wire name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// AppError represents a structured error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so the sentinels below
// work with errors.Is regardless of message or details.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// GRPCStatus lets status.FromError classify an AppError
func (e *AppError) GRPCStatus() *status.Status {
	return e.ToGRPCStatus()
}

// ToGRPCStatus converts AppError to gRPC status
func (e *AppError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *AppError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeInvalidScore:
		return codes.InvalidArgument
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeAlreadyExists, ErrCodeAlreadyJoined:
		return codes.AlreadyExists
	case ErrCodeSessionFull, ErrCodeNotAJoiner:
		return codes.FailedPrecondition
	case ErrCodeMaxRetriesExceeded, ErrCodeInProgress:
		return codes.Aborted
	case ErrCodeRateLimited:
		return codes.ResourceExhausted
	case ErrCodeUnavailable:
		return codes.Unavailable
	case ErrCodeCorruptedData:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// New creates a new AppError
func New(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound           = New(ErrCodeNotFound, "not found", nil)
	ErrAlreadyExists      = New(ErrCodeAlreadyExists, "already exists", nil)
	ErrAlreadyJoined      = New(ErrCodeAlreadyJoined, "user already joined session", nil)
	ErrSessionFull        = New(ErrCodeSessionFull, "session is full", nil)
	ErrNotAJoiner         = New(ErrCodeNotAJoiner, "user has not joined session", nil)
	ErrInvalidScore       = New(ErrCodeInvalidScore, "invalid score", nil)
	ErrMaxRetriesExceeded = New(ErrCodeMaxRetriesExceeded, "transaction aborted", nil)
)

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *AppError {
	return New(ErrCodeInvalidArgument, message, cause)
}

func NotFound(collection, id string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", singular(collection), id), nil).
		WithDetail("collection", collection).
		WithDetail("id", id)
}

func AlreadyExists(collection, id string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists: %s", singular(collection), id), nil).
		WithDetail("collection", collection).
		WithDetail("id", id)
}

func AlreadyJoined(sessionID, userID string) *AppError {
	return New(ErrCodeAlreadyJoined, fmt.Sprintf("user %s already joined session %s", userID, sessionID), nil).
		WithDetail("session_id", sessionID).
		WithDetail("user_id", userID)
}

func SessionFull(sessionID string, capacity int) *AppError {
	return New(ErrCodeSessionFull, fmt.Sprintf("session %s is full (capacity %d)", sessionID, capacity), nil).
		WithDetail("session_id", sessionID).
		WithDetail("capacity", capacity)
}

func NotAJoiner(sessionID, userID string) *AppError {
	return New(ErrCodeNotAJoiner, fmt.Sprintf("user %s has not joined session %s", userID, sessionID), nil).
		WithDetail("session_id", sessionID).
		WithDetail("user_id", userID)
}

func InvalidScore(score int) *AppError {
	return New(ErrCodeInvalidScore, fmt.Sprintf("score %d is outside 1..5", score), nil).
		WithDetail("score", score)
}

func MaxRetriesExceeded(collection, id string, attempts int) *AppError {
	return New(ErrCodeMaxRetriesExceeded,
		fmt.Sprintf("transaction on %s/%s aborted after %d conflicting attempts", collection, id, attempts), nil).
		WithDetail("collection", collection).
		WithDetail("id", id).
		WithDetail("attempts", attempts)
}

func RateLimited(client string) *AppError {
	return New(ErrCodeRateLimited, "rate limit exceeded", nil).WithDetail("client", client)
}

func RequestInProgress(operation string) *AppError {
	return New(ErrCodeInProgress, "a request with this Idempotency-Key is still in progress", nil).
		WithDetail("operation", operation)
}

func InternalError(message string, cause error) *AppError {
	return New(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *AppError {
	return New(ErrCodeUnavailable, message, cause)
}

func CorruptedData(message string, cause error) *AppError {
	return New(ErrCodeCorruptedData, message, cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrCodeInternal
}

// IsBusinessRule reports whether err is a deterministic business-rule violation
func IsBusinessRule(err error) bool {
	switch GetCode(err) {
	case ErrCodeAlreadyJoined, ErrCodeSessionFull, ErrCodeNotAJoiner, ErrCodeInvalidScore:
		return true
	default:
		return false
	}
}

func singular(collection string) string {
	switch collection {
	case "sessions":
		return "session"
	case "locations":
		return "location"
	default:
		return "document"
	}
}

// As is errors.As, re-exported so callers importing this package as errors
// do not need the standard library under another name.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is, re-exported for the same reason as As.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
