package errors

import (
	"fmt"
	"net/http"

	"github.com/eventcrew/eventcrew-backend/logger"
)

type ErrorType string

const (
	ValidationError ErrorType = "VALIDATION_ERROR"
	NotFoundError   ErrorType = "NOT_FOUND"
	AuthError       ErrorType = "AUTHENTICATION_ERROR"
	DatabaseError   ErrorType = "DATABASE_ERROR"
	TransportError  ErrorType = "TRANSPORT_ERROR"
	ServerError     ErrorType = "SERVER_ERROR"
	ForbiddenError  ErrorType = "FORBIDDEN"
	ConflictError   ErrorType = "CONFLICT"
	SessionError    ErrorType = "SESSION_NOT_OPEN"
	RateLimitError  ErrorType = "RATE_LIMIT_EXCEEDED"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the raw cause to errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Raw
}

// GetHTTPStatus returns the status code to answer with.
func (e *AppError) GetHTTPStatus() int {
	if e.HTTPStatus == 0 {
		return getHTTPStatus(e.Type)
	}
	return e.HTTPStatus
}

// New creates a new AppError
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: getHTTPStatus(errType),
	}
}

// Wrap wraps a raw error with AppError context
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: getHTTPStatus(errType),
		Raw:        err,
	}
}

// Helper functions for common errors
func NotFound(entity string, id interface{}) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", entity),
		Detail:     fmt.Sprintf("ID: %v", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func ValidationFailed(message string, details string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusBadRequest,
	}
}

func AuthenticationFailed(message string) *AppError {
	return &AppError{
		Type:       AuthError,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

func NewDatabaseError(err error) *AppError {
	// Log original error but return sanitized message
	logger.GetLogger().Errorw("Database error", "error", err)
	return &AppError{
		Type:       DatabaseError,
		Message:    "Database operation failed",
		Detail:     "Please try again later",
		HTTPStatus: http.StatusInternalServerError,
		Raw:        err,
	}
}

// NewTransportError reports a failed round-trip to the persistence or realtime backend.
func NewTransportError(operation string, err error) *AppError {
	return &AppError{
		Type:       TransportError,
		Message:    fmt.Sprintf("%s failed", operation),
		Detail:     errDetail(err),
		HTTPStatus: http.StatusBadGateway,
		Raw:        err,
	}
}

func InternalServerError(message string) *AppError {
	return &AppError{
		Type:       ServerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

func Forbidden(message string, details string) *AppError {
	return &AppError{
		Type:       ForbiddenError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusForbidden,
	}
}

func NewConflictError(message string, detail string) *AppError {
	return &AppError{
		Type:       ConflictError,
		Message:    message,
		Detail:     detail,
		HTTPStatus: http.StatusConflict,
	}
}

// SessionNotOpen is returned when a recipient has no open notification session.
func SessionNotOpen(recipientID string) *AppError {
	return &AppError{
		Type:       SessionError,
		Message:    "No open notification session",
		Detail:     fmt.Sprintf("Recipient: %s", recipientID),
		HTTPStatus: http.StatusConflict,
	}
}

// RateLimitExceeded is returned when a caller exceeded a request quota.
func RateLimitExceeded(message string, retryAfterSeconds int) *AppError {
	return &AppError{
		Type:       RateLimitError,
		Message:    message,
		Detail:     fmt.Sprintf("Retry after %d seconds", retryAfterSeconds),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

func Unauthorized(code, message string) error {
	return NewError(AuthError, code, message, http.StatusUnauthorized)
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case AuthError:
		return http.StatusUnauthorized
	case DatabaseError:
		return http.StatusInternalServerError
	case TransportError:
		return http.StatusBadGateway
	case ForbiddenError:
		return http.StatusForbidden
	case ConflictError, SessionError:
		return http.StatusConflict
	case RateLimitError:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func NewError(errType ErrorType, code string, message string, status int) error {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
