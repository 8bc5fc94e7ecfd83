package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType categorizes a connectivity failure for retry decisions.
type ErrorType int

// Error type constants. Transient classes (rate limit, server,
// connection lost) are retried internally up to bounded limits;
// everything else surfaces to the caller immediately.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInvalidCredentials indicates a missing or malformed secret. Fatal.
	ErrorTypeInvalidCredentials
	// ErrorTypeClientRequest indicates a 4xx rejection other than 429/418.
	ErrorTypeClientRequest
	// ErrorTypeForbidden indicates a firewall block (403). Fatal, no retry.
	ErrorTypeForbidden
	// ErrorTypePartial indicates a partial success (409); the caller
	// receives the partial result alongside the error.
	ErrorTypePartial
	// ErrorTypeRateLimit indicates a 429 after retries were exhausted.
	ErrorTypeRateLimit
	// ErrorTypeIPBan indicates a 418 auto-ban; all sends are suppressed
	// until the ban window elapses.
	ErrorTypeIPBan
	// ErrorTypeConnectionLost indicates transport failure with requests in flight.
	ErrorTypeConnectionLost
	// ErrorTypeConnectionClosed indicates a deliberate close cancelled the request.
	ErrorTypeConnectionClosed
	// ErrorTypeTimeout indicates no response arrived within the deadline.
	ErrorTypeTimeout
	// ErrorTypeServer indicates a 5xx after bounded retries.
	ErrorTypeServer
	// ErrorTypeNetwork indicates the request never reached the venue.
	ErrorTypeNetwork
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"INVALID_CREDENTIALS",
		"CLIENT_REQUEST",
		"FORBIDDEN",
		"PARTIAL_SUCCESS",
		"RATE_LIMIT",
		"IP_BAN",
		"CONNECTION_LOST",
		"CONNECTION_CLOSED",
		"TIMEOUT",
		"SERVER_ERROR",
		"NETWORK",
	}[t]
}

// Sentinel errors for common terminal conditions.
var (
	// ErrNotConnected is returned when a send is attempted off a live connection.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrConnClosed is returned when the connection has been deliberately closed.
	ErrConnClosed = errors.New("connection is closed")
	// ErrNoCredentials is returned when a signed call has no credentials configured.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrBreakerOpen is returned while the failure breaker is holding traffic.
	ErrBreakerOpen = errors.New("breaker is open")
	// ErrDuplicateID is returned when a correlation id is registered twice.
	ErrDuplicateID = errors.New("request id already pending")
)

// APIError is a structured connectivity or venue error. It carries
// enough context (status, venue code, retry hint) for a caller to
// decide whether to retry at a higher level.
type APIError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP (or WS frame) status, when one exists.
	StatusCode int `json:"status_code,omitempty"`
	// Code is the venue-specific numeric error code, when one exists.
	Code int `json:"code,omitempty"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// RetryAfter is when sends may resume, for rate-limit and ban errors.
	RetryAfter time.Time `json:"retry_after,omitempty"`
	// Timestamp is when the error was observed.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d/%d): %s", e.Type, e.StatusCode, e.Code, e.Message)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Retryable reports whether a higher layer may reasonably resubmit.
func (e *APIError) Retryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeNetwork,
		ErrorTypeConnectionLost, ErrorTypeTimeout:
		return true
	}
	return false
}

// NewAPIError creates an APIError with the current timestamp.
func NewAPIError(t ErrorType, status int, message string) *APIError {
	return &APIError{
		Type:       t,
		StatusCode: status,
		Message:    message,
		Timestamp:  time.Now(),
	}
}

// WithCode attaches the venue error code and returns the error for chaining.
func (e *APIError) WithCode(code int) *APIError {
	e.Code = code
	return e
}

// WithRetryAfter attaches the earliest resume time and returns the error.
func (e *APIError) WithRetryAfter(ts time.Time) *APIError {
	e.RetryAfter = ts
	return e
}

// IsType reports whether err is an APIError of the given type.
func IsType(err error, t ErrorType) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == t
	}
	return false
}

// IsRateLimit reports whether the error is a rate-limit rejection.
func IsRateLimit(err error) bool { return IsType(err, ErrorTypeRateLimit) }

// IsBanned reports whether the error is an IP ban.
func IsBanned(err error) bool { return IsType(err, ErrorTypeIPBan) }

// IsConnectionLost reports whether the error is a transport loss.
func IsConnectionLost(err error) bool { return IsType(err, ErrorTypeConnectionLost) }

// IsTimeout reports whether the error is a request timeout.
func IsTimeout(err error) bool { return IsType(err, ErrorTypeTimeout) }
