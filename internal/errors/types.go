package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// ErrorType represents the classification of errors for retry decisions.
//
// The pipeline itself never retries; the classification feeds user-facing
// wording ("temporary network problem" vs "rejected by the endpoint") and
// lets embedding callers build their own retry policy.
type ErrorType int

const (
	// ErrorTypeTransient - safe to retry from the caller's side
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent - retrying will not help
	ErrorTypePermanent
)

// TransientError represents an error that a caller may retry.
type TransientError struct {
	Err        error
	RetryAfter int    // Seconds to wait before retry (from Retry-After header)
	StatusCode int    // HTTP status code if applicable
	Message    string // User-facing message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError represents an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	Message    string // User-facing message
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// httpStatusCarrier is implemented by errors that know their HTTP status,
// such as the upload client's error type.
type httpStatusCarrier interface {
	HTTPStatus() int
}

// IsTransient checks whether a caller-side retry could plausibly succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isTransientHTTPStatus(statusCode)
	}

	if isSyscallError(err) {
		return true
	}

	return false
}

// IsPermanent checks whether an error is non-retry-able.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return false
	}

	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isPermanentHTTPStatus(statusCode)
	}

	errStr := strings.ToLower(err.Error())
	permanentPatterns := []string{
		"not found",
		"permission denied",
		"invalid",
		"unauthorized",
		"forbidden",
		"bad request",
		"unsupported",
		"corrupt",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// GetErrorType classifies an error.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	// Default to permanent so callers never loop on an unknown failure.
	return ErrorTypePermanent
}

// FormatForUser converts technical errors into short actionable messages
// suitable for the notification surface.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.Message != "" {
		return transientErr.Message
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) && permanentErr.Message != "" {
		return permanentErr.Message
	}

	errStr := err.Error()
	lowerErr := strings.ToLower(errStr)

	if strings.Contains(lowerErr, "connection refused") {
		return "Upload endpoint is not reachable. Check that the server is running and the endpoint URL is correct."
	}

	if strings.Contains(lowerErr, "rate limit") || strings.Contains(lowerErr, "429") {
		return "Upload endpoint rate limit reached. Wait a moment and try again."
	}

	if strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded") {
		return "Upload timed out. The network may be slow; try again."
	}

	if strings.Contains(lowerErr, "network") || strings.Contains(lowerErr, "dns") {
		return "Network connectivity issue. Check your connection and try again."
	}

	if strings.Contains(lowerErr, "unauthorized") || strings.Contains(lowerErr, "401") {
		return "Authentication failed. Check the configured auth token."
	}

	if strings.Contains(lowerErr, "forbidden") || strings.Contains(lowerErr, "403") {
		return "Permission denied by the upload endpoint."
	}

	if strings.Contains(lowerErr, "too large") || strings.Contains(lowerErr, "413") {
		return "The endpoint rejected the file as too large."
	}

	if strings.Contains(lowerErr, "500") || strings.Contains(lowerErr, "502") ||
		strings.Contains(lowerErr, "503") || strings.Contains(lowerErr, "internal server error") {
		return "Upload endpoint error. The service is temporarily unavailable; try again later."
	}

	return errStr
}

// Helper functions

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	}
	return false
}

func isPermanentHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest, // 400
		http.StatusUnauthorized,          // 401
		http.StatusForbidden,             // 403
		http.StatusNotFound,              // 404
		http.StatusMethodNotAllowed,      // 405
		http.StatusConflict,              // 409
		http.StatusGone,                  // 410
		http.StatusRequestEntityTooLarge, // 413
		http.StatusUnprocessableEntity:   // 422
		return true
	}
	return false
}

var statusCodePattern = regexp.MustCompile(`\b(4\d\d|5\d\d)\b`)

func extractHTTPStatusCode(err error) int {
	var carrier httpStatusCarrier
	if errors.As(err, &carrier) {
		if code := carrier.HTTPStatus(); code > 0 {
			return code
		}
	}

	// Fall back to scraping a status code out of the message, for errors
	// produced by collaborators outside this module.
	if match := statusCodePattern.FindString(err.Error()); match != "" {
		code, convErr := strconv.Atoi(match)
		if convErr == nil {
			return code
		}
	}
	return 0
}

// Helper constructors

// NewTransientError creates a new transient error with a user-facing message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{
		Err:     err,
		Message: message,
	}
}

// NewPermanentError creates a new permanent error with a user-facing message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{
		Err:     err,
		Message: message,
	}
}
