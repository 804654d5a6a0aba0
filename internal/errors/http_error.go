package errors

import (
	stderrors "errors"
	"net/http"
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Code    int    `json:"-"`
	Kind    Kind   `json:"error"`
	Message string `json:"message"`
	Payload string `json:"payload,omitempty"`
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTPError with the given code and message.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{
		Code:    code,
		Kind:    kindForStatus(code),
		Message: message,
	}
}

func kindForStatus(code int) Kind {
	switch code {
	case http.StatusBadRequest:
		return InvalidRequest
	case http.StatusUnauthorized:
		return Unauthorized
	case http.StatusNotFound:
		return NotFound
	default:
		return Internal
	}
}

// Helper for common errors
var (
	ErrUnauthorized = func(msg string) *HTTPError { return NewHTTPError(http.StatusUnauthorized, msg) }
	ErrBadRequest   = func(msg string) *HTTPError { return NewHTTPError(http.StatusBadRequest, msg) }
	ErrNotFound     = func(msg string) *HTTPError { return NewHTTPError(http.StatusNotFound, msg) }
)

// ToHTTP maps a pipeline failure onto the HTTP status the API reports.
func ToHTTP(err error) *HTTPError {
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr
	}
	var e *Error
	if !stderrors.As(err, &e) {
		return NewHTTPError(http.StatusInternalServerError, remoteMessage(Internal))
	}
	return &HTTPError{
		Code:    statusFor(e.Kind),
		Kind:    e.Kind,
		Message: e.Message,
		Payload: e.Payload,
	}
}

func statusFor(kind Kind) int {
	switch kind {
	case InvalidAddress, InvalidRequest:
		return http.StatusBadRequest
	case UnresolvedAddress, NotFound:
		return http.StatusNotFound
	case NoAvailability:
		return http.StatusOK
	case RemoteTimeout:
		return http.StatusGatewayTimeout
	case RateLimited:
		return http.StatusTooManyRequests
	case RemoteServerError, MalformedResponse:
		return http.StatusBadGateway
	case AuthRejected, AuthError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
