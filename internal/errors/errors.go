package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure of the parking pipeline.
type Kind string

const (
	InvalidAddress    Kind = "invalid_address"
	InvalidRequest    Kind = "invalid_request"
	UnresolvedAddress Kind = "unresolved_address"
	NoAvailability    Kind = "no_availability"
	RemoteTimeout     Kind = "remote_timeout"
	RateLimited       Kind = "rate_limited"
	RemoteServerError Kind = "remote_server_error"
	AuthRejected      Kind = "auth_rejected"
	AuthError         Kind = "auth_error"
	MalformedResponse Kind = "malformed_response"
	NotFound          Kind = "not_found"
	Unauthorized      Kind = "unauthorized"
	Internal          Kind = "internal"
)

// Error is the typed failure value carried through the resolver, the remote
// client and the monitor. Message is safe to show to an end user; Payload holds
// the raw remote body for diagnostics.
type Error struct {
	Kind       Kind
	Message    string
	Payload    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind with a user-displayable message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Remote creates an Error for a failed remote call, keeping the HTTP status and
// the raw response body.
func Remote(kind Kind, status int, payload string, err error) *Error {
	return &Error{
		Kind:       kind,
		Message:    remoteMessage(kind),
		Payload:    payload,
		StatusCode: status,
		Err:        err,
	}
}

// KindOf returns the Kind of err, or Internal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the user-displayable message of err.
func MessageOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return "系統發生錯誤，請稍後再試。"
}

// IsRetryable reports whether a remote failure may succeed on a later attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case RemoteTimeout, RateLimited, RemoteServerError, AuthError:
		return true
	default:
		return false
	}
}

func remoteMessage(kind Kind) string {
	switch kind {
	case RemoteTimeout:
		return "停車資料服務回應逾時，請稍後再試。"
	case RateLimited:
		return "停車資料服務請求過於頻繁，請稍後再試。"
	case RemoteServerError:
		return "停車資料服務暫時無法使用，請稍後再試。"
	case AuthRejected:
		return "停車資料服務認證失敗，請聯絡管理員。"
	case AuthError:
		return "無法取得停車資料服務授權，請稍後再試。"
	case MalformedResponse:
		return "停車資料服務回傳格式錯誤。"
	default:
		return "發生未知錯誤，請稍後再試。"
	}
}
