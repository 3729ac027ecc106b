package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed provider call.
type ErrorKind string

const (
	ErrorNone           ErrorKind = ""
	ErrorAuth           ErrorKind = "auth"
	ErrorRateLimit      ErrorKind = "rate_limit"
	ErrorTimeout        ErrorKind = "timeout"
	ErrorProvider       ErrorKind = "provider"
	ErrorConfig         ErrorKind = "config"
	ErrorInvalidRequest ErrorKind = "invalid_request"
)

var (
	ErrUnauthorized   = errors.New("provider unauthorized")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrTimeout        = errors.New("provider timeout")
	ErrNotConfigured  = errors.New("provider not configured")
	ErrProviderFailed = errors.New("provider request failed")
	ErrInvalidRequest = errors.New("invalid request")
)

// Error is the normalized form of every provider failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == ErrorAuth
	case ErrRateLimited:
		return e.Kind == ErrorRateLimit
	case ErrTimeout:
		return e.Kind == ErrorTimeout
	case ErrNotConfigured:
		return e.Kind == ErrorConfig
	case ErrProviderFailed:
		return e.Kind == ErrorProvider
	case ErrInvalidRequest:
		return e.Kind == ErrorInvalidRequest
	}
	return false
}

func authError(status int) *Error {
	return &Error{Kind: ErrorAuth, Status: status, Message: "Invalid API key"}
}

func rateLimitError(status int) *Error {
	return &Error{Kind: ErrorRateLimit, Status: status, Message: "Rate limit exceeded - please try again later"}
}

func timeoutError(err error) *Error {
	return &Error{Kind: ErrorTimeout, Message: "Request timeout - please try again", Err: err}
}

func configError(format string, args ...any) *Error {
	return &Error{Kind: ErrorConfig, Message: fmt.Sprintf(format, args...)}
}

func providerError(status int, detail string) *Error {
	msg := fmt.Sprintf("API error: %d", status)
	if detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, detail)
	}
	return &Error{Kind: ErrorProvider, Status: status, Message: msg}
}

// InvalidRequest builds the error used for requests that never reach a backend.
func InvalidRequest(message string) *Error {
	return &Error{Kind: ErrorInvalidRequest, Message: message}
}

// errorForStatus maps an HTTP status code onto the error taxonomy.
func errorForStatus(status int, detail string) *Error {
	switch {
	case status == 401 || status == 403:
		return authError(status)
	case status == 429:
		return rateLimitError(status)
	default:
		return providerError(status, detail)
	}
}

// normalize converts anything a backend returned into an *Error. ctx is the
// context the call ran under; its deadline decides whether a transport
// failure counts as a timeout.
func normalize(ctx context.Context, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutError(err)
	}
	if status, ok := statusFromSDK(err); ok {
		e := errorForStatus(status, sdkMessage(err))
		e.Err = err
		return e
	}
	return &Error{Kind: ErrorProvider, Message: err.Error(), Err: err}
}
