// Package apierror defines the error taxonomy shared by the transport and
// credential layers and the classifier that maps HTTP responses onto it.
package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Caller errors. These are never retried.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrContentMismatch = errors.New("content type does not match body")
)

// Sentinels for errors.Is against an *APIError.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrServiceError = errors.New("service error")
	ErrGenericAPI   = errors.New("api error")

	ErrAuthentication = errors.New("authentication failed")
	ErrTransport      = errors.New("transport error")
)

// Kind identifies the class of a non-2xx response.
type Kind int

const (
	KindGeneric Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
	KindServiceError
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindServiceError:
		return "service_error"
	default:
		return "generic_api_error"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindUnauthorized:
		return ErrUnauthorized
	case KindForbidden:
		return ErrForbidden
	case KindNotFound:
		return ErrNotFound
	case KindRateLimited:
		return ErrRateLimited
	case KindServiceError:
		return ErrServiceError
	default:
		return ErrGenericAPI
	}
}

// KindOf maps a non-2xx status code to its Kind.
func KindOf(status int) Kind {
	switch {
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500 && status <= 599:
		return KindServiceError
	default:
		return KindGeneric
	}
}

// APIError is returned for any non-2xx response. The response body is kept
// for diagnostics; Code and Message are lifted from a {"code","message"} body
// when the service sends one.
type APIError struct {
	Kind       Kind
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: HTTP %d", e.Kind, e.StatusCode)
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	switch {
	case e.Code != "" && e.Message != "":
		msg += fmt.Sprintf(" (%s: %s)", e.Code, e.Message)
	case e.Message != "":
		msg += fmt.Sprintf(" (%s)", e.Message)
	case len(e.Body) > 0:
		msg += ": " + truncate(e.Body, 512)
	}
	return msg
}

// Is reports whether target is the sentinel for this error's kind.
func (e *APIError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Classify returns nil for 2xx statuses and an *APIError otherwise.
func Classify(status int, reason string, header http.Header, body []byte) error {
	if status >= 200 && status <= 299 {
		return nil
	}
	e := &APIError{
		Kind:       KindOf(status),
		StatusCode: status,
		Reason:     reason,
		Header:     header,
		Body:       body,
	}
	if len(body) > 0 && gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		e.Code = parsed.Get("code").String()
		e.Message = parsed.Get("message").String()
	}
	return e
}

// StatusCode extracts the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) && authErr.StatusCode != 0 {
		return authErr.StatusCode, true
	}
	return 0, false
}

// AuthenticationError is returned when the token endpoint could not produce a
// usable token. It is always terminal.
type AuthenticationError struct {
	StatusCode  int
	Body        []byte
	OAuthError  string
	Description string
	Err         error
}

func (e *AuthenticationError) Error() string {
	msg := "authentication failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": token endpoint returned HTTP %d", e.StatusCode)
	}
	if e.OAuthError != "" {
		msg += ": " + e.OAuthError
		if e.Description != "" {
			msg += " - " + e.Description
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// NewAuthenticationError builds an AuthenticationError from a token endpoint
// response, lifting RFC 6749 error fields from the body when present.
func NewAuthenticationError(status int, body []byte, err error) *AuthenticationError {
	e := &AuthenticationError{StatusCode: status, Body: body, Err: err}
	if len(body) > 0 && gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		e.OAuthError = parsed.Get("error").String()
		e.Description = parsed.Get("error_description").String()
	}
	return e
}

// TransportError wraps network level failures: refused connections, TLS
// handshake failures, timeouts.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
