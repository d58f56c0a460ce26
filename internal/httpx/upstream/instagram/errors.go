package instagram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Kind buckets Graph API failures by how callers must react
type Kind string

const (
	// KindTransient covers network failures, 5xx, rate limits and
	// temporarily unready media; safe to retry with backoff.
	KindTransient Kind = "transient"
	// KindInvalidInput covers malformed captions, unreachable image URLs
	// and permission problems; retrying cannot succeed.
	KindInvalidInput Kind = "invalid_input"
	// KindAuth covers expired or invalid tokens; surfaced so the account
	// can be refreshed.
	KindAuth Kind = "auth"
	// KindUnknown gets a bounded retry before giving up
	KindUnknown Kind = "unknown"
)

// APIError represents an error from the Instagram Graph API
type APIError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`

	HTTPStatus int           `json:"-"`
	RetryAfter time.Duration `json:"-"`
	Kind       Kind          `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instagram API error: %s (code: %d, subcode: %d, kind: %s)", e.Message, e.Code, e.ErrorSubcode, e.Kind)
}

// Retryable reports whether the transport layer may retry the call
func (e *APIError) Retryable() bool {
	return e.Kind == KindTransient
}

// ErrorResponse represents an error response body from the API
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Graph error codes with fixed meanings
const (
	codeAPIUnknown      = 1
	codeAPIService      = 2
	codeAPITooManyCalls = 4
	codeUserTooManyCall = 17
	codePageRateLimit   = 32
	codeCustomRateLimit = 613
	codeAccessToken     = 190
	codePermission      = 200
	codeParam           = 100
	codeMediaNotReady   = 9007
)

// classify assigns an error kind from the HTTP status and Graph error code
func classify(status int, e *APIError) Kind {
	switch e.Code {
	case codeAccessToken:
		return KindAuth
	case codeAPITooManyCalls, codeUserTooManyCall, codePageRateLimit, codeCustomRateLimit:
		return KindTransient
	case codeMediaNotReady:
		return KindTransient
	case codeParam, codePermission:
		return KindInvalidInput
	case codeAPIService:
		return KindTransient
	}

	if e.Type == "OAuthException" {
		return KindAuth
	}

	switch {
	case status == 429:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindInvalidInput
	default:
		return KindUnknown
	}
}

// ErrorKind extracts the error kind from any error returned by this package
func ErrorKind(err error) Kind {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	if isNetworkError(err) {
		return KindTransient
	}

	return KindUnknown
}

func asAPIError(err error, out **APIError) bool {
	return errors.As(err, out)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
