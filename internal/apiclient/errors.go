package apiclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnauthenticated = errors.New("apiclient: no access token")
	ErrNetwork         = errors.New("apiclient: host unreachable or transport failure")
	ErrServer          = errors.New("apiclient: server error (5xx)")
	ErrClient          = errors.New("apiclient: client error (4xx)")
	ErrAuthExpired     = errors.New("apiclient: authentication expired")
	ErrRefreshFailed   = errors.New("apiclient: credential refresh failed")
	ErrBadResponse     = errors.New("apiclient: invalid response format")
)

// APIError wraps one of the sentinels with request context.
type APIError struct {
	Sentinel  error
	Operation string // "GET /api/customers"
	Status    int
	Body      string
	Err       error // lower-level cause (net.Error, context error, decode error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

const maxErrorBody = 512

// Classify turns a non-2xx response into an *APIError and returns nil for
// success. It reads (a bounded prefix of) the body but does not close it.
func Classify(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &APIError{
		Operation: op,
		Status:    resp.StatusCode,
		Body:      strings.TrimSpace(string(b)),
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.Sentinel = ErrAuthExpired
	case resp.StatusCode >= 500:
		e.Sentinel = ErrServer
	case resp.StatusCode >= 400:
		e.Sentinel = ErrClient
	default:
		e.Sentinel = ErrBadResponse
	}
	return e
}

func networkError(op string, err error) error {
	return &APIError{Sentinel: ErrNetwork, Operation: op, Err: err}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
