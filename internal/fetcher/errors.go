package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindNetwork     Kind = "network"
	KindValidation  Kind = "validation"
	KindUpstream    Kind = "upstream"
	KindUnavailable Kind = "unavailable"
)

// Error is a provider failure with an explicit kind.
type Error struct {
	Provider string
	Kind     Kind
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s %s (%d): %s", e.Provider, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain. Context
// expiry maps to KindTimeout; anything else unclassified is KindUpstream.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUpstream
}

// Retryable reports whether repeating the call could succeed.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindNotFound, KindValidation:
		return false
	}
	return true
}

func validationError(provider, format string, args ...any) *Error {
	return &Error{Provider: provider, Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func unavailableError(provider, msg string) *Error {
	return &Error{Provider: provider, Kind: KindUnavailable, Message: msg}
}

// statusError maps a non-2xx response to a kind.
func statusError(provider string, status int, body string) *Error {
	kind := KindUpstream
	switch {
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = KindValidation
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindUnavailable
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		kind = KindUnavailable
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return &Error{Provider: provider, Kind: kind, Status: status, Message: body}
}

// transportError classifies a failure of http.Client.Do.
func transportError(provider string, err error) *Error {
	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{Provider: provider, Kind: kind, Err: err}
}
