package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies invocation failures.
type Kind string

const (
	KindRateLimit             Kind = "rate_limit"
	KindAuthentication        Kind = "authentication"
	KindInvalidRequest        Kind = "invalid_request"
	KindModelNotFound         Kind = "model_not_found"
	KindContextLengthExceeded Kind = "context_length_exceeded"
	KindServerError           Kind = "server_error"
	KindUnknown               Kind = "unknown"
)

// Error wraps provider errors with status metadata.
type Error struct {
	Kind      Kind
	Status    int
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	return fmt.Sprintf("%s (status=%d)", e.Kind, e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Classify builds an Error from an HTTP status and the underlying error text.
func Classify(status int, err error) *Error {
	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}

	kind := KindUnknown
	switch {
	case status == 429 || strings.Contains(msg, "rate limit"):
		kind = KindRateLimit
	case status == 401 || status == 403:
		kind = KindAuthentication
	case strings.Contains(msg, "context length") || strings.Contains(msg, "context_length") ||
		strings.Contains(msg, "maximum context") || status == 413:
		kind = KindContextLengthExceeded
	case status == 404 || strings.Contains(msg, "model not found") || strings.Contains(msg, "no such model"):
		kind = KindModelNotFound
	case status == 400 || status == 422:
		kind = KindInvalidRequest
	case status >= 500 && status <= 599:
		kind = KindServerError
	}

	return &Error{
		Kind:      kind,
		Status:    status,
		Temporary: kind == KindRateLimit || kind == KindServerError,
		Err:       err,
	}
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var adapterErr *Error
	if errors.As(err, &adapterErr) {
		return adapterErr.Kind
	}
	return KindUnknown
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var adapterErr *Error
	if errors.As(err, &adapterErr) {
		if adapterErr.Temporary {
			return true
		}
		if adapterErr.Status == 429 || (adapterErr.Status >= 500 && adapterErr.Status <= 599) {
			return true
		}
	}
	return false
}

func asError(err error) *Error {
	if err == nil {
		return nil
	}
	var adapterErr *Error
	if errors.As(err, &adapterErr) {
		return adapterErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindServerError, Temporary: true, Err: err}
	}
	return Classify(0, err)
}
