package errx

import (
	"context"
	"errors"
	"strings"
)

// ClassifyModelError maps a failure from the model provider onto a typed
// Error by inspecting the failure text, mirroring the provider's opaque
// error surface: rate limits, auth failures and timeouts get distinct codes
// so callers can react (retry-after, credential rotation) instead of
// treating everything as a generic upstream error.
func ClassifyModelError(err error, service string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(err, CodeServiceTimeout, "request to "+service+" timed out")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"),
		strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "429"):
		out := New(err, CodeRateLimitExceeded, service+" rate limit exceeded, try again later")
		out.RetryAfter = 60
		return out
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "authentication"), strings.Contains(msg, "permission_denied"):
		return New(err, CodeAPIKeyInvalid, "invalid or expired API key for "+service)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return New(err, CodeServiceTimeout, "request to "+service+" timed out")
	default:
		return New(err, CodeModelAPIError, service+" request failed")
	}
}
