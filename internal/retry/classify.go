package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/relayforge/relay/internal/errs"
)

// nonRetryablePhrases and retryablePhrases implement the classification
// table in spec.md §4.4. They are consulted only at the boundary where a
// raw error first enters the system (HTTP client, subprocess runner); once
// wrapped as an *errs.Error its Retryable bit is authoritative and this
// text matching never runs again, keeping string classification out of the
// retry engine's own hot path per the design notes.
var nonRetryablePhrases = []string{
	"verification failed",
	"merge conflict",
	"Invalid API key",
	"prompt too long",
	"Failed to create session",
	"Failed to send prompt",
}

var retryablePhrases = []string{
	"rate limit",
	"Rate limit",
}

var retryableStatusCodes = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

var nonRetryableStatusCodes = map[int]bool{
	400: true, 401: true, 403: true,
}

// ClassifyHTTPStatus tags an HTTP response status per the retry table.
func ClassifyHTTPStatus(status int, message string) *errs.Error {
	if nonRetryableStatusCodes[status] {
		return errs.New(errs.AuthError, message, false, nil)
	}
	if retryableStatusCodes[status] {
		return errs.New(errs.ProviderUnavailable, message, true, nil)
	}
	return classifyByPhrase(message, status)
}

// ClassifyNetworkError tags a transport-level error: timeouts, connection
// reset/refused, and transient DNS failures are retryable.
func ClassifyNetworkError(err error) *errs.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New(errs.Timeout, err.Error(), true, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.New(errs.Timeout, err.Error(), true, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return errs.New(errs.ProviderUnavailable, err.Error(), true, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return errs.New(errs.ProviderUnavailable, msg, true, err)
	}
	return classifyByPhrase(msg, 0)
}

// classifyByPhrase implements the conservative "Unknown: treated as
// non-retryable" rule: anything not matched by a known phrase is
// non-retryable.
func classifyByPhrase(message string, status int) *errs.Error {
	for _, p := range nonRetryablePhrases {
		if strings.Contains(message, p) {
			return errs.New(errs.SessionFailed, message, false, nil)
		}
	}
	for _, p := range retryablePhrases {
		if strings.Contains(message, p) {
			return errs.New(errs.RateLimited, message, true, nil)
		}
	}
	tag := errs.Unknown
	if status != 0 {
		tag = errs.ProviderUnavailable
	}
	return errs.New(tag, message, false, nil)
}
