package logging

import (
	"context"
	"errors"
	"net"
	"strings"
)

// IsRateLimit reports whether an upstream rejected the call for rate limiting.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429")
}

// IsTransient reports whether err is worth retrying: rate limits, 5xx, timeouts, dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimit(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "connection refused", "broken pipe", "eof", "status 5"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
