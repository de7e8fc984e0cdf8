package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// transientPatterns match wrapped transport failures and Salesforce
// throttling responses that carry no typed error.
var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"request_limit_exceeded",
	"server_unavailable",
	"unable_to_lock_row",
	"503 service unavailable",
	"502 bad gateway",
	"504 gateway timeout",
}

// IsTransient reports whether err is worth retrying: network timeouts,
// refused or reset connections, and the patterns above. Context errors are
// never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
