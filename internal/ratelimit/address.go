package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UnknownAddress is the shared bucket for requests with no derivable address
const UnknownAddress = "unknown"

// DefaultAddressHeaders are consulted in order to derive the client address
var DefaultAddressHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// ClientAddress derives the rate limit key for r from the first non-empty
// header in headers. For list-valued headers the first entry is the
// originating client. The connection's remote address is not used: behind
// the fronting proxy it is always the proxy itself.
func ClientAddress(r *http.Request, headers []string) string {
	if len(headers) == 0 {
		headers = DefaultAddressHeaders
	}

	for _, name := range headers {
		value := r.Header.Get(name)
		if value == "" {
			continue
		}

		first, _, _ := strings.Cut(value, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	return UnknownAddress
}

// RetryAfterHeader formats d as whole seconds for a Retry-After header,
// rounding up so clients never retry early
func RetryAfterHeader(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	seconds := int64((d + time.Second - 1) / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}
