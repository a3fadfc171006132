package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/openai/openai-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// transientMarkers are lower-cased substrings of provider and driver errors
// that indicate a temporary fault.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"overloaded",
	"status 408",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
}

// IsTransient reports whether a provider or backend error is worth retrying:
// timeouts, connection failures, rate limits, and server-side errors. A
// provider status anywhere in the chain decides on its code alone.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Temporary()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return (&StatusError{StatusCode: apiErr.StatusCode}).Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
