package weaviate

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsTransient reports whether a transport-level error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ce *fault.WeaviateClientError
	if errors.As(err, &ce) {
		if ce.IsUnexpectedStatusCode {
			return ce.StatusCode >= 500 || ce.StatusCode == http.StatusTooManyRequests
		}
		return true // connection failures surface without a status code
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted,
			codes.DeadlineExceeded, codes.Internal:
			return true
		case codes.Unknown:
			return true
		default:
			return false
		}
	}
	return true // network errors are transient
}

// StatusCode maps a transport-level error to an HTTP-style status code.
func StatusCode(err error) int {
	var ce *fault.WeaviateClientError
	if errors.As(err, &ce) && ce.IsUnexpectedStatusCode && ce.StatusCode > 0 {
		return ce.StatusCode
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return grpcToHTTP(st.Code())
	}
	return http.StatusServiceUnavailable
}

func grpcToHTTP(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// transientMarkers are substrings of server-side per-object error messages
// that describe a temporary condition rather than a rejected payload.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"unavailable",
	"too many requests",
	"resource exhausted",
	"rate limit",
	"cannot achieve consistency level",
	"not enough replicas",
}

// IsTransientMessage reports whether a per-object error message signals a
// transient server condition.
func IsTransientMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
