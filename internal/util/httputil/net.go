package httputil

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// IsNetworkError reports whether err looks like a transport-level failure
// worth a plain retry, as opposed to a data or configuration problem.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
