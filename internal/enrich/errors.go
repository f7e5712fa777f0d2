package enrich

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrInvalidRequest marks a request missing a required field.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTimeout marks a run whose search phase ran out of time.
	ErrTimeout = errors.New("request timed out")
)

// isTimeout reports whether err stems from a deadline rather than an upstream answer.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
