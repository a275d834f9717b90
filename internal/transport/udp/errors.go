package udp

import (
	"errors"
	"fmt"
	"net"
)

// Error taxonomy for endpoint operations. Every error returned by this
// package wraps exactly one of these, plus the underlying cause when there is one.
var (
	ErrBind        = errors.New("bind failed")
	ErrConnect     = errors.New("connect failed")
	ErrConfig      = errors.New("invalid socket configuration")
	ErrTimeout     = errors.New("receive timed out")
	ErrIO          = errors.New("transient socket error")
	ErrFatalSocket = errors.New("socket is no longer usable")
	ErrSend        = errors.New("send failed")
	ErrDecode      = errors.New("payload is not valid UTF-8")
)

// classifyReadError maps a read error from the net package onto the taxonomy.
func classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrFatalSocket, err)
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}

// IsRetryable reports whether a receive error should simply be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrIO)
}
