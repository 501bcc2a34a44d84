// Package errs defines the error kinds shared by every docqa component.
//
// Components wrap one of the sentinels with context using fmt.Errorf and %w;
// callers branch on the kind with errors.Is.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

var (
	// ErrInvalidArgument marks malformed input such as a bad chunk
	// configuration or an empty training field.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks an unknown document, run or checkpoint.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable marks an embedding or generation provider that
	// could not be reached or answered with a failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout marks a provider call that exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrStorageCorruption marks a checkpoint or index read that failed an
	// integrity check.
	ErrStorageCorruption = errors.New("storage corruption")

	// ErrConflict marks a request that the target's current state does not
	// allow, such as resuming a completed run.
	ErrConflict = errors.New("conflict")

	// ErrCancelled marks an operation stopped by cooperative cancellation.
	ErrCancelled = errors.New("cancelled")
)

// Invalid returns an ErrInvalidArgument wrapping a formatted message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Conflict returns an ErrConflict wrapping a formatted message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Upstream classifies an error returned by a provider call. Deadline expiry
// becomes ErrUpstreamTimeout, everything else ErrUpstreamUnavailable. Errors
// that already carry an upstream kind or ErrCancelled are returned unchanged.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, ErrCancelled, err)
	}
	if IsTimeout(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUpstreamUnavailable, err)
}

// IsTimeout reports whether err is a deadline expiry, either from a context
// or from a network operation.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUpstreamTimeout) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return true
	}
	return false
}
