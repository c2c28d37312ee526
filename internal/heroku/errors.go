package heroku

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a provider error so callers can decide between skipping an
// account, deactivating it, or rolling back a workflow.
type Kind int

const (
	// KindTransient covers timeouts, network failures, 429s and 5xx responses.
	// The credential is fine; the call may succeed on another account or later.
	KindTransient Kind = iota
	// KindUnauthorized means the credential is invalid or the account banned.
	KindUnauthorized
	// KindConflict means the remote name is already taken.
	KindConflict
	// KindNotFound means the named resource does not exist under this account.
	KindNotFound
	// KindPermanent covers any other non-retryable rejection.
	KindPermanent
)

// Error is a classified remote provider error.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func kindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsUnauthorized reports whether err means the credential itself is bad.
func IsUnauthorized(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUnauthorized
}

// IsConflict reports whether err means the remote name is already taken.
func IsConflict(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConflict
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// IsTransient reports whether err is worth retrying elsewhere. Unclassified
// errors (raw transport failures that escaped wrapping) count as transient.
func IsTransient(err error) bool {
	if k, ok := kindOf(err); ok {
		return k == KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyStatus maps an HTTP response code to an error kind.
func classifyStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindUnauthorized
	case status == 404:
		return KindNotFound
	// Heroku rejects a taken app name with 409 or 422 depending on endpoint.
	case status == 409 || status == 422:
		return KindConflict
	case status == 429 || status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
