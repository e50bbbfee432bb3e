package firecall

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

var (
	// ErrSessionNotFound is returned by Join for a missing, malformed or offer-less session. It is
	// not worth retrying.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidState marks a negotiation step issued out of order. StateError says which one.
	ErrInvalidState = transport.ErrInvalidState
	// ErrDuplicateCandidate is swallowed by the call; it never reaches callers.
	ErrDuplicateCandidate = transport.ErrDuplicateCandidate
	// ErrStoreUnavailable is transient. The call protocol does not retry it.
	ErrStoreUnavailable = store.ErrUnavailable
	// ErrTeardownPartialFailure is matched by every *TeardownError.
	ErrTeardownPartialFailure = errors.New("teardown partially failed")
)

// StateError reports which precondition of a negotiation step failed.
type StateError struct {
	Op     string
	Phase  Phase
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: invalid state (phase=%s): %s", e.Op, e.Phase, e.Reason)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// TeardownError collects every step of a teardown that failed. The transport is closed regardless.
type TeardownError struct {
	SessionID string
	Errs      []error
}

func (e *TeardownError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("teardown of session %q: %d step(s) failed: %s", e.SessionID, len(e.Errs), strings.Join(msgs, "; "))
}

func (e *TeardownError) Is(target error) bool {
	return target == ErrTeardownPartialFailure
}

func (e *TeardownError) Unwrap() []error {
	return e.Errs
}
