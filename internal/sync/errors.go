package sync

import "fmt"

// Error is a structured sync error carrying the phase that failed and the
// outcome the cycle ended with. Consumers branch on Phase and Outcome; the
// wrapped error keeps the original cause reachable with errors.Is/As.
type Error struct {
	Err     error
	Message string
	Phase   Phase
	Outcome Outcome
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newFetchError wraps a fetch phase failure
func newFetchError(err error) *Error {
	return &Error{
		Err:     err,
		Message: fmt.Sprintf("fetch failed: %v", err),
		Phase:   PhaseFetching,
		Outcome: OutcomeFetchFailed,
	}
}

// newMirrorError wraps a mirror phase failure
func newMirrorError(err error) *Error {
	return &Error{
		Err:     err,
		Message: fmt.Sprintf("mirror failed: %v", err),
		Phase:   PhaseMirroring,
		Outcome: OutcomeMirrorFailed,
	}
}

// newReloadError wraps a reload phase failure. The revision is already
// committed when this is produced; only the notification failed.
func newReloadError(err error) *Error {
	return &Error{
		Err:     err,
		Message: fmt.Sprintf("reload failed: %v", err),
		Phase:   PhaseReloading,
		Outcome: OutcomeReloadFailed,
	}
}
