// Package errs classifies the failure modes the orchestrator reacts
// to differently: a rejected bar is not the same as a lost feed, and
// a venue timeout is not the same as an authentication failure.
package errs

import "errors"

// Kind identifies a category of failure the orchestrator's status
// state machine treats differently.
type Kind string

const (
	KindDataInvalid          Kind = "DATA_INVALID"
	KindInsufficientHistory  Kind = "INSUFFICIENT_HISTORY"
	KindComputationError     Kind = "COMPUTATION_ERROR"
	KindVetoed               Kind = "VETOED"
	KindVenueTransient       Kind = "VENUE_TRANSIENT"
	KindVenueAuthentication  Kind = "VENUE_AUTHENTICATION"
	KindVenueReject          Kind = "VENUE_REJECT"
	KindPersistenceFailure   Kind = "PERSISTENCE_FAILURE"
	KindFeedLoss             Kind = "FEED_LOSS"
	KindKillSwitch           Kind = "KILL_SWITCH"
	KindUnknown              Kind = "UNKNOWN"
)

// Error carries a Kind alongside the wrapped cause, so callers can
// branch on classification without string-matching messages.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Classify returns the Kind attached to err via New/Wrap, or
// KindUnknown if err was never classified.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether kind should escalate the orchestrator toward
// SAFE_MODE or HALTED rather than being logged and skipped.
func IsFatal(kind Kind) bool {
	switch kind {
	case KindVenueAuthentication, KindKillSwitch, KindPersistenceFailure:
		return true
	default:
		return false
	}
}
