package syncer

import (
	"errors"
	"fmt"
)

// ErrAbortSync is the internal cancellation sentinel (spec.md §7). It
// is never surfaced to a caller of Start/Stop/OnTick; it only ever
// unwinds an in-flight fetch or ancestor search.
var ErrAbortSync = errors.New("syncer: abort sync")

// ErrNoCandidates is returned internally by the measurer when no peer
// qualifies; it keeps the syncer in Idle and is not surfaced as a
// failure.
var ErrNoCandidates = errors.New("syncer: no syncing candidate")

// ErrAlreadyRunning is returned by Start when the syncer is not
// Stopped.
var ErrAlreadyRunning = errors.New("syncer: already running")

// ProtocolViolation is raised when a peer returns malformed or
// self-contradictory data. For every violation it detects in a peer's
// response, the core punishes MaxMisbehaviorScore and closes the peer
// before returning to Idle.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

// ValidatorRejection wraps an Invalid AddBlockResult from the chain
// store; Score is the store's assigned punishment.
type ValidatorRejection struct {
	Reason string
	Score  int
}

func (e *ValidatorRejection) Error() string {
	return fmt.Sprintf("validator rejected block: %s", e.Reason)
}

// TransientWireFailure wraps a timeout or dropped connection mid
// request. It closes the peer but does not punish it.
type TransientWireFailure struct {
	Err error
}

func (e *TransientWireFailure) Error() string {
	return fmt.Sprintf("transient wire failure: %v", e.Err)
}

func (e *TransientWireFailure) Unwrap() error { return e.Err }
