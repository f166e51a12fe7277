package session

import "errors"

var (
	// ErrSessionActive means a session is already live in this process;
	// at most one session records at a time.
	ErrSessionActive = errors.New("session: another session is active")

	// ErrRecoveryPending means the store still holds unresolved recovery
	// candidates; they must be continued or discarded before a new start.
	ErrRecoveryPending = errors.New("session: unresolved recovery candidates exist")

	ErrNoActiveSession = errors.New("session: no active session")

	// ErrInvalidStateTransition is the programming-error class for an
	// operation invoked from a state that does not allow it.
	ErrInvalidStateTransition = errors.New("session: invalid state transition")

	// ErrDisplayNameRequired: saving requires a non-empty name.
	ErrDisplayNameRequired = errors.New("session: display name is required")

	// ErrStorageWrite wraps a chunk persistence failure. The failed chunk
	// did not advance the sequence; recording did not silently continue.
	ErrStorageWrite = errors.New("session: chunk write failed")
)
