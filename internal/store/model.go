package store

import "time"

type SessionState string

const (
	SessionStateRecording      SessionState = "recording"
	SessionStatePaused         SessionState = "paused"
	SessionStateStoppedUnsaved SessionState = "stopped_unsaved"
	SessionStateSaved          SessionState = "saved"
	SessionStateDiscarded      SessionState = "discarded"
)

// IsTerminal reports whether a session in this state can never change again.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateSaved || s == SessionStateDiscarded
}

// RecordingSession is the durable record of one recording attempt. ContextID
// is fixed at creation; a session belongs to exactly one project context.
// NextSequence is the sequence number the next chunk will receive, so the
// persisted chunks for a healthy session always cover [0, NextSequence).
type RecordingSession struct {
	ID           string
	ContextID    string
	State        SessionState
	Encoding     string
	StartedAt    time.Time
	LastChunkAt  *time.Time
	NextSequence int64
	DisplayName  string
	Description  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var validTransitions = map[SessionState][]SessionState{
	SessionStateRecording:      {SessionStatePaused, SessionStateStoppedUnsaved},
	SessionStatePaused:         {SessionStateRecording, SessionStateStoppedUnsaved},
	SessionStateStoppedUnsaved: {SessionStateSaved, SessionStateDiscarded},
}

// CanTransition reports whether the state machine allows moving from one
// state to another. A recovered session continues through the Paused edge;
// a snapshot already in Recording needs no state write at all.
func CanTransition(from, to SessionState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	// A recovered non-terminal session may always be discarded.
	if to == SessionStateDiscarded && !from.IsTerminal() {
		return true
	}
	return false
}
