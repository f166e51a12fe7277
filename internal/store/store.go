package store

import (
	"context"
	"errors"
	"time"
)

// ErrMissingChunk is returned by ReadAllChunks when a sequence number in
// [0, NextSequence) has no persisted payload. It means data was lost and the
// session must not be finalized.
var ErrMissingChunk = errors.New("store: chunk missing from persisted range")

// ErrInvalidTransition is returned by MarkState for a transition the state
// machine does not allow.
var ErrInvalidTransition = errors.New("store: invalid session state transition")

// ErrSessionNotFound is returned when the referenced session does not exist.
var ErrSessionNotFound = errors.New("store: session not found")

type CreateSessionInput struct {
	ContextID string
	Encoding  string
	StartedAt time.Time
}

type AppendChunkInput struct {
	SessionID string
	Sequence  int64
	Payload   []byte
	WrittenAt time.Time
}

// UpdateMetadataInput carries a partial update; nil fields are left untouched.
type UpdateMetadataInput struct {
	SessionID   string
	DisplayName *string
	Description *string
}

// ChunkStore is durable, crash-surviving storage for recording sessions and
// their chunks. Implementations persist the chunk payload and the session's
// NextSequence/LastChunkAt advance atomically, so a crash can never leave the
// counter ahead of the data.
type ChunkStore interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*RecordingSession, error)
	GetSession(ctx context.Context, sessionID string) (*RecordingSession, error)
	// AppendChunk persists the payload under (SessionID, Sequence) and
	// advances the session's NextSequence to Sequence+1. The caller
	// guarantees Sequence equals the session's current NextSequence.
	AppendChunk(ctx context.Context, input AppendChunkInput) error
	UpdateMetadata(ctx context.Context, input UpdateMetadataInput) error
	// ReadAllChunks returns every chunk payload for the session in ascending
	// sequence order and fails with ErrMissingChunk on any gap.
	ReadAllChunks(ctx context.Context, sessionID string) ([][]byte, error)
	// ListIncompleteSessions returns sessions whose state is not terminal,
	// ordered oldest first. This is the recovery candidate set.
	ListIncompleteSessions(ctx context.Context) ([]RecordingSession, error)
	// DeleteSession removes the session and all of its chunks. Deleting an
	// unknown session is a no-op.
	DeleteSession(ctx context.Context, sessionID string) error
	// MarkState transitions the session state, rejecting transitions the
	// state machine forbids with ErrInvalidTransition.
	MarkState(ctx context.Context, sessionID string, newState SessionState) error
	Close() error
}
