package uploader

import (
	"context"
	"errors"
)

// ErrTransient marks an upload failure worth retrying with the same artifact;
// the session's chunks must be kept.
var ErrTransient = errors.New("uploader: transient failure")

// ErrPermanent marks an upload the service has definitively rejected.
var ErrPermanent = errors.New("uploader: permanent failure")

// Artifact is one finalized recording, reconstructed from a session's chunks.
type Artifact struct {
	SessionID   string
	ContextID   string
	Encoding    string
	DisplayName string
	Description string
	Data        []byte
}

type Uploader interface {
	Upload(ctx context.Context, artifact Artifact) error
}
