package capture

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrDeviceUnavailable means the capture device could not be acquired, for
// example because permission was denied or the source does not exist.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

type Constraints struct {
	SampleRate int
	Channels   int
	// PreferredEncodings is ordered by preference; the driver picks the
	// first one it supports at acquire time.
	PreferredEncodings []string
}

// ChunkFunc receives one encoded chunk. The driver must not reuse the payload
// slice after the call returns, and must not invoke the callback again for
// the same handle until the previous invocation has completed.
type ChunkFunc func(payload []byte)

// Handle is one acquired capture device. Start begins periodic chunk
// delivery; Stop flushes whatever the encoder still buffers, delivers it as
// the terminal chunk, and returns only after that final callback completed.
type Handle interface {
	Start(ctx context.Context, chunkInterval time.Duration, onChunk ChunkFunc) error
	Pause() error
	Resume() error
	Stop(ctx context.Context) error
	// SelectedEncoding is the content encoding negotiated at acquire time.
	// Callers treat it as opaque and store it verbatim with the session.
	SelectedEncoding() string
}

type Driver interface {
	Acquire(ctx context.Context, constraints Constraints) (Handle, error)
}

// Source supplies raw little-endian 16-bit PCM, the shape a microphone
// adapter hands the encoder.
type Source interface {
	io.ReadCloser
}

type SourceFactory func(ctx context.Context, constraints Constraints) (Source, error)
