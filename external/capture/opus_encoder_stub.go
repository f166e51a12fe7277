//go:build !opus

package capture

import (
	"encoding/binary"

	"github.com/ecoaudit/voicenote/internal/capture"
)

// Without the opus build tag the driver passes PCM frames through verbatim.
type passthroughEncoder struct{}

func newPassthroughEncoder(_, _ int) (frameEncoder, error) {
	return passthroughEncoder{}, nil
}

func (passthroughEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

func NewDriver(newSource capture.SourceFactory) capture.Driver {
	return newPCMDriver(newSource, newPassthroughEncoder, "audio/pcm;s16le")
}
