//go:build opus

package capture

import (
	"github.com/ecoaudit/voicenote/internal/capture"
	"github.com/hraban/opus"
)

const opusPacketMaxBytes = 4000

type opusEncoder struct {
	enc *opus.Encoder
	buf []byte
}

func newOpusEncoder(sampleRate, channels int) (frameEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return &opusEncoder{enc: enc, buf: make([]byte, opusPacketMaxBytes)}, nil
}

func (e *opusEncoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, err
	}
	packet := make([]byte, n)
	copy(packet, e.buf[:n])
	return packet, nil
}

// NewDriver builds the opus capture driver around a PCM source.
func NewDriver(newSource capture.SourceFactory) capture.Driver {
	return newPCMDriver(newSource, newOpusEncoder, "audio/opus;framed")
}
