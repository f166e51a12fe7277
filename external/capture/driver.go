package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ecoaudit/voicenote/internal/capture"
)

const frameSizeMs = 20

// frameEncoder turns one PCM frame into an encoded packet. The opus and stub
// builds supply different implementations behind the same driver loop.
type frameEncoder interface {
	Encode(pcm []int16) ([]byte, error)
}

type newEncoderFunc func(sampleRate, channels int) (frameEncoder, error)

type pcmDriver struct {
	newSource      capture.SourceFactory
	newEncoder     newEncoderFunc
	nativeEncoding string
}

func newPCMDriver(newSource capture.SourceFactory, newEncoder newEncoderFunc, nativeEncoding string) capture.Driver {
	return &pcmDriver{
		newSource:      newSource,
		newEncoder:     newEncoder,
		nativeEncoding: nativeEncoding,
	}
}

func (d *pcmDriver) Acquire(ctx context.Context, constraints capture.Constraints) (capture.Handle, error) {
	src, err := d.newSource(ctx, constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	enc, err := d.newEncoder(constraints.SampleRate, constraints.Channels)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	return &pcmHandle{
		src:      src,
		enc:      enc,
		encoding: negotiateEncoding(constraints.PreferredEncodings, d.nativeEncoding),
		rate:     constraints.SampleRate,
		channels: constraints.Channels,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// negotiateEncoding picks the first preference the driver can actually
// produce, falling back to the driver's native encoding.
func negotiateEncoding(preferred []string, native string) string {
	for _, enc := range preferred {
		if enc == native {
			return enc
		}
	}
	return native
}

type pcmHandle struct {
	src      capture.Source
	enc      frameEncoder
	encoding string
	rate     int
	channels int

	mu      sync.Mutex
	started bool
	paused  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func (h *pcmHandle) SelectedEncoding() string {
	return h.encoding
}

func (h *pcmHandle) Start(ctx context.Context, chunkInterval time.Duration, onChunk capture.ChunkFunc) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return errors.New("capture handle already started")
	}
	h.started = true
	h.mu.Unlock()

	go h.run(ctx, chunkInterval, onChunk)
	return nil
}

func (h *pcmHandle) run(ctx context.Context, chunkInterval time.Duration, onChunk capture.ChunkFunc) {
	defer close(h.doneCh)
	defer func() {
		_ = h.src.Close()
	}()

	samplesPerFrame := h.rate * frameSizeMs * h.channels / 1000
	frameBytes := make([]byte, samplesPerFrame*2)
	framePCM := make([]int16, samplesPerFrame)

	ticker := time.NewTicker(frameSizeMs * time.Millisecond)
	defer ticker.Stop()

	var chunk []byte
	lastEmit := time.Now()
	sourceDrained := false

	emit := func(final bool) {
		if len(chunk) == 0 && !final {
			return
		}
		if len(chunk) > 0 {
			payload := make([]byte, len(chunk))
			copy(payload, chunk)
			chunk = chunk[:0]
			onChunk(payload)
		}
		lastEmit = time.Now()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			// Flush whatever the encoder still holds as the terminal chunk.
			emit(true)
			return
		case <-ticker.C:
			h.mu.Lock()
			paused := h.paused
			h.mu.Unlock()
			if paused || sourceDrained {
				continue
			}
			if _, err := io.ReadFull(h.src, frameBytes); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Warn("capture source read failed", "error", err)
				}
				sourceDrained = true
				continue
			}
			for i := range framePCM {
				framePCM[i] = int16(binary.LittleEndian.Uint16(frameBytes[i*2:]))
			}
			packet, err := h.enc.Encode(framePCM)
			if err != nil {
				slog.Warn("frame encode failed", "error", err)
				continue
			}
			// Packets are not self-delimiting, so each carries a 2-byte
			// big-endian length prefix inside the chunk.
			var prefix [2]byte
			binary.BigEndian.PutUint16(prefix[:], uint16(len(packet)))
			chunk = append(chunk, prefix[:]...)
			chunk = append(chunk, packet...)
			if time.Since(lastEmit) >= chunkInterval {
				emit(false)
			}
		}
	}
}

func (h *pcmHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	return nil
}

func (h *pcmHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	return nil
}

func (h *pcmHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if !started {
			// Never started: there is no run loop to flush.
			_ = h.src.Close()
			close(h.doneCh)
		}
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
