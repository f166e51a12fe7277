package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ecoaudit/voicenote/internal/capture"
	"github.com/ecoaudit/voicenote/internal/config"
	"github.com/ecoaudit/voicenote/internal/store"
	"github.com/ecoaudit/voicenote/internal/uploader"
)

// Manager owns the recording-session lifecycle: it sequences chunks from the
// capture driver into the chunk store, reconstructs artifacts on save, and
// exposes interrupted sessions for recovery. One Manager per process, with
// at most one live session at a time.
type Manager struct {
	cfg    *config.Config
	store  store.ChunkStore
	driver capture.Driver
	upl    uploader.Uploader

	mu     sync.Mutex
	active *activeSession
}

// activeSession is the in-memory half of the current session. nextSequence
// mirrors the store and is only touched by the append loop; the loop drains
// the chunk channel serially, so appends for a session never interleave.
type activeSession struct {
	sess   *store.RecordingSession
	handle capture.Handle

	chunks chan []byte
	done   chan struct{}

	nextSequence int64
	appendErr    error
	drained      bool

	startedWall time.Time
	baseElapsed time.Duration
	pausedAt    time.Time
	pausedTotal time.Duration
}

func NewManager(cfg *config.Config, chunkStore store.ChunkStore, driver capture.Driver, upl uploader.Uploader) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  chunkStore,
		driver: driver,
		upl:    upl,
	}
}

func (m *Manager) chunkInterval() time.Duration {
	return time.Duration(m.cfg.ChunkIntervalMs) * time.Millisecond
}

func (m *Manager) constraints() capture.Constraints {
	return capture.Constraints{
		SampleRate:         m.cfg.CaptureSampleRate,
		Channels:           m.cfg.CaptureChannels,
		PreferredEncodings: m.cfg.PreferredEncodings,
	}
}

// Start acquires a capture handle, creates a durable session for contextID
// and begins chunked recording. It refuses while another session is live or
// while unresolved recovery candidates remain in the store.
func (m *Manager) Start(ctx context.Context, contextID string) (string, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return "", ErrSessionActive
	}
	m.mu.Unlock()

	candidates, err := m.store.ListIncompleteSessions(ctx)
	if err != nil {
		return "", fmt.Errorf("list recovery candidates: %w", err)
	}
	if len(candidates) > 0 {
		return "", fmt.Errorf("%d candidate(s) in store: %w", len(candidates), ErrRecoveryPending)
	}

	handle, err := m.driver.Acquire(ctx, m.constraints())
	if err != nil {
		return "", err
	}
	created, err := m.store.CreateSession(ctx, store.CreateSessionInput{
		ContextID: contextID,
		Encoding:  handle.SelectedEncoding(),
		StartedAt: time.Now(),
	})
	if err != nil {
		_ = handle.Stop(ctx)
		slog.Error("failed to create session in store", "error", err, "context_id", contextID)
		return "", err
	}
	slog.Info("session created", "session_id", created.ID, "context_id", contextID, "encoding", created.Encoding)

	if err := m.activate(ctx, created, handle, 0, 0); err != nil {
		// A session that never recorded a chunk must not linger as a
		// recovery candidate.
		if derr := m.store.DeleteSession(ctx, created.ID); derr != nil {
			slog.Error("failed to delete unstarted session", "error", derr, "session_id", created.ID)
		}
		return "", err
	}
	return created.ID, nil
}

// activate installs the session as the process's live one and starts the
// capture and append loops.
func (m *Manager) activate(ctx context.Context, sess *store.RecordingSession, handle capture.Handle, seedSequence int64, baseElapsed time.Duration) error {
	as := &activeSession{
		sess:         sess,
		handle:       handle,
		chunks:       make(chan []byte, 1),
		done:         make(chan struct{}),
		nextSequence: seedSequence,
		startedWall:  time.Now(),
		baseElapsed:  baseElapsed,
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		_ = handle.Stop(ctx)
		return ErrSessionActive
	}
	m.active = as
	m.mu.Unlock()

	go m.appendLoop(as)
	if err := handle.Start(ctx, m.chunkInterval(), func(payload []byte) {
		as.chunks <- payload
	}); err != nil {
		_ = handle.Stop(ctx)
		close(as.chunks)
		<-as.done
		m.mu.Lock()
		m.active = nil
		m.mu.Unlock()
		return err
	}
	slog.Info("capture started", "session_id", sess.ID, "chunk_interval_ms", m.cfg.ChunkIntervalMs, "next_sequence", seedSequence)
	return nil
}

// appendLoop drains the chunk channel serially. A chunk that fails to
// persist does not advance the sequence; later chunks are dropped so
// recovery never believes data exists that does not.
func (m *Manager) appendLoop(as *activeSession) {
	defer close(as.done)
	for payload := range as.chunks {
		if len(payload) == 0 {
			slog.Warn("dropping empty chunk from capture backend", "session_id", as.sess.ID)
			continue
		}
		m.mu.Lock()
		seq := as.nextSequence
		failed := as.appendErr != nil
		m.mu.Unlock()
		if failed {
			slog.Warn("dropping chunk after storage failure", "session_id", as.sess.ID, "sequence", seq)
			continue
		}
		now := time.Now()
		err := m.store.AppendChunk(context.Background(), store.AppendChunkInput{
			SessionID: as.sess.ID,
			Sequence:  seq,
			Payload:   payload,
			WrittenAt: now,
		})
		m.mu.Lock()
		if err != nil {
			as.appendErr = fmt.Errorf("%w: sequence %d: %v", ErrStorageWrite, seq, err)
		} else {
			as.nextSequence = seq + 1
			as.sess.LastChunkAt = &now
		}
		m.mu.Unlock()
		if err != nil {
			slog.Error("chunk write failed", "error", err, "session_id", as.sess.ID, "sequence", seq)
			continue
		}
		slog.Debug("chunk persisted", "session_id", as.sess.ID, "sequence", seq, "bytes", len(payload))
	}
}

// CurrentSession returns a snapshot of the process's session, or nil. The
// session stays current through StoppedUnsaved until saved or discarded.
func (m *Manager) CurrentSession() *store.RecordingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snapshot := *m.active.sess
	snapshot.NextSequence = m.active.nextSequence
	return &snapshot
}

// Err reports the first storage failure of the live session, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return m.active.appendErr
}

func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	as := m.active
	if as == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	if as.sess.State != store.SessionStateRecording {
		m.mu.Unlock()
		return fmt.Errorf("pause from %s: %w", as.sess.State, ErrInvalidStateTransition)
	}
	m.mu.Unlock()

	if err := as.handle.Pause(); err != nil {
		return err
	}
	if err := m.store.MarkState(ctx, as.sess.ID, store.SessionStatePaused); err != nil {
		return err
	}
	m.mu.Lock()
	as.sess.State = store.SessionStatePaused
	as.pausedAt = time.Now()
	m.mu.Unlock()
	slog.Info("session paused", "session_id", as.sess.ID)
	return nil
}

func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	as := m.active
	if as == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	if as.sess.State != store.SessionStatePaused {
		m.mu.Unlock()
		return fmt.Errorf("resume from %s: %w", as.sess.State, ErrInvalidStateTransition)
	}
	m.mu.Unlock()

	if err := as.handle.Resume(); err != nil {
		return err
	}
	if err := m.store.MarkState(ctx, as.sess.ID, store.SessionStateRecording); err != nil {
		return err
	}
	m.mu.Lock()
	as.sess.State = store.SessionStateRecording
	as.pausedTotal += time.Since(as.pausedAt)
	as.pausedAt = time.Time{}
	m.mu.Unlock()
	slog.Info("session resumed", "session_id", as.sess.ID)
	return nil
}

// Stop asks the driver to flush its terminal chunk, waits until that chunk
// has been durably appended, then marks the session StoppedUnsaved.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	as := m.active
	if as == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	state := as.sess.State
	if state != store.SessionStateRecording && state != store.SessionStatePaused {
		m.mu.Unlock()
		return fmt.Errorf("stop from %s: %w", state, ErrInvalidStateTransition)
	}
	drained := as.drained
	m.mu.Unlock()

	// The driver's stop-completion signal is the flush boundary: once Stop
	// returns, the terminal chunk callback has run and is queued. A retried
	// Stop (state write failed below) skips straight to the state write.
	if !drained {
		if err := as.handle.Stop(ctx); err != nil {
			return fmt.Errorf("stop capture: %w", err)
		}
		close(as.chunks)
		<-as.done
		m.mu.Lock()
		as.drained = true
		m.mu.Unlock()
	}

	if err := m.store.MarkState(ctx, as.sess.ID, store.SessionStateStoppedUnsaved); err != nil {
		return err
	}
	m.mu.Lock()
	as.sess.State = store.SessionStateStoppedUnsaved
	if !as.pausedAt.IsZero() {
		as.pausedTotal += time.Since(as.pausedAt)
		as.pausedAt = time.Time{}
	}
	appendErr := as.appendErr
	seq := as.nextSequence
	m.mu.Unlock()

	slog.Info("session stopped", "session_id", as.sess.ID, "chunks", seq)
	if appendErr != nil {
		return appendErr
	}
	return nil
}

// Duration is the recorded time shown to the user: wall clock minus paused
// intervals, on top of the recovered baseline. Advisory only.
func (m *Manager) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return 0
	}
	as := m.active
	elapsed := as.baseElapsed + time.Since(as.startedWall) - as.pausedTotal
	if !as.pausedAt.IsZero() {
		elapsed -= time.Since(as.pausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Finalize reconstructs the session's artifact from its persisted chunks.
// It neither marks the session Saved nor deletes anything; that happens in
// CommitSaved, after the caller's upload has been confirmed.
func (m *Manager) Finalize(ctx context.Context, sessionID, displayName, description string) (*uploader.Artifact, error) {
	if displayName == "" {
		return nil, ErrDisplayNameRequired
	}
	sess, err := m.lookupSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != store.SessionStateStoppedUnsaved {
		return nil, fmt.Errorf("finalize from %s: %w", sess.State, ErrInvalidStateTransition)
	}

	if err := m.store.UpdateMetadata(ctx, store.UpdateMetadataInput{
		SessionID:   sessionID,
		DisplayName: &displayName,
		Description: &description,
	}); err != nil {
		return nil, err
	}

	payloads, err := m.store.ReadAllChunks(ctx, sessionID)
	if err != nil {
		// A gap means data loss; the session stays StoppedUnsaved and the
		// user is offered discard rather than a corrupt artifact.
		slog.Error("finalize failed", "error", err, "session_id", sessionID)
		return nil, err
	}
	var size int
	for _, p := range payloads {
		size += len(p)
	}
	data := make([]byte, 0, size)
	for _, p := range payloads {
		data = append(data, p...)
	}
	slog.Info("artifact reconstructed", "session_id", sessionID, "chunks", len(payloads), "bytes", size)
	return &uploader.Artifact{
		SessionID:   sessionID,
		ContextID:   sess.ContextID,
		Encoding:    sess.Encoding,
		DisplayName: displayName,
		Description: description,
		Data:        data,
	}, nil
}

// CommitSaved is called only after the artifact was durably accepted by the
// upload collaborator. It marks the session Saved and deletes its chunks.
func (m *Manager) CommitSaved(ctx context.Context, sessionID string) error {
	if err := m.store.MarkState(ctx, sessionID, store.SessionStateSaved); err != nil {
		return err
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete saved session: %w", err)
	}
	m.clearIfCurrent(sessionID)
	slog.Info("session saved", "session_id", sessionID)
	return nil
}

// Save runs the whole commit flow: finalize, upload, then CommitSaved. On a
// transient upload failure the chunks stay put and Save can simply be called
// again; nothing is re-captured.
func (m *Manager) Save(ctx context.Context, sessionID, displayName, description string) error {
	artifact, err := m.Finalize(ctx, sessionID, displayName, description)
	if err != nil {
		return err
	}
	if err := m.upl.Upload(ctx, *artifact); err != nil {
		slog.Error("artifact upload failed", "error", err, "session_id", sessionID)
		return err
	}
	return m.CommitSaved(ctx, sessionID)
}

// Discard drops a stopped or recovered session and every chunk it owns.
func (m *Manager) Discard(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if m.active != nil && m.active.sess.ID == sessionID {
		state := m.active.sess.State
		if state == store.SessionStateRecording || state == store.SessionStatePaused {
			m.mu.Unlock()
			return fmt.Errorf("discard from %s: stop first: %w", state, ErrInvalidStateTransition)
		}
	}
	m.mu.Unlock()

	if err := m.store.MarkState(ctx, sessionID, store.SessionStateDiscarded); err != nil {
		return err
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete discarded session: %w", err)
	}
	m.clearIfCurrent(sessionID)
	slog.Info("session discarded", "session_id", sessionID)
	return nil
}

// ListRecoverable returns sessions an unclean exit left behind, excluding
// the session currently live in this process.
func (m *Manager) ListRecoverable(ctx context.Context) ([]store.RecordingSession, error) {
	sessions, err := m.store.ListIncompleteSessions(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	var activeID string
	if m.active != nil {
		activeID = m.active.sess.ID
	}
	m.mu.Unlock()

	candidates := sessions[:0]
	for _, s := range sessions {
		if s.ID != activeID {
			candidates = append(candidates, s)
		}
	}
	return candidates, nil
}

// ContinueRecovered resumes an interrupted session: the chunk sequence picks
// up at the persisted next_sequence, and the displayed duration resumes from
// lastChunkAt-startedAt, so the downtime gap is simply invisible.
func (m *Manager) ContinueRecovered(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.mu.Unlock()

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch sess.State {
	case store.SessionStateRecording, store.SessionStatePaused:
	default:
		return fmt.Errorf("continue from %s: %w", sess.State, ErrInvalidStateTransition)
	}

	handle, err := m.driver.Acquire(ctx, m.constraints())
	if err != nil {
		return err
	}
	if sess.State == store.SessionStatePaused {
		if err := m.store.MarkState(ctx, sessionID, store.SessionStateRecording); err != nil {
			_ = handle.Stop(ctx)
			return err
		}
		sess.State = store.SessionStateRecording
	}

	var baseElapsed time.Duration
	if sess.LastChunkAt != nil {
		baseElapsed = sess.LastChunkAt.Sub(sess.StartedAt)
	}
	if baseElapsed < 0 {
		baseElapsed = 0
	}
	slog.Info("continuing recovered session", "session_id", sessionID,
		"next_sequence", sess.NextSequence, "base_elapsed", baseElapsed.String())
	return m.activate(ctx, sess, handle, sess.NextSequence, baseElapsed)
}

func (m *Manager) lookupSession(ctx context.Context, sessionID string) (*store.RecordingSession, error) {
	m.mu.Lock()
	if m.active != nil && m.active.sess.ID == sessionID {
		snapshot := *m.active.sess
		snapshot.NextSequence = m.active.nextSequence
		m.mu.Unlock()
		return &snapshot, nil
	}
	m.mu.Unlock()
	return m.store.GetSession(ctx, sessionID)
}

func (m *Manager) clearIfCurrent(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.sess.ID == sessionID {
		m.active = nil
	}
}
