package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ecoaudit/voicenote/internal/capture"
	"github.com/ecoaudit/voicenote/internal/config"
	"github.com/ecoaudit/voicenote/internal/store"
	"github.com/ecoaudit/voicenote/internal/uploader"
)

type fakeStore struct {
	mu           sync.Mutex
	sessions     map[string]*store.RecordingSession
	chunks       map[string]map[int64][]byte
	nextID       int
	appendFailAt int64
	markStateErr error // consumed by the next MarkState call
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:     make(map[string]*store.RecordingSession),
		chunks:       make(map[string]map[int64][]byte),
		appendFailAt: -1,
	}
}

func (f *fakeStore) CreateSession(_ context.Context, input store.CreateSessionInput) (*store.RecordingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	now := time.Now()
	sess := &store.RecordingSession{
		ID:        fmt.Sprintf("session-%d", f.nextID),
		ContextID: input.ContextID,
		State:     store.SessionStateRecording,
		Encoding:  input.Encoding,
		StartedAt: input.StartedAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.sessions[sess.ID] = sess
	f.chunks[sess.ID] = make(map[int64][]byte)
	copied := *sess
	return &copied, nil
}

func (f *fakeStore) GetSession(_ context.Context, sessionID string) (*store.RecordingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

func (f *fakeStore) AppendChunk(_ context.Context, input store.AppendChunkInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[input.SessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	if input.Sequence == f.appendFailAt {
		return errors.New("disk full")
	}
	if input.Sequence != sess.NextSequence {
		return fmt.Errorf("session %s is not at sequence %d", input.SessionID, input.Sequence)
	}
	payload := make([]byte, len(input.Payload))
	copy(payload, input.Payload)
	f.chunks[input.SessionID][input.Sequence] = payload
	sess.NextSequence = input.Sequence + 1
	t := input.WrittenAt
	sess.LastChunkAt = &t
	return nil
}

func (f *fakeStore) UpdateMetadata(_ context.Context, input store.UpdateMetadataInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[input.SessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	if input.DisplayName != nil {
		sess.DisplayName = *input.DisplayName
	}
	if input.Description != nil {
		sess.Description = *input.Description
	}
	return nil
}

func (f *fakeStore) ReadAllChunks(_ context.Context, sessionID string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	payloads := make([][]byte, 0, sess.NextSequence)
	for seq := int64(0); seq < sess.NextSequence; seq++ {
		payload, ok := f.chunks[sessionID][seq]
		if !ok {
			return nil, fmt.Errorf("session %s sequence %d: %w", sessionID, seq, store.ErrMissingChunk)
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

func (f *fakeStore) ListIncompleteSessions(_ context.Context) ([]store.RecordingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []store.RecordingSession
	for _, sess := range f.sessions {
		if !sess.State.IsTerminal() {
			list = append(list, *sess)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list, nil
}

func (f *fakeStore) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	delete(f.chunks, sessionID)
	return nil
}

func (f *fakeStore) MarkState(_ context.Context, sessionID string, newState store.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markStateErr != nil {
		err := f.markStateErr
		f.markStateErr = nil
		return err
	}
	sess, ok := f.sessions[sessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	if !store.CanTransition(sess.State, newState) {
		return fmt.Errorf("%s -> %s: %w", sess.State, newState, store.ErrInvalidTransition)
	}
	sess.State = newState
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) chunkCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks[sessionID])
}

func (f *fakeStore) dropChunk(sessionID string, seq int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks[sessionID], seq)
}

func (f *fakeStore) seedSession(sess store.RecordingSession, payloads [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := sess
	f.sessions[sess.ID] = &stored
	f.chunks[sess.ID] = make(map[int64][]byte)
	for i, p := range payloads {
		f.chunks[sess.ID][int64(i)] = p
	}
}

type fakeDriver struct {
	mu         sync.Mutex
	handles    []*fakeHandle
	acquireErr error
	startErr   error
}

func (d *fakeDriver) Acquire(_ context.Context, _ capture.Constraints) (capture.Handle, error) {
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	h := &fakeHandle{encoding: "audio/opus;framed", startErr: d.startErr}
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	return h, nil
}

func (d *fakeDriver) lastHandle() *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[len(d.handles)-1]
}

// fakeHandle delivers chunks synchronously through the registered callback,
// the way a capture backend fires interval callbacks. The payloads queued in
// flushOnStop model the encoder tail that only surfaces on the stop signal.
type fakeHandle struct {
	mu          sync.Mutex
	onChunk     capture.ChunkFunc
	paused      bool
	stopped     bool
	encoding    string
	flushOnStop [][]byte
	startErr    error
}

func (h *fakeHandle) Start(_ context.Context, _ time.Duration, onChunk capture.ChunkFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.onChunk = onChunk
	return nil
}

func (h *fakeHandle) emit(payload []byte) {
	h.mu.Lock()
	cb := h.onChunk
	h.mu.Unlock()
	cb(payload)
}

func (h *fakeHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	return nil
}

func (h *fakeHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	return nil
}

func (h *fakeHandle) Stop(_ context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	flush := h.flushOnStop
	cb := h.onChunk
	h.mu.Unlock()
	if cb != nil {
		for _, payload := range flush {
			cb(payload)
		}
	}
	return nil
}

func (h *fakeHandle) SelectedEncoding() string { return h.encoding }

type fakeUploader struct {
	mu        sync.Mutex
	artifacts []uploader.Artifact
	errs      []error
}

func (u *fakeUploader) Upload(_ context.Context, artifact uploader.Artifact) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.errs) > 0 {
		err := u.errs[0]
		u.errs = u.errs[1:]
		if err != nil {
			return err
		}
	}
	u.artifacts = append(u.artifacts, artifact)
	return nil
}

func newTestManager(fs *fakeStore, driver *fakeDriver, upl *fakeUploader) *Manager {
	cfg := &config.Config{
		Env:                "test",
		StorePath:          "unused.db",
		ChunkIntervalMs:    3000,
		CaptureSampleRate:  48000,
		CaptureChannels:    1,
		PreferredEncodings: []string{"audio/opus;framed"},
		UploadURL:          "http://example.invalid/upload",
	}
	return NewManager(cfg, fs, driver, upl)
}

func TestStartRejectsSecondSession(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	if _, err := m.Start(ctx, "project-a"); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if _, err := m.Start(ctx, "project-b"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestStartRejectsWithRecoveryPending(t *testing.T) {
	fs := newFakeStore()
	fs.seedSession(store.RecordingSession{
		ID:           "orphan-1",
		ContextID:    "project-a",
		State:        store.SessionStateRecording,
		Encoding:     "audio/opus;framed",
		StartedAt:    time.Now().Add(-time.Hour),
		NextSequence: 2,
	}, [][]byte{{1}, {2}})
	m := newTestManager(fs, &fakeDriver{}, &fakeUploader{})

	if _, err := m.Start(context.Background(), "project-a"); !errors.Is(err, ErrRecoveryPending) {
		t.Fatalf("expected ErrRecoveryPending, got %v", err)
	}
}

func TestStartDeviceUnavailable(t *testing.T) {
	driver := &fakeDriver{acquireErr: fmt.Errorf("%w: permission denied", capture.ErrDeviceUnavailable)}
	m := newTestManager(newFakeStore(), driver, &fakeUploader{})

	if _, err := m.Start(context.Background(), "project-a"); !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if sess := m.CurrentSession(); sess != nil {
		t.Fatalf("no session should exist after acquisition failure, got %v", sess.ID)
	}
}

func TestStartCleansUpWhenCaptureFailsToStart(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{startErr: errors.New("source gone")}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	if _, err := m.Start(ctx, "project-a"); err == nil {
		t.Fatal("expected start to fail")
	}
	candidates, err := m.ListRecoverable(ctx)
	if err != nil {
		t.Fatalf("list recoverable failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("aborted start must not leave a recovery candidate, got %d", len(candidates))
	}

	// A fresh start must succeed once the source is back.
	driver.startErr = nil
	if _, err := m.Start(ctx, "project-a"); err != nil {
		t.Fatalf("start after recovery failed: %v", err)
	}
}

func TestRecordPauseResumeStopFinalize(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	upl := &fakeUploader{}
	m := newTestManager(fs, driver, upl)
	ctx := context.Background()

	sessionID, err := m.Start(ctx, "project-a")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h := driver.lastHandle()
	h.flushOnStop = [][]byte{{5, 55}}

	h.emit([]byte{0, 10})
	h.emit([]byte{1, 11})
	h.emit([]byte{2, 22})

	if err := m.Pause(ctx); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !h.paused {
		t.Fatal("driver was not paused")
	}
	if err := m.Resume(ctx); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	h.emit([]byte{3, 33})
	h.emit([]byte{4, 44})

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	sess := m.CurrentSession()
	if sess == nil || sess.State != store.SessionStateStoppedUnsaved {
		t.Fatalf("expected stopped_unsaved current session, got %+v", sess)
	}
	if sess.NextSequence != 6 {
		t.Fatalf("expected 6 chunks including the flushed tail, got %d", sess.NextSequence)
	}

	artifact, err := m.Finalize(ctx, sessionID, "site visit", "basement walkthrough")
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	want := []byte{0, 10, 1, 11, 2, 22, 3, 33, 4, 44, 5, 55}
	if !bytes.Equal(artifact.Data, want) {
		t.Fatalf("artifact bytes mismatch: got %v want %v", artifact.Data, want)
	}
	if artifact.Encoding != "audio/opus;framed" {
		t.Fatalf("unexpected artifact encoding: %s", artifact.Encoding)
	}

	// Finalize must not delete anything.
	if got := fs.chunkCount(sessionID); got != 6 {
		t.Fatalf("expected chunks retained after finalize, got %d", got)
	}

	if err := m.CommitSaved(ctx, sessionID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, err := fs.GetSession(context.Background(), sessionID); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected session gone after commit, got %v", err)
	}
	if m.CurrentSession() != nil {
		t.Fatal("current session should be cleared after commit")
	}
}

func TestEmptyChunkRejected(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	sessionID, err := m.Start(ctx, "project-a")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h := driver.lastHandle()
	h.emit([]byte{})
	h.emit(nil)
	h.emit([]byte{7})

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	sess := m.CurrentSession()
	if sess.NextSequence != 1 {
		t.Fatalf("empty chunks must not advance sequence: got %d", sess.NextSequence)
	}
	if got := fs.chunkCount(sessionID); got != 1 {
		t.Fatalf("expected exactly one persisted chunk, got %d", got)
	}
}

func TestStorageWriteFailureDoesNotAdvance(t *testing.T) {
	fs := newFakeStore()
	fs.appendFailAt = 1
	driver := &fakeDriver{}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	sessionID, err := m.Start(ctx, "project-a")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h := driver.lastHandle()
	h.emit([]byte{1})
	h.emit([]byte{2})
	h.emit([]byte{3})

	err = m.Stop(ctx)
	if !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("expected ErrStorageWrite from stop, got %v", err)
	}
	sess, err := fs.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if sess.NextSequence != 1 {
		t.Fatalf("failed chunk must not advance next_sequence: got %d", sess.NextSequence)
	}
	if got := fs.chunkCount(sessionID); got != 1 {
		t.Fatalf("expected only the chunk before the failure, got %d", got)
	}
}

func TestStopRetriesAfterStateWriteFailure(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	sessionID, err := m.Start(ctx, "project-a")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h := driver.lastHandle()
	h.flushOnStop = [][]byte{{7, 77}}
	h.emit([]byte{1})

	fs.markStateErr = errors.New("database is locked")
	if err := m.Stop(ctx); err == nil {
		t.Fatal("expected first stop to surface the state write failure")
	}

	// The capture is already flushed; the retry only redoes the state write.
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("retried stop failed: %v", err)
	}
	sess := m.CurrentSession()
	if sess == nil || sess.State != store.SessionStateStoppedUnsaved {
		t.Fatalf("expected stopped_unsaved after retry, got %+v", sess)
	}
	if got := fs.chunkCount(sessionID); got != 2 {
		t.Fatalf("expected interval chunk plus flushed tail, got %d", got)
	}
}

func TestFinalizeRequiresName(t *testing.T) {
	m := newTestManager(newFakeStore(), &fakeDriver{}, &fakeUploader{})
	if _, err := m.Finalize(context.Background(), "whatever", "", ""); !errors.Is(err, ErrDisplayNameRequired) {
		t.Fatalf("expected ErrDisplayNameRequired, got %v", err)
	}
}

func TestFinalizeFromRecordingRejected(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	sessionID, err := m.Start(ctx, "project-a")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := m.Finalize(ctx, sessionID, "name", ""); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestFinalizeMissingChunkThenDiscard(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	sessionID, err := m.Start(ctx, "project-a")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h := driver.lastHandle()
	h.emit([]byte{1})
	h.emit([]byte{2})
	h.emit([]byte{3})
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	fs.dropChunk(sessionID, 1)
	if _, err := m.Finalize(ctx, sessionID, "name", ""); !errors.Is(err, store.ErrMissingChunk) {
		t.Fatalf("expected ErrMissingChunk, got %v", err)
	}
	sess, err := fs.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if sess.State != store.SessionStateStoppedUnsaved {
		t.Fatalf("session must stay stopped_unsaved after finalize failure, got %s", sess.State)
	}

	if err := m.Discard(ctx, sessionID); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if got := fs.chunkCount(sessionID); got != 0 {
		t.Fatalf("expected zero chunks after discard, got %d", got)
	}
	candidates, err := m.ListRecoverable(ctx)
	if err != nil {
		t.Fatalf("list recoverable failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no recovery candidates after discard, got %d", len(candidates))
	}
}

func TestSaveTransientUploadKeepsChunksAndRetries(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	upl := &fakeUploader{errs: []error{fmt.Errorf("%w: 503", uploader.ErrTransient)}}
	m := newTestManager(fs, driver, upl)
	ctx := context.Background()

	sessionID, err := m.Start(ctx, "project-a")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h := driver.lastHandle()
	h.emit([]byte{9, 9})
	h.emit([]byte{8, 8})
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	err = m.Save(ctx, sessionID, "memo", "")
	if !errors.Is(err, uploader.ErrTransient) {
		t.Fatalf("expected transient upload error, got %v", err)
	}
	if got := fs.chunkCount(sessionID); got != 2 {
		t.Fatalf("chunks must survive a transient upload failure, got %d", got)
	}
	first, err := m.Finalize(ctx, sessionID, "memo", "")
	if err != nil {
		t.Fatalf("finalize after failed upload: %v", err)
	}

	// Retry without re-capturing anything.
	if err := m.Save(ctx, sessionID, "memo", ""); err != nil {
		t.Fatalf("retry save failed: %v", err)
	}
	if len(upl.artifacts) != 1 {
		t.Fatalf("expected exactly one successful upload, got %d", len(upl.artifacts))
	}
	if !bytes.Equal(upl.artifacts[0].Data, first.Data) {
		t.Fatal("retried artifact must be byte-identical to the pre-failure one")
	}
	if _, err := fs.GetSession(ctx, sessionID); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected session deleted after successful commit, got %v", err)
	}
}

func TestSavePermanentUploadKeepsChunks(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	upl := &fakeUploader{errs: []error{fmt.Errorf("%w: 422", uploader.ErrPermanent)}}
	m := newTestManager(fs, driver, upl)
	ctx := context.Background()

	sessionID, err := m.Start(ctx, "project-a")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	driver.lastHandle().emit([]byte{1})
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if err := m.Save(ctx, sessionID, "memo", ""); !errors.Is(err, uploader.ErrPermanent) {
		t.Fatalf("expected permanent upload error, got %v", err)
	}
	// Chunks are never deleted automatically; the user decides next.
	if got := fs.chunkCount(sessionID); got != 1 {
		t.Fatalf("chunks must survive a permanent upload failure, got %d", got)
	}
}

func TestPauseResumeStateChecks(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	if err := m.Pause(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if _, err := m.Start(ctx, "project-a"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := m.Resume(ctx); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition for resume while recording, got %v", err)
	}
	if err := m.Pause(ctx); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := m.Pause(ctx); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition for double pause, got %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop from paused failed: %v", err)
	}
	if err := m.Stop(ctx); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition for double stop, got %v", err)
	}
}

func TestDiscardWhileRecordingRejected(t *testing.T) {
	fs := newFakeStore()
	driver := &fakeDriver{}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	sessionID, err := m.Start(ctx, "project-a")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := m.Discard(ctx, sessionID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestContinueRecoveredContinuesSequence(t *testing.T) {
	fs := newFakeStore()
	startedAt := time.Now().Add(-time.Hour)
	lastChunkAt := startedAt.Add(42 * time.Second)
	fs.seedSession(store.RecordingSession{
		ID:           "session-rec",
		ContextID:    "project-a",
		State:        store.SessionStatePaused,
		Encoding:     "audio/opus;framed",
		StartedAt:    startedAt,
		LastChunkAt:  &lastChunkAt,
		NextSequence: 3,
	}, [][]byte{{0}, {1}, {2}})

	driver := &fakeDriver{}
	m := newTestManager(fs, driver, &fakeUploader{})
	ctx := context.Background()

	candidates, err := m.ListRecoverable(ctx)
	if err != nil {
		t.Fatalf("list recoverable failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "session-rec" {
		t.Fatalf("unexpected recovery candidates: %+v", candidates)
	}

	if err := m.ContinueRecovered(ctx, "session-rec"); err != nil {
		t.Fatalf("continue recovered failed: %v", err)
	}
	sess := m.CurrentSession()
	if sess.State != store.SessionStateRecording {
		t.Fatalf("expected recording state after continue, got %s", sess.State)
	}
	if d := m.Duration(); d < 42*time.Second {
		t.Fatalf("recovered duration baseline lost: %v", d)
	}

	h := driver.lastHandle()
	h.emit([]byte{3})
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	stored, err := fs.GetSession(ctx, "session-rec")
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if stored.NextSequence != 4 {
		t.Fatalf("expected next chunk at sequence 3 and counter 4, got %d", stored.NextSequence)
	}
	payloads, err := fs.ReadAllChunks(ctx, "session-rec")
	if err != nil {
		t.Fatalf("read chunks failed: %v", err)
	}
	if len(payloads) != 4 || !bytes.Equal(payloads[3], []byte{3}) {
		t.Fatalf("recovered append landed wrong: %v", payloads)
	}
}

func TestContinueRecoveredRejectsStoppedSnapshot(t *testing.T) {
	fs := newFakeStore()
	fs.seedSession(store.RecordingSession{
		ID:           "session-stopped",
		ContextID:    "project-a",
		State:        store.SessionStateStoppedUnsaved,
		StartedAt:    time.Now().Add(-time.Hour),
		NextSequence: 1,
	}, [][]byte{{0}})
	m := newTestManager(fs, &fakeDriver{}, &fakeUploader{})

	err := m.ContinueRecovered(context.Background(), "session-stopped")
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestDiscardRecoveredSnapshot(t *testing.T) {
	fs := newFakeStore()
	fs.seedSession(store.RecordingSession{
		ID:           "session-orphan",
		ContextID:    "project-a",
		State:        store.SessionStateRecording,
		StartedAt:    time.Now().Add(-time.Hour),
		NextSequence: 2,
	}, [][]byte{{0}, {1}})
	m := newTestManager(fs, &fakeDriver{}, &fakeUploader{})
	ctx := context.Background()

	if err := m.Discard(ctx, "session-orphan"); err != nil {
		t.Fatalf("discard of recovered snapshot failed: %v", err)
	}
	candidates, err := m.ListRecoverable(ctx)
	if err != nil {
		t.Fatalf("list recoverable failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates left, got %d", len(candidates))
	}
}
