package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ecoaudit/voicenote/internal/store"
)

// SwitchDecision is the guard's verdict on a requested context change.
type SwitchDecision int

const (
	// CanSwitch: no recorder state stands in the way.
	CanSwitch SwitchDecision = iota
	// ActiveRecordingBlocks: a capture is running or paused; the switch must
	// not proceed until the recording is stopped. This is a hard block, not
	// a prompt, because a live capture cannot be parked across contexts.
	ActiveRecordingBlocks
	// UnsavedRecordingPrompts: a stopped recording awaits save-or-discard;
	// the caller must get an explicit decision before switching.
	UnsavedRecordingPrompts
)

func (d SwitchDecision) String() string {
	switch d {
	case CanSwitch:
		return "can_switch"
	case ActiveRecordingBlocks:
		return "active_recording_blocks"
	case UnsavedRecordingPrompts:
		return "unsaved_recording_prompts"
	default:
		return "unknown"
	}
}

// Guard keeps a project context change from silently orphaning recorder
// state.
type Guard struct {
	manager *Manager

	mu              sync.Mutex
	activeContextID string
}

func NewGuard(manager *Manager, initialContextID string) *Guard {
	return &Guard{manager: manager, activeContextID: initialContextID}
}

func (g *Guard) ActiveContextID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeContextID
}

// CheckSwitch decides whether the active context may change to newContextID.
func (g *Guard) CheckSwitch(newContextID string) SwitchDecision {
	sess := g.manager.CurrentSession()
	if sess == nil || sess.ContextID == newContextID {
		return CanSwitch
	}
	switch sess.State {
	case store.SessionStateRecording, store.SessionStatePaused:
		return ActiveRecordingBlocks
	case store.SessionStateStoppedUnsaved:
		return UnsavedRecordingPrompts
	default:
		return CanSwitch
	}
}

// ForceSwitch changes the active context unconditionally. It is meant for
// after a prompt has been resolved (save-then-switch or discard-then-switch),
// never as a way around ActiveRecordingBlocks.
func (g *Guard) ForceSwitch(newContextID string) {
	g.mu.Lock()
	previous := g.activeContextID
	g.activeContextID = newContextID
	g.mu.Unlock()
	slog.Info("context switched", "from", previous, "to", newContextID)
}

// SaveAndSwitch resolves an UnsavedRecordingPrompts decision by saving the
// pending session, then switching.
func (g *Guard) SaveAndSwitch(ctx context.Context, newContextID, displayName, description string) error {
	sess := g.manager.CurrentSession()
	if sess != nil && sess.State == store.SessionStateStoppedUnsaved {
		if err := g.manager.Save(ctx, sess.ID, displayName, description); err != nil {
			return err
		}
	}
	g.ForceSwitch(newContextID)
	return nil
}

// DiscardAndSwitch resolves an UnsavedRecordingPrompts decision by dropping
// the pending session, then switching.
func (g *Guard) DiscardAndSwitch(ctx context.Context, newContextID string) error {
	sess := g.manager.CurrentSession()
	if sess != nil && sess.State == store.SessionStateStoppedUnsaved {
		if err := g.manager.Discard(ctx, sess.ID); err != nil {
			return err
		}
	}
	g.ForceSwitch(newContextID)
	return nil
}
