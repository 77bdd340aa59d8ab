// Package presence tracks per-user status and emits transition events
// when a status actually changes.
package presence

import (
	"sync"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

type entry struct {
	status     models.Status
	lastActive time.Time
	sessions   int
}

// Tracker owns the in-memory status map. Mutating operations return a
// transition when the status changed; the caller hands it to fanout
// outside the tracker's lock.
type Tracker struct {
	mu    sync.Mutex
	users map[models.UserID]*entry
	grace time.Duration
	now   func() time.Time
}

// New returns a Tracker with the given online-grace window.
func New(grace time.Duration) *Tracker {
	return &Tracker{
		users: make(map[models.UserID]*entry),
		grace: grace,
		now:   time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

func (t *Tracker) get(u models.UserID) *entry {
	e, ok := t.users[u]
	if !ok {
		e = &entry{status: models.StatusOffline}
		t.users[u] = e
	}
	return e
}

// transition mutates the status under the lock and returns the event if
// the status changed. Persisting the status columns happens outside the
// lock; failures there are logged, the in-memory state stays canonical.
func (t *Tracker) transition(u models.UserID, to models.Status) *models.PresenceTransition {
	t.mu.Lock()
	e := t.get(u)
	from := e.status
	now := t.now()
	e.lastActive = now
	if from == to {
		t.mu.Unlock()
		return nil
	}
	e.status = to
	t.mu.Unlock()

	if err := store.SetUserStatus(u, to, now); err != nil && err != store.ErrNotFound {
		logger.Warn("persist_status_failed", "user", u, "status", to, "error", err)
	}
	return &models.PresenceTransition{Subject: u, OldStatus: from, NewStatus: to, At: now}
}

// SessionOpened increments the live-session count and returns an online
// transition when the user was not already reachable.
func (t *Tracker) SessionOpened(u models.UserID) *models.PresenceTransition {
	t.mu.Lock()
	t.get(u).sessions++
	t.mu.Unlock()
	return t.transition(u, models.StatusOnline)
}

// SessionClosed decrements the live-session count. The offline
// transition fires only when the count reaches zero.
func (t *Tracker) SessionClosed(u models.UserID) *models.PresenceTransition {
	t.mu.Lock()
	e := t.get(u)
	if e.sessions > 0 {
		e.sessions--
	}
	remaining := e.sessions
	t.mu.Unlock()
	if remaining > 0 {
		return nil
	}
	return t.transition(u, models.StatusOffline)
}

// MarkOffline forces the user offline regardless of session count. Used
// by the janitor sweep, which is the only caller allowed to do this
// without an explicit unregister.
func (t *Tracker) MarkOffline(u models.UserID) *models.PresenceTransition {
	t.mu.Lock()
	t.get(u).sessions = 0
	t.mu.Unlock()
	return t.transition(u, models.StatusOffline)
}

// SetStatus applies an explicit status change.
func (t *Tracker) SetStatus(u models.UserID, s models.Status) *models.PresenceTransition {
	return t.transition(u, s)
}

// Touch updates lastActive without a status change.
func (t *Tracker) Touch(u models.UserID) {
	t.mu.Lock()
	t.get(u).lastActive = t.now()
	t.mu.Unlock()
}

// IsOnline reports whether the user counts as online: a reachable status
// and either a live session or activity within the grace window.
func (t *Tracker) IsOnline(u models.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[u]
	if !ok {
		return false
	}
	if !e.status.Reachable() {
		return false
	}
	if e.sessions > 0 {
		return true
	}
	return t.now().Sub(e.lastActive) < t.grace
}

// Status returns the user's current status (offline when unknown).
func (t *Tracker) Status(u models.UserID) models.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.users[u]; ok {
		return e.status
	}
	return models.StatusOffline
}

// Sessions returns the live-session count for a user.
func (t *Tracker) Sessions(u models.UserID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.users[u]; ok {
		return e.sessions
	}
	return 0
}
