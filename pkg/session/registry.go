// Package session implements the long-poll session registry: sessionId
// to session mapping, waiter attachment, per-user signaling and idle
// expiry. All state is process-local and dies with the process.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// ErrUnknownSession is returned for operations on a session id that is
// not registered (never existed, expired, or unregistered).
var ErrUnknownSession = errors.New("unknown session")

type liveSession struct {
	models.Session
	waiter *Waiter
}

// Registry owns the session map. Critical sections are O(1) map and
// pointer operations; no I/O happens under the lock, and waiter handles
// are only used after the lock is released.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*liveSession
	byUser   map[models.UserID]map[string]struct{}

	idleWindow time.Duration
	now        func() time.Time
}

// NewRegistry returns a Registry expiring sessions idle longer than
// idleWindow.
func NewRegistry(idleWindow time.Duration) *Registry {
	return &Registry{
		sessions:   make(map[string]*liveSession),
		byUser:     make(map[models.UserID]map[string]struct{}),
		idleWindow: idleWindow,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Register mints a session id and stores the session.
func (r *Registry) Register(userID models.UserID, client models.ClientInfo) models.Session {
	now := r.now()
	s := models.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Client:       client,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.mu.Lock()
	r.sessions[s.ID] = &liveSession{Session: s}
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[s.ID] = struct{}{}
	r.mu.Unlock()
	logger.Info("session_registered", "session", s.ID, "user", userID)
	return s
}

// Unregister removes the session and cancels any attached waiter with
// "unregistered". It returns the removed session and how many sessions
// the user still has.
func (r *Registry) Unregister(sessionID string) (models.Session, int, error) {
	r.mu.Lock()
	ls, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return models.Session{}, 0, ErrUnknownSession
	}
	delete(r.sessions, sessionID)
	w := ls.waiter
	ls.waiter = nil
	remaining := r.dropUserSession(ls.UserID, sessionID)
	r.mu.Unlock()

	if w != nil {
		w.Cancel(CancelUnregistered)
	}
	logger.Info("session_unregistered", "session", sessionID, "user", ls.UserID, "remaining", remaining)
	return ls.Session, remaining, nil
}

// dropUserSession removes the session from the per-user index and
// returns the user's remaining session count. Caller holds r.mu.
func (r *Registry) dropUserSession(u models.UserID, sessionID string) int {
	set, ok := r.byUser[u]
	if !ok {
		return 0
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.byUser, u)
		return 0
	}
	return len(set)
}

// Touch updates lastActivity; fails for unknown sessions.
func (r *Registry) Touch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	ls.LastActivity = r.now()
	return nil
}

// Get returns a copy of the session.
func (r *Registry) Get(sessionID string) (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.sessions[sessionID]
	if !ok {
		return models.Session{}, ErrUnknownSession
	}
	return ls.Session, nil
}

// SessionCount returns the user's live session count.
func (r *Registry) SessionCount(u models.UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[u])
}

// AttachWaiter associates a waiter with the session. A second attach
// replaces the prior waiter, cancelling it with "superseded". At most
// one waiter exists per session.
func (r *Registry) AttachWaiter(sessionID string, w *Waiter) error {
	r.mu.Lock()
	ls, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSession
	}
	prev := ls.waiter
	ls.waiter = w
	r.mu.Unlock()

	if prev != nil {
		prev.Cancel(CancelSuperseded)
	}
	return nil
}

// DetachWaiter removes the waiter if it is still the one attached. A
// later attach wins the race; detaching someone else's waiter is a
// no-op.
func (r *Registry) DetachWaiter(sessionID string, w *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ls, ok := r.sessions[sessionID]; ok && ls.waiter == w {
		ls.waiter = nil
	}
}

// Signal wakes all waiters belonging to sessions of the user. No-op
// when the user has no suspended polls.
func (r *Registry) Signal(u models.UserID) {
	r.mu.Lock()
	var waiters []*Waiter
	for id := range r.byUser[u] {
		if ls, ok := r.sessions[id]; ok && ls.waiter != nil {
			waiters = append(waiters, ls.waiter)
		}
	}
	r.mu.Unlock()

	for _, w := range waiters {
		w.Signal()
	}
}

// ExpireIdle removes sessions whose lastActivity is older than the idle
// window as of now, cancelling their waiters with "expired". It returns
// the removed sessions paired with the user's remaining session count.
type Expired struct {
	Session   models.Session
	Remaining int
}

func (r *Registry) ExpireIdle(now time.Time) []Expired {
	r.mu.Lock()
	var out []Expired
	var waiters []*Waiter
	for id, ls := range r.sessions {
		if now.Sub(ls.LastActivity) < r.idleWindow {
			continue
		}
		delete(r.sessions, id)
		if ls.waiter != nil {
			waiters = append(waiters, ls.waiter)
			ls.waiter = nil
		}
		remaining := r.dropUserSession(ls.UserID, id)
		out = append(out, Expired{Session: ls.Session, Remaining: remaining})
	}
	r.mu.Unlock()

	for _, w := range waiters {
		w.Cancel(CancelExpired)
	}
	return out
}
