package session

import "sync"

// Cancellation reasons reported by Waiter.CancelReason.
const (
	CancelUnregistered = "unregistered"
	CancelSuperseded   = "superseded"
	CancelExpired      = "expired"
)

// Waiter is the suspension handle attached to a held poll request. A
// signal wakes the poll to re-check its queue; a cancel ends the poll
// without a payload. Waiters are never held across a registry lock.
type Waiter struct {
	signal chan struct{}
	cancel chan struct{}

	mu     sync.Mutex
	reason string
	once   sync.Once
}

// NewWaiter returns an idle waiter.
func NewWaiter() *Waiter {
	return &Waiter{
		signal: make(chan struct{}, 1),
		cancel: make(chan struct{}),
	}
}

// Signal wakes the waiter. Signals are coalesced: waking an
// already-signaled waiter is a no-op, which is safe because the woken
// poll drains everything pending.
func (w *Waiter) Signal() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Cancel ends the wait with the given reason. Idempotent; only the
// first reason is kept.
func (w *Waiter) Cancel(reason string) {
	w.once.Do(func() {
		w.mu.Lock()
		w.reason = reason
		w.mu.Unlock()
		close(w.cancel)
	})
}

// Signaled is closed-over by the poll's select to observe wakeups.
func (w *Waiter) Signaled() <-chan struct{} { return w.signal }

// Cancelled observes cancellation.
func (w *Waiter) Cancelled() <-chan struct{} { return w.cancel }

// CancelReason returns the reason passed to Cancel, or "".
func (w *Waiter) CancelReason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}
