// Package delivery owns the delivery core: the per-recipient queues,
// the presence tracker, the session registry and the fanout that ties
// them together. A single Hub instance is constructed at startup and
// injected into the HTTP handlers; nothing here is package-global.
package delivery

import (
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/queue"
	"chatrelay/pkg/session"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

// Options are the Hub's timing knobs.
type Options struct {
	IdleWindow     time.Duration
	OnlineGrace    time.Duration
	NotifyCapacity int
}

// Hub bundles the delivery components behind one value.
type Hub struct {
	Queue    *queue.MessageQueue
	Presence *presence.Tracker
	Sessions *session.Registry

	opts  Options
	notif *notifyQueue
}

// NewHub constructs the delivery core.
func NewHub(opts Options) *Hub {
	if opts.IdleWindow <= 0 {
		opts.IdleWindow = 5 * time.Minute
	}
	if opts.OnlineGrace <= 0 {
		opts.OnlineGrace = 5 * time.Minute
	}
	return &Hub{
		Queue:    queue.New(),
		Presence: presence.New(opts.OnlineGrace),
		Sessions: session.NewRegistry(opts.IdleWindow),
		opts:     opts,
		notif:    newNotifyQueue(opts.NotifyCapacity),
	}
}

// Close drains the notification worker. Queues are durable; nothing
// else needs flushing.
func (h *Hub) Close() {
	h.notif.close()
}

// RegisterSession creates a session and, if this made the user
// reachable, fans the online transition out to their friends.
func (h *Hub) RegisterSession(userID models.UserID, client models.ClientInfo) models.Session {
	s := h.Sessions.Register(userID, client)
	telemetry.ActiveSessions.Inc()
	if t := h.Presence.SessionOpened(userID); t != nil {
		h.DeliverPresence(*t)
	}
	return s
}

// UnregisterSession removes the session; when it was the user's last,
// the offline transition fans out.
func (h *Hub) UnregisterSession(sessionID string) error {
	s, _, err := h.Sessions.Unregister(sessionID)
	if err != nil {
		return err
	}
	telemetry.ActiveSessions.Dec()
	if t := h.Presence.SessionClosed(s.UserID); t != nil {
		h.DeliverPresence(*t)
	}
	return nil
}

// TouchSession refreshes session activity and the user's lastActive.
func (h *Hub) TouchSession(sessionID string) (models.Session, error) {
	if err := h.Sessions.Touch(sessionID); err != nil {
		return models.Session{}, err
	}
	s, err := h.Sessions.Get(sessionID)
	if err != nil {
		return models.Session{}, err
	}
	h.Presence.Touch(s.UserID)
	return s, nil
}

// SetStatus applies an explicit status change for the session's user
// and fans out the transition when the status actually changed.
func (h *Hub) SetStatus(sessionID string, status models.Status) error {
	s, err := h.TouchSession(sessionID)
	if err != nil {
		return err
	}
	if t := h.Presence.SetStatus(s.UserID, status); t != nil {
		h.DeliverPresence(*t)
	}
	return nil
}

// ExpireIdleSessions removes idle sessions; users whose last session
// expired transition to offline with a friend fanout. Returns how many
// sessions were removed. Only the janitor calls this.
func (h *Hub) ExpireIdleSessions(now time.Time) int {
	expired := h.Sessions.ExpireIdle(now)
	for _, e := range expired {
		telemetry.ActiveSessions.Dec()
		telemetry.JanitorExpired.Inc()
		if e.Remaining == 0 {
			if t := h.Presence.MarkOffline(e.Session.UserID); t != nil {
				h.DeliverPresence(*t)
			}
		}
	}
	return len(expired)
}

// OnlineFriends returns the friends of userID that currently count as
// online, as wire refs with their status.
func (h *Hub) OnlineFriends(userID models.UserID) ([]FriendStatus, error) {
	friends, err := store.Friends(userID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	out := make([]FriendStatus, 0, len(friends))
	for _, f := range friends {
		if !h.Presence.IsOnline(f) {
			continue
		}
		u, err := store.GetUser(f)
		if err != nil {
			logger.Warn("online_friend_lookup_failed", "user", f, "error", err)
			continue
		}
		out = append(out, FriendStatus{UserRef: u.Ref(), Status: h.Presence.Status(f)})
	}
	return out, nil
}

// FriendStatus is the wire shape of an online friend.
type FriendStatus struct {
	models.UserRef
	Status models.Status `json:"status"`
}

// Dropped reports notification records lost to overflow. Test hook.
func (h *Hub) Dropped() uint64 { return h.notif.droppedCount() }
