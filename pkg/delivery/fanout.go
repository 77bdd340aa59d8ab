package delivery

import (
	"time"

	"github.com/google/uuid"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

// Deliver enqueues the envelope onto every recipient's queue, then
// signals each recipient's waiters. The enqueue happens-before the
// signal, so a waiter woken by this call observes the entry on its next
// drain. A failed enqueue for one recipient is logged and does not stop
// the others. When notif is non-nil a notification record is written
// per recipient through the side-effect queue.
func (h *Hub) Deliver(env models.Envelope, recipients []models.UserID, notif *models.Notification) {
	delivered := make([]models.UserID, 0, len(recipients))
	for _, r := range recipients {
		if err := h.Queue.Enqueue(r, env); err != nil {
			logger.Error("fanout_enqueue_failed", "recipient", r, "kind", env.Kind, "error", err)
			continue
		}
		telemetry.FanoutEnvelopes.WithLabelValues(string(env.Kind)).Inc()
		delivered = append(delivered, r)
	}
	for _, r := range delivered {
		h.Sessions.Signal(r)
	}
	if notif != nil {
		for _, r := range delivered {
			n := *notif
			n.ID = uuid.NewString()
			n.Recipient = r
			n.CreatedAt = time.Now().UTC()
			h.notif.enqueue(n)
		}
	}
}

// DeliverMessage fans a persisted private message out to its recipient.
// The sender is not notified; the send API returns the message
// synchronously.
func (h *Hub) DeliverMessage(m models.Message) {
	h.Deliver(models.MessageEnvelope(m.ID), []models.UserID{m.To}, &models.Notification{
		Sender:    m.Sender.ID,
		Kind:      models.NotifMessage,
		Content:   m.Content,
		RelatedID: m.ID,
	})
}

// DeliverGroupMessage fans a persisted group message out to every group
// member except the sender.
func (h *Hub) DeliverGroupMessage(m models.Message, members []models.UserID) {
	recipients := make([]models.UserID, 0, len(members))
	for _, u := range members {
		if u == m.Sender.ID {
			continue
		}
		recipients = append(recipients, u)
	}
	h.Deliver(models.MessageEnvelope(m.ID), recipients, &models.Notification{
		Sender:    m.Sender.ID,
		Kind:      models.NotifGroupMessage,
		Content:   m.Content,
		RelatedID: m.ID,
	})
}

// DeliverSystem fans a system message out to the given recipients and
// records a notification of the given kind.
func (h *Hub) DeliverSystem(systemType, content string, metadata map[string]string, kind models.NotificationKind, sender models.UserID, recipients []models.UserID) {
	h.Deliver(models.SystemEnvelope(systemType, content, metadata), recipients, &models.Notification{
		Sender:  sender,
		Kind:    kind,
		Content: content,
	})
}

// DeliverPresence fans a status transition out to every friend of the
// subject. Friends who are offline still get the queue entry so they
// see the change on their next poll. No notification record is written
// for presence; a failed fanout is not retried.
func (h *Hub) DeliverPresence(t models.PresenceTransition) {
	friends, err := store.Friends(t.Subject)
	if err != nil {
		if err != store.ErrNotFound {
			logger.Error("presence_fanout_friends_failed", "subject", t.Subject, "error", err)
		}
		return
	}
	h.Deliver(models.PresenceEnvelope(t.Subject, t.NewStatus, t.At), friends, nil)
}
