package delivery

import (
	"fmt"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

// WireSystemMessage is the poll payload form of a system envelope.
// Event carries the specific system event kind, e.g.
// "friend_request_accepted"; Type is always "system".
type WireSystemMessage struct {
	Type      string            `json:"type"`
	Event     string            `json:"event,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// WirePresence is the poll payload form of a presence envelope.
type WirePresence struct {
	Type      string        `json:"type"`
	UserID    models.UserID `json:"userId"`
	Status    models.Status `json:"status"`
	Timestamp int64         `json:"timestamp"`
}

// PollPayload is the three-list body of a successful poll.
type PollPayload struct {
	Messages       []models.Message    `json:"messages"`
	SystemMessages []WireSystemMessage `json:"systemMessages"`
	Notifications  []WirePresence      `json:"notifications"`
}

// Empty reports whether the payload carries nothing.
func (p *PollPayload) Empty() bool {
	return len(p.Messages) == 0 && len(p.SystemMessages) == 0 && len(p.Notifications) == 0
}

const (
	drainReadAttempts = 3
	drainReadBackoff  = 50 * time.Millisecond
)

// readMessage is indirected so tests can exercise store failure paths.
var readMessage = store.GetMessage

// fetchMessage reads a referenced message with a short retry for
// transient store failures. A missing message is not retried.
func fetchMessage(id string) (models.Message, error) {
	var lastErr error
	backoff := drainReadBackoff
	for i := 0; i < drainReadAttempts; i++ {
		m, err := readMessage(id)
		if err == nil {
			return m, nil
		}
		if err == store.ErrNotFound {
			return models.Message{}, err
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
	}
	return models.Message{}, fmt.Errorf("message read failed after %d attempts: %w", drainReadAttempts, lastErr)
}

// DrainPayload resolves the user's pending entries into the three wire
// lists and only then marks them delivered, so a failed message read
// leaves every entry queued for the next poll. Message envelopes
// referencing a purged message are dropped with a warning; those
// entries are still consumed.
func (h *Hub) DrainPayload(userID models.UserID) (*PollPayload, error) {
	pend, err := h.Queue.Pending(userID)
	if err != nil {
		return nil, err
	}
	p := &PollPayload{
		Messages:       []models.Message{},
		SystemMessages: []WireSystemMessage{},
		Notifications:  []WirePresence{},
	}
	keys := make([][]byte, 0, len(pend))
	for _, pe := range pend {
		e := pe.Entry
		switch e.Envelope.Kind {
		case models.EnvelopeMessage:
			m, err := fetchMessage(e.Envelope.MessageID)
			if err == store.ErrNotFound {
				logger.Warn("drain_message_missing", "user", userID, "message", e.Envelope.MessageID)
				keys = append(keys, pe.Key)
				continue
			}
			if err != nil {
				return nil, err
			}
			p.Messages = append(p.Messages, m)
		case models.EnvelopeSystem:
			p.SystemMessages = append(p.SystemMessages, WireSystemMessage{
				Type:      "system",
				Event:     e.Envelope.SystemType,
				Content:   e.Envelope.Content,
				Metadata:  e.Envelope.Metadata,
				Timestamp: e.EnqueuedAt / int64(time.Millisecond),
			})
		case models.EnvelopePresence:
			p.Notifications = append(p.Notifications, WirePresence{
				Type:      "status_change",
				UserID:    e.Envelope.SubjectID,
				Status:    e.Envelope.NewStatus,
				Timestamp: e.Envelope.At / int64(time.Millisecond),
			})
		default:
			logger.Warn("drain_unknown_envelope", "user", userID, "kind", e.Envelope.Kind)
		}
		keys = append(keys, pe.Key)
	}
	if len(keys) > 0 {
		if _, err := h.Queue.MarkDelivered(userID, keys); err != nil {
			return nil, err
		}
	}
	return p, nil
}
