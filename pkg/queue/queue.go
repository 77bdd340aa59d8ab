// Package queue implements the per-recipient FIFO of undelivered
// envelopes. Entries are durable (pebble) so undelivered messages
// survive a restart; delivery marking is atomic with the read so a crash
// in between re-delivers (at-least-once).
package queue

import (
	"hash/fnv"
	"sync"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

const lockStripes = 64

// MessageQueue coordinates access to the durable per-user queues.
// Enqueue and drain are mutually exclusive per user but independent
// across users, via striped locks keyed by user id.
type MessageQueue struct {
	locks [lockStripes]sync.Mutex
}

// New returns a MessageQueue backed by the opened store.
func New() *MessageQueue {
	return &MessageQueue{}
}

func (q *MessageQueue) lock(user models.UserID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return &q.locks[h.Sum32()%lockStripes]
}

// Enqueue appends an envelope to the recipient's queue. If the envelope
// is a message the recipient already has undelivered, the call is a
// no-op so fanout retries cannot duplicate entries.
func (q *MessageQueue) Enqueue(recipient models.UserID, env models.Envelope) error {
	mu := q.lock(recipient)
	mu.Lock()
	defer mu.Unlock()

	if env.Kind == models.EnvelopeMessage && env.MessageID != "" {
		dup, err := store.HasUndeliveredMessage(recipient, env.MessageID)
		if err != nil {
			return err
		}
		if dup {
			logger.Debug("enqueue_duplicate_suppressed", "recipient", recipient, "message", env.MessageID)
			return nil
		}
	}
	return store.AppendQueueEntry(models.QueueEntry{
		Recipient:  recipient,
		Envelope:   env,
		EnqueuedAt: time.Now().UTC().UnixNano(),
	})
}

// Drain returns all undelivered entries for the recipient in enqueue
// order, atomically marking them delivered.
func (q *MessageQueue) Drain(recipient models.UserID) ([]models.QueueEntry, error) {
	mu := q.lock(recipient)
	mu.Lock()
	defer mu.Unlock()
	return store.DrainQueue(recipient, time.Now().UTC().UnixNano())
}

// Pending returns the recipient's undelivered entries in enqueue order
// without marking them delivered. Callers that need the entries resolved
// before consuming them read via Pending and commit via MarkDelivered.
func (q *MessageQueue) Pending(recipient models.UserID) ([]store.PendingEntry, error) {
	mu := q.lock(recipient)
	mu.Lock()
	defer mu.Unlock()
	return store.PendingQueueEntries(recipient)
}

// MarkDelivered commits the delivered mark for entries previously read
// via Pending. Entries already marked by a concurrent drain are skipped.
func (q *MessageQueue) MarkDelivered(recipient models.UserID, keys [][]byte) (int, error) {
	mu := q.lock(recipient)
	mu.Lock()
	defer mu.Unlock()
	return store.MarkEntriesDelivered(recipient, keys, time.Now().UTC().UnixNano())
}

// Peek reports whether the recipient has any undelivered entry.
func (q *MessageQueue) Peek(recipient models.UserID) (bool, error) {
	return store.HasUndelivered(recipient)
}

// PurgeDelivered removes delivered entries older than the cutoff across
// all recipients and returns the count removed. Undelivered entries are
// never purged.
func (q *MessageQueue) PurgeDelivered(olderThan time.Time) (int, error) {
	return store.PurgeDeliveredEntries(olderThan.UTC().UnixNano())
}
