package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/models"
)

// seq reduces key collisions when multiple entries share the same
// nanosecond timestamp; it also fixes arrival order among them.
var queueSeq uint64

func queueKey(user models.UserID, enqNanos int64) []byte {
	s := atomic.AddUint64(&queueSeq, 1)
	return []byte(fmt.Sprintf("queue:%s:%020d-%06d", user, enqNanos, s))
}

func queuePrefix(user models.UserID) []byte {
	return []byte("queue:" + string(user) + ":")
}

func queueIdxKey(user models.UserID, messageID string) []byte {
	return []byte("queueidx:" + string(user) + ":" + messageID)
}

// AppendQueueEntry persists a queue entry in enqueue order. For message
// envelopes it also writes the undelivered index used for idempotency.
// Callers are expected to hold the recipient's queue lock.
func AppendQueueEntry(e models.QueueEntry) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}
	key := queueKey(e.Recipient, e.EnqueuedAt)
	batch := db.NewBatch()
	if err := batch.Set(key, data, nil); err != nil {
		_ = batch.Close()
		return err
	}
	if e.Envelope.Kind == models.EnvelopeMessage && e.Envelope.MessageID != "" {
		if err := batch.Set(queueIdxKey(e.Recipient, e.Envelope.MessageID), key, nil); err != nil {
			_ = batch.Close()
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}
	opsSaved.WithLabelValues("queue_entry").Inc()
	return nil
}

// HasUndeliveredMessage reports whether the recipient already has an
// undelivered entry referencing messageID.
func HasUndeliveredMessage(user models.UserID, messageID string) (bool, error) {
	if db == nil {
		return false, notOpened()
	}
	_, closer, err := db.Get(queueIdxKey(user, messageID))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

// PendingEntry pairs an undelivered entry with its storage key, so the
// delivered mark can be committed after the caller has resolved the
// envelope contents.
type PendingEntry struct {
	Key   []byte
	Entry models.QueueEntry
}

// PendingQueueEntries returns all undelivered entries for user in
// enqueue order without changing their state.
func PendingQueueEntries(user models.UserID) ([]PendingEntry, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := queuePrefix(user)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	var pend []PendingEntry
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var e models.QueueEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			_ = iter.Close()
			return nil, fmt.Errorf("invalid queue entry %s: %w", iter.Key(), err)
		}
		if e.Delivered {
			continue
		}
		pend = append(pend, PendingEntry{Key: append([]byte(nil), iter.Key()...), Entry: e})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return pend, nil
}

// MarkEntriesDelivered commits the delivered mark for the given keys in
// one batch and drops their idempotency index rows. Keys whose entry is
// gone or already delivered are skipped. Returns the number marked.
func MarkEntriesDelivered(user models.UserID, keys [][]byte, deliveredAt int64) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	batch := db.NewBatch()
	marked := 0
	for _, k := range keys {
		val, closer, err := db.Get(k)
		if err == pebble.ErrNotFound {
			continue
		}
		if err != nil {
			_ = batch.Close()
			return 0, err
		}
		var e models.QueueEntry
		uerr := json.Unmarshal(val, &e)
		_ = closer.Close()
		if uerr != nil {
			_ = batch.Close()
			return 0, fmt.Errorf("invalid queue entry %s: %w", k, uerr)
		}
		if e.Delivered {
			continue
		}
		e.Delivered = true
		e.DeliveredAt = deliveredAt
		data, err := json.Marshal(e)
		if err != nil {
			_ = batch.Close()
			return 0, err
		}
		if err := batch.Set(k, data, nil); err != nil {
			_ = batch.Close()
			return 0, err
		}
		if e.Envelope.Kind == models.EnvelopeMessage && e.Envelope.MessageID != "" {
			if err := batch.Delete(queueIdxKey(user, e.Envelope.MessageID), nil); err != nil {
				_ = batch.Close()
				return 0, err
			}
		}
		marked++
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	opsDelivered.Add(float64(marked))
	return marked, nil
}

// DrainQueue returns all undelivered entries for user in enqueue order
// and marks them delivered. A crash between read and mark re-delivers
// rather than losing entries. deliveredAt is recorded for retention
// accounting.
func DrainQueue(user models.UserID, deliveredAt int64) ([]models.QueueEntry, error) {
	pend, err := PendingQueueEntries(user)
	if err != nil || len(pend) == 0 {
		return nil, err
	}
	keys := make([][]byte, 0, len(pend))
	out := make([]models.QueueEntry, 0, len(pend))
	for _, p := range pend {
		keys = append(keys, p.Key)
		e := p.Entry
		e.Delivered = true
		e.DeliveredAt = deliveredAt
		out = append(out, e)
	}
	if _, err := MarkEntriesDelivered(user, keys, deliveredAt); err != nil {
		return nil, err
	}
	return out, nil
}

// HasUndelivered reports whether any undelivered entry exists for user.
func HasUndelivered(user models.UserID) (bool, error) {
	if db == nil {
		return false, notOpened()
	}
	prefix := queuePrefix(user)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return false, err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var e models.QueueEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return false, fmt.Errorf("invalid queue entry %s: %w", iter.Key(), err)
		}
		if !e.Delivered {
			return true, nil
		}
	}
	return false, iter.Error()
}

// PurgeDeliveredEntries hard-deletes delivered entries whose delivery
// time is before cutoff, across all users. Undelivered entries are never
// touched. Returns the number removed.
func PurgeDeliveredEntries(cutoffNanos int64) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	prefix := []byte("queue:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var e models.QueueEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if e.Delivered && e.DeliveredAt > 0 && e.DeliveredAt < cutoffNanos {
			keys = append(keys, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	batch := db.NewBatch()
	for _, k := range keys {
		if err := batch.Delete(k, nil); err != nil {
			_ = batch.Close()
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	opsPurged.WithLabelValues("queue_entry").Add(float64(len(keys)))
	return len(keys), nil
}
