package delivery

import (
	"sync"
	"sync/atomic"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

const defaultNotifyCapacity = 4096

// notifyQueue is a bounded queue decoupling notification-record writes
// from the delivery path. Fanout never blocks on the notification store:
// on overflow the record is dropped and counted, which loses a
// notification row but never a queued envelope.
type notifyQueue struct {
	ch      chan models.Notification
	dropped uint64
	closed  int32

	intakeWg  sync.WaitGroup
	workerWg  sync.WaitGroup
	closeOnce sync.Once
}

func newNotifyQueue(capacity int) *notifyQueue {
	if capacity <= 0 {
		capacity = defaultNotifyCapacity
	}
	q := &notifyQueue{ch: make(chan models.Notification, capacity)}
	q.workerWg.Add(1)
	go q.worker()
	return q
}

// enqueue hands a notification to the worker without blocking.
func (q *notifyQueue) enqueue(n models.Notification) {
	if atomic.LoadInt32(&q.closed) == 1 {
		return
	}
	q.intakeWg.Add(1)
	defer q.intakeWg.Done()
	if atomic.LoadInt32(&q.closed) == 1 {
		return
	}
	select {
	case q.ch <- n:
	default:
		atomic.AddUint64(&q.dropped, 1)
		telemetry.NotificationsDropped.Inc()
		logger.Warn("notification_dropped", "recipient", n.Recipient, "kind", n.Kind)
	}
}

func (q *notifyQueue) worker() {
	defer q.workerWg.Done()
	for n := range q.ch {
		if err := store.CreateNotification(n); err != nil {
			// delivery already happened; the record is best-effort
			logger.Error("notification_create_failed", "recipient", n.Recipient, "kind", n.Kind, "error", err)
		}
	}
}

// close stops intake and waits for the worker to drain pending records.
func (q *notifyQueue) close() {
	q.closeOnce.Do(func() {
		atomic.StoreInt32(&q.closed, 1)
		q.intakeWg.Wait()
		close(q.ch)
	})
	q.workerWg.Wait()
}

// droppedCount returns how many records were dropped on overflow.
func (q *notifyQueue) droppedCount() uint64 {
	return atomic.LoadUint64(&q.dropped)
}
