package queue

import (
	"fmt"
	"testing"
	"time"

	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func openStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func TestEnqueueDrainOnce(t *testing.T) {
	openStore(t)
	q := New()
	u := models.UserID("alice")

	if err := q.Enqueue(u, models.MessageEnvelope("m1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(u, models.SystemEnvelope("test", "hi", nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	entries, err := q.Drain(u)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Envelope.MessageID != "m1" {
		t.Fatalf("expected message envelope first, got %+v", entries[0].Envelope)
	}

	// a second drain returns nothing: entries were marked delivered
	again, err := q.Drain(u)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty second drain, got %d entries", len(again))
	}
}

func TestPendingDoesNotConsume(t *testing.T) {
	openStore(t)
	q := New()
	u := models.UserID("carol")

	if err := q.Enqueue(u, models.MessageEnvelope("m1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(u, models.SystemEnvelope("test", "hi", nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pend, err := q.Pending(u)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pend) != 2 {
		t.Fatalf("expected 2 pending entries, got %d", len(pend))
	}
	again, err := q.Pending(u)
	if err != nil {
		t.Fatalf("second pending: %v", err)
	}
	if len(again) != 2 {
		t.Fatalf("pending consumed entries: got %d on re-read", len(again))
	}
}

func TestMarkDeliveredConsumesOnlyGivenKeys(t *testing.T) {
	openStore(t)
	q := New()
	u := models.UserID("dave")

	if err := q.Enqueue(u, models.MessageEnvelope("m1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(u, models.MessageEnvelope("m2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pend, err := q.Pending(u)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pend) != 2 {
		t.Fatalf("expected 2 pending entries, got %d", len(pend))
	}

	n, err := q.MarkDelivered(u, [][]byte{pend[0].Key})
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 marked, got %d", n)
	}
	rest, err := q.Drain(u)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(rest) != 1 || rest[0].Envelope.MessageID != "m2" {
		t.Fatalf("expected only m2 left undelivered, got %+v", rest)
	}

	// marking is idempotent against a concurrent drain having won
	n, err = q.MarkDelivered(u, [][]byte{pend[0].Key})
	if err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 re-marked, got %d", n)
	}

	// the idempotency index is released with the mark
	if err := q.Enqueue(u, models.MessageEnvelope("m1")); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	back, err := q.Drain(u)
	if err != nil {
		t.Fatalf("drain after re-enqueue: %v", err)
	}
	if len(back) != 1 || back[0].Envelope.MessageID != "m1" {
		t.Fatalf("expected re-enqueued m1, got %+v", back)
	}
}

func TestEnqueueIdempotentForMessages(t *testing.T) {
	openStore(t)
	q := New()
	u := models.UserID("bob")

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(u, models.MessageEnvelope("dup")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	entries, err := q.Drain(u)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after duplicate enqueues, got %d", len(entries))
	}

	// once delivered, the same message id may be enqueued again
	if err := q.Enqueue(u, models.MessageEnvelope("dup")); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	entries, err = q.Drain(u)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected redelivery after drain, got %d entries", len(entries))
	}
}

func TestDrainPreservesEnqueueOrder(t *testing.T) {
	openStore(t)
	q := New()
	u := models.UserID("carol")

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(u, models.MessageEnvelope(fmt.Sprintf("m%02d", i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	entries, err := q.Drain(u)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	for i, e := range entries {
		want := fmt.Sprintf("m%02d", i)
		if e.Envelope.MessageID != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, e.Envelope.MessageID)
		}
	}
}

func TestQueuesAreIndependentAcrossUsers(t *testing.T) {
	openStore(t)
	q := New()

	if err := q.Enqueue("u1", models.MessageEnvelope("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue("u2", models.MessageEnvelope("b")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	e1, err := q.Drain("u1")
	if err != nil {
		t.Fatalf("drain u1: %v", err)
	}
	if len(e1) != 1 || e1[0].Envelope.MessageID != "a" {
		t.Fatalf("u1 drain wrong: %+v", e1)
	}
	if ok, _ := q.Peek("u2"); !ok {
		t.Fatal("u2 should still have an undelivered entry")
	}
}

func TestPurgeDeliveredKeepsUndelivered(t *testing.T) {
	openStore(t)
	q := New()
	u := models.UserID("dave")

	if err := q.Enqueue(u, models.MessageEnvelope("old")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Drain(u); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := q.Enqueue(u, models.MessageEnvelope("pending")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// cutoff in the future removes the delivered entry only
	n, err := q.PurgeDelivered(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged entry, got %d", n)
	}
	entries, err := q.Drain(u)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(entries) != 1 || entries[0].Envelope.MessageID != "pending" {
		t.Fatalf("undelivered entry should survive purge: %+v", entries)
	}
}

func TestPurgeRespectsCutoff(t *testing.T) {
	openStore(t)
	q := New()
	u := models.UserID("erin")

	if err := q.Enqueue(u, models.MessageEnvelope("recent")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Drain(u); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// cutoff in the past keeps the recently delivered entry
	n, err := q.PurgeDelivered(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing purged, got %d", n)
	}
}
