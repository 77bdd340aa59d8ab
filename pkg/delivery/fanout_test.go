package delivery

import (
	"testing"
	"time"

	"chatrelay/pkg/models"
	"chatrelay/pkg/session"
	"chatrelay/pkg/store"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewHub(Options{})
}

func seedUser(t *testing.T, id models.UserID, friends ...models.UserID) {
	t.Helper()
	if err := store.SaveUser(models.User{ID: id, Username: string(id), Friends: friends}); err != nil {
		t.Fatalf("save user %s: %v", id, err)
	}
}

func TestDeliverMessageReachesRecipientOnly(t *testing.T) {
	h := newTestHub(t)
	seedUser(t, "alice")
	seedUser(t, "bob")

	m := models.Message{ID: "m1", Sender: models.UserRef{ID: "alice", Username: "alice"}, To: "bob", Content: "hi", SentAt: time.Now().UnixNano()}
	if err := store.SaveMessage(m); err != nil {
		t.Fatalf("save message: %v", err)
	}
	h.DeliverMessage(m)

	entries, err := h.Queue.Drain("bob")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(entries) != 1 || entries[0].Envelope.MessageID != "m1" {
		t.Fatalf("bob should have the message entry: %+v", entries)
	}
	if pending, _ := h.Queue.Peek("alice"); pending {
		t.Fatal("sender must not receive their own message")
	}
}

func TestDeliverGroupMessageExcludesSender(t *testing.T) {
	h := newTestHub(t)
	for _, u := range []models.UserID{"alice", "bob", "carol"} {
		seedUser(t, u)
	}
	m := models.Message{ID: "g1", Sender: models.UserRef{ID: "alice"}, GroupID: "grp", Content: "yo", SentAt: time.Now().UnixNano()}
	if err := store.SaveMessage(m); err != nil {
		t.Fatalf("save message: %v", err)
	}
	h.DeliverGroupMessage(m, []models.UserID{"alice", "bob", "carol"})

	for _, u := range []models.UserID{"bob", "carol"} {
		if pending, _ := h.Queue.Peek(u); !pending {
			t.Fatalf("%s should have a pending entry", u)
		}
	}
	if pending, _ := h.Queue.Peek("alice"); pending {
		t.Fatal("sender must be excluded from group fanout")
	}
}

func TestEnqueueHappensBeforeSignal(t *testing.T) {
	h := newTestHub(t)
	seedUser(t, "alice")
	seedUser(t, "bob")

	s := h.Sessions.Register("bob", models.ClientInfo{})
	w := session.NewWaiter()
	if err := h.Sessions.AttachWaiter(s.ID, w); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m := models.Message{ID: "m2", Sender: models.UserRef{ID: "alice"}, To: "bob", Content: "wake", SentAt: time.Now().UnixNano()}
	if err := store.SaveMessage(m); err != nil {
		t.Fatalf("save message: %v", err)
	}
	h.DeliverMessage(m)

	select {
	case <-w.Signaled():
	case <-time.After(time.Second):
		t.Fatal("waiter not signaled by fanout")
	}
	// the signal's entry must be visible to the drain that follows it
	entries, err := h.Queue.Drain("bob")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("woken drain must observe the entry, got %d", len(entries))
	}
}

func TestDeliverPresenceFansToFriends(t *testing.T) {
	h := newTestHub(t)
	seedUser(t, "alice", "bob", "carol")
	seedUser(t, "bob")
	seedUser(t, "carol")

	h.DeliverPresence(models.PresenceTransition{
		Subject:   "alice",
		OldStatus: models.StatusOffline,
		NewStatus: models.StatusOnline,
		At:        time.Now(),
	})

	for _, u := range []models.UserID{"bob", "carol"} {
		entries, err := h.Queue.Drain(u)
		if err != nil {
			t.Fatalf("drain %s: %v", u, err)
		}
		if len(entries) != 1 {
			t.Fatalf("%s expected 1 presence entry, got %d", u, len(entries))
		}
		e := entries[0].Envelope
		if e.Kind != models.EnvelopePresence || e.SubjectID != "alice" || e.NewStatus != models.StatusOnline {
			t.Fatalf("wrong presence envelope: %+v", e)
		}
	}
	// offline friends still got the entry; the subject gets nothing
	if pending, _ := h.Queue.Peek("alice"); pending {
		t.Fatal("subject must not receive their own presence change")
	}
}

func TestNotificationRecordsWritten(t *testing.T) {
	h := newTestHub(t)
	seedUser(t, "alice")
	seedUser(t, "bob")

	m := models.Message{ID: "m3", Sender: models.UserRef{ID: "alice"}, To: "bob", Content: "ping", SentAt: time.Now().UnixNano()}
	if err := store.SaveMessage(m); err != nil {
		t.Fatalf("save message: %v", err)
	}
	h.DeliverMessage(m)
	h.Close() // waits for the side-effect worker to flush

	n, err := store.CountNotifications()
	if err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 notification record, got %d", n)
	}
	if h.Dropped() != 0 {
		t.Fatalf("unexpected dropped notifications: %d", h.Dropped())
	}
}
