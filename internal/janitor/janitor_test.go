package janitor

import (
	"context"
	"testing"
	"time"

	"chatrelay/pkg/config"
	"chatrelay/pkg/delivery"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func setup(t *testing.T) *delivery.Hub {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for _, u := range []models.User{
		{ID: "alice", Username: "alice", Friends: []models.UserID{"bob"}},
		{ID: "bob", Username: "bob", Friends: []models.UserID{"alice"}},
	} {
		if err := store.SaveUser(u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return delivery.NewHub(delivery.Options{IdleWindow: time.Minute})
}

func deliveryCfg() config.DeliveryConfig {
	var d config.DeliveryConfig
	d.Normalize()
	d.SessionSweep = config.Duration(20 * time.Millisecond)
	d.QueueRetention = config.Duration(time.Nanosecond)
	return d
}

func TestRunNowExpiresIdleAndPurges(t *testing.T) {
	hub := setup(t)
	j := New(hub, deliveryCfg(), config.JanitorConfig{})

	// a session whose activity timestamp sits in the past
	past := time.Now().Add(-10 * time.Minute)
	hub.Sessions.SetClock(func() time.Time { return past })
	hub.RegisterSession("alice", models.ClientInfo{})
	hub.Sessions.SetClock(time.Now)
	if _, err := hub.Queue.Drain("bob"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// a delivered queue entry and an old notification for the purge
	if err := hub.Queue.Enqueue("bob", models.MessageEnvelope("old")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := hub.Queue.Drain("bob"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := store.CreateNotification(models.Notification{
		ID: "n-old", Recipient: "bob", Kind: models.NotifMessage,
		CreatedAt: time.Now().Add(-40 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("create notification: %v", err)
	}

	expired, entries, notifs := j.RunNow()
	if expired != 1 {
		t.Fatalf("expected 1 expired session, got %d", expired)
	}
	if entries < 1 {
		t.Fatalf("expected delivered entries purged, got %d", entries)
	}
	if notifs != 1 {
		t.Fatalf("expected 1 purged notification, got %d", notifs)
	}

	// the last session expiring transitions the user offline
	p, err := hub.DrainPayload("bob")
	if err != nil {
		t.Fatalf("drain payload: %v", err)
	}
	if len(p.Notifications) != 1 || p.Notifications[0].Status != models.StatusOffline {
		t.Fatalf("bob should see alice go offline: %+v", p.Notifications)
	}
}

func TestSweepTickerExpiresSessions(t *testing.T) {
	hub := setup(t)
	j := New(hub, deliveryCfg(), config.JanitorConfig{})

	past := time.Now().Add(-10 * time.Minute)
	hub.Sessions.SetClock(func() time.Time { return past })
	s := hub.RegisterSession("alice", models.ClientInfo{})
	hub.Sessions.SetClock(time.Now)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := j.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer j.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := hub.Sessions.Get(s.ID); err != nil {
			return // swept
		}
		select {
		case <-deadline:
			t.Fatal("sweep ticker never expired the idle session")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestRecentDataSurvivesPurge(t *testing.T) {
	hub := setup(t)
	var d config.DeliveryConfig
	d.Normalize()
	j := New(hub, d, config.JanitorConfig{})

	if err := hub.Queue.Enqueue("bob", models.MessageEnvelope("fresh")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.CreateNotification(models.Notification{
		ID: "n-new", Recipient: "bob", Kind: models.NotifMessage, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("create notification: %v", err)
	}

	_, entries, notifs := j.RunNow()
	if entries != 0 || notifs != 0 {
		t.Fatalf("recent data must survive: entries=%d notifs=%d", entries, notifs)
	}
	if pending, _ := hub.Queue.Peek("bob"); !pending {
		t.Fatal("undelivered entry must survive the purge")
	}
}
