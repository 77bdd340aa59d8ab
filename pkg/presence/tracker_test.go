package presence

import (
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

func TestSessionTransitions(t *testing.T) {
	openStore(t)
	tr := New(5 * time.Minute)
	u := models.UserID("alice")

	tsn := tr.SessionOpened(u)
	if tsn == nil || tsn.NewStatus != models.StatusOnline || tsn.OldStatus != models.StatusOffline {
		t.Fatalf("expected offline->online transition, got %+v", tsn)
	}

	// a second session does not re-transition
	if tsn := tr.SessionOpened(u); tsn != nil {
		t.Fatalf("expected no transition for second session, got %+v", tsn)
	}
	if tr.Sessions(u) != 2 {
		t.Fatalf("expected 2 sessions, got %d", tr.Sessions(u))
	}

	// closing one of two sessions keeps the user online
	if tsn := tr.SessionClosed(u); tsn != nil {
		t.Fatalf("expected no transition while a session remains, got %+v", tsn)
	}
	tsn = tr.SessionClosed(u)
	if tsn == nil || tsn.NewStatus != models.StatusOffline {
		t.Fatalf("expected offline transition on last close, got %+v", tsn)
	}
}

func TestSetStatusEmitsOnlyOnChange(t *testing.T) {
	openStore(t)
	tr := New(5 * time.Minute)
	u := models.UserID("bob")
	tr.SessionOpened(u)

	tsn := tr.SetStatus(u, models.StatusAway)
	if tsn == nil || tsn.OldStatus != models.StatusOnline || tsn.NewStatus != models.StatusAway {
		t.Fatalf("expected online->away, got %+v", tsn)
	}
	if tsn := tr.SetStatus(u, models.StatusAway); tsn != nil {
		t.Fatalf("same-status set should not transition, got %+v", tsn)
	}
}

func TestIsOnlineRequiresReachableStatus(t *testing.T) {
	openStore(t)
	tr := New(5 * time.Minute)
	u := models.UserID("carol")
	tr.SessionOpened(u)

	if !tr.IsOnline(u) {
		t.Fatal("user with live session should be online")
	}
	tr.SetStatus(u, models.StatusBusy)
	if !tr.IsOnline(u) {
		t.Fatal("busy still counts as reachable")
	}
	tr.SetStatus(u, models.StatusOffline)
	if tr.IsOnline(u) {
		t.Fatal("explicit offline status wins even with a live session")
	}
}

func TestIsOnlineGraceWindow(t *testing.T) {
	openStore(t)
	tr := New(5 * time.Minute)
	u := models.UserID("dave")

	base := time.Now()
	now := base
	tr.SetClock(func() time.Time { return now })

	tr.SessionOpened(u)
	tr.SessionClosed(u)
	// closing the last session transitions to offline; a later explicit
	// away status within grace keeps the user visible
	tr.SetStatus(u, models.StatusAway)

	if !tr.IsOnline(u) {
		t.Fatal("reachable status within grace window should count as online")
	}

	now = base.Add(6 * time.Minute)
	if tr.IsOnline(u) {
		t.Fatal("grace window elapsed with no session; user should be offline")
	}
}

func TestMarkOfflineForcesTransition(t *testing.T) {
	openStore(t)
	tr := New(5 * time.Minute)
	u := models.UserID("erin")
	tr.SessionOpened(u)
	tr.SessionOpened(u)

	tsn := tr.MarkOffline(u)
	if tsn == nil || tsn.NewStatus != models.StatusOffline {
		t.Fatalf("expected forced offline transition, got %+v", tsn)
	}
	if tr.Sessions(u) != 0 {
		t.Fatalf("expected session count reset, got %d", tr.Sessions(u))
	}
}

func TestStatusPersisted(t *testing.T) {
	openStore(t)
	if err := store.SaveUser(models.User{ID: "frank", Username: "frank"}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	tr := New(5 * time.Minute)
	tr.SessionOpened("frank")

	u, err := store.GetUser("frank")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Status != models.StatusOnline {
		t.Fatalf("expected persisted online status, got %s", u.Status)
	}
}
