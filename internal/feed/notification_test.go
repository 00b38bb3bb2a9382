package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"livesync/internal/models"
	"livesync/internal/realtime"
)

type stubNotifStore struct {
	mu        sync.Mutex
	list      []models.Notification
	listErr   error
	listCalls int
	seen      []string
	allSeen   int
}

func (s *stubNotifStore) ListNotifications(string) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]models.Notification(nil), s.list...), nil
}

func (s *stubNotifStore) MarkSeen(_, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, id)
	for i := range s.list {
		if s.list[i].ID == id {
			s.list[i].Seen = true
		}
	}
	return nil
}

func (s *stubNotifStore) MarkAllSeen(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allSeen++
	for i := range s.list {
		s.list[i].Seen = true
	}
	return nil
}

type notifFixture struct {
	feed    *NotificationFeed
	store   *stubNotifStore
	sub     *feedSub
	events  chan Event
	toasted chan models.Notification
}

func openNotifFixture(t *testing.T, store *stubNotifStore) *notifFixture {
	t.Helper()

	tr := newStubTransport()
	toasted := make(chan models.Notification, 10)

	f, err := OpenNotifications(context.Background(), NotificationConfig{
		SelfID:         "u1",
		Transport:      tr,
		Store:          store,
		Policy:         realtime.FixedDelay(time.Hour),
		SettleDelay:    time.Millisecond,
		OnNotification: func(n models.Notification) { toasted <- n },
	})
	if err != nil {
		t.Fatalf("OpenNotifications failed: %v", err)
	}
	t.Cleanup(f.Close)

	events := make(chan Event, 100)
	unsub := f.Subscribe(func(ev Event) { events <- ev })
	t.Cleanup(unsub)

	return &notifFixture{
		feed:    f,
		store:   store,
		sub:     waitFeedSub(t, tr),
		events:  events,
		toasted: toasted,
	}
}

func (fx *notifFixture) deliver(t *testing.T, eventID string, n models.Notification) {
	t.Helper()
	row, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	fx.sub.onEvent(realtime.Event{ID: eventID, Table: "notifications", Row: row})
	time.Sleep(20 * time.Millisecond)
}

func TestNotificationFeed_OpenLoadsList(t *testing.T) {
	store := &stubNotifStore{list: []models.Notification{
		{ID: "2", UserID: "u1", Title: "newest"},
		{ID: "1", UserID: "u1", Title: "older", Seen: true},
	}}
	fx := openNotifFixture(t, store)

	list := fx.feed.Notifications()
	if len(list) != 2 || list[0].Title != "newest" {
		t.Fatalf("unexpected list %v", list)
	}
	if got := fx.feed.UnseenCount(); got != 1 {
		t.Errorf("expected 1 unseen, got %d", got)
	}
	if fx.sub.topic.Table != "notifications" || fx.sub.topic.Filter != "user_id=eq.u1" {
		t.Errorf("unexpected subscription topic %+v", fx.sub.topic)
	}
}

func TestNotificationFeed_InboundRefetches(t *testing.T) {
	store := &stubNotifStore{}
	fx := openNotifFixture(t, store)

	incoming := models.Notification{ID: "1", UserID: "u1", Title: "job done", JobID: "job-7"}
	store.mu.Lock()
	store.list = []models.Notification{incoming}
	store.mu.Unlock()

	fx.deliver(t, "ev1", incoming)

	select {
	case n := <-fx.toasted:
		if n.Title != "job done" || n.JobID != "job-7" {
			t.Errorf("unexpected surfaced notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("notification never surfaced")
	}

	if ev := fx.waitEvent(t, EventNotifications); ev.MessageID != "1" {
		t.Errorf("unexpected refetch event %+v", ev)
	}
	list := fx.feed.Notifications()
	if len(list) != 1 || list[0].ID != "1" {
		t.Errorf("list not refetched: %v", list)
	}
	if got := fx.feed.UnseenCount(); got != 1 {
		t.Errorf("expected 1 unseen, got %d", got)
	}
}

func (fx *notifFixture) waitEvent(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-fx.events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

func TestNotificationFeed_RefetchFailureUnblocksNextEvent(t *testing.T) {
	store := &stubNotifStore{}
	fx := openNotifFixture(t, store)

	store.mu.Lock()
	store.listErr = errors.New("db closed")
	store.mu.Unlock()

	fx.deliver(t, "ev1", models.Notification{ID: "1", UserID: "u1"})
	<-fx.toasted

	// A redelivery of the exact same event still dedupes after the
	// failure: the last-seen identifier is kept.
	fx.deliver(t, "ev1", models.Notification{ID: "1", UserID: "u1"})
	select {
	case <-fx.toasted:
		t.Fatal("redelivered event ran the handler again")
	default:
	}

	// A genuinely new event gets through immediately, no settle wait.
	store.mu.Lock()
	store.listErr = nil
	store.list = []models.Notification{{ID: "2", UserID: "u1", Title: "second"}}
	store.mu.Unlock()

	fx.deliver(t, "ev2", models.Notification{ID: "2", UserID: "u1", Title: "second"})
	<-fx.toasted

	list := fx.feed.Notifications()
	if len(list) != 1 || list[0].ID != "2" {
		t.Errorf("list not refetched after recovery: %v", list)
	}
}

func TestNotificationFeed_MalformedEventDropped(t *testing.T) {
	store := &stubNotifStore{}
	fx := openNotifFixture(t, store)

	before := func() int {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.listCalls
	}()

	fx.sub.onEvent(realtime.Event{ID: "bad", Table: "notifications", Row: json.RawMessage(`not json`)})
	time.Sleep(20 * time.Millisecond)

	store.mu.Lock()
	after := store.listCalls
	store.mu.Unlock()
	if after != before {
		t.Errorf("malformed event triggered a refetch")
	}
}

func TestNotificationFeed_MarkSeen(t *testing.T) {
	store := &stubNotifStore{list: []models.Notification{
		{ID: "1", UserID: "u1"},
		{ID: "2", UserID: "u1"},
	}}
	fx := openNotifFixture(t, store)

	if err := fx.feed.MarkSeen("1"); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if got := fx.feed.UnseenCount(); got != 1 {
		t.Errorf("expected 1 unseen after MarkSeen, got %d", got)
	}
	store.mu.Lock()
	seen := append([]string(nil), store.seen...)
	store.mu.Unlock()
	if len(seen) != 1 || seen[0] != "1" {
		t.Errorf("durable mark missing: %v", seen)
	}

	if err := fx.feed.MarkAllSeen(); err != nil {
		t.Fatalf("MarkAllSeen failed: %v", err)
	}
	if got := fx.feed.UnseenCount(); got != 0 {
		t.Errorf("expected 0 unseen after MarkAllSeen, got %d", got)
	}
}

func TestNotificationFeed_Close(t *testing.T) {
	store := &stubNotifStore{}
	fx := openNotifFixture(t, store)

	fx.feed.Close()
	fx.feed.Close() // idempotent

	fx.sub.onEvent(realtime.Event{ID: "late", Table: "notifications", Row: json.RawMessage(`{"id":"9","userId":"u1"}`)})
	select {
	case n := <-fx.toasted:
		t.Errorf("notification surfaced after Close: %+v", n)
	case <-time.After(20 * time.Millisecond):
	}
}
