package unread

import (
	"errors"
	"testing"

	"livesync/internal/models"
)

type fakeMarkerStore struct {
	supported bool
	counts    map[string]int
	countErr  error
	markErr   error
	marked    [][2]string
}

func (s *fakeMarkerStore) SupportsReadMarkers() bool { return s.supported }

func (s *fakeMarkerStore) CountUnread(fromID, toID string) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.counts[fromID], nil
}

func (s *fakeMarkerStore) MarkRead(fromID, toID string) error {
	s.marked = append(s.marked, [2]string{fromID, toID})
	return s.markErr
}

func contacts(ids ...string) []models.Contact {
	out := make([]models.Contact, len(ids))
	for i, id := range ids {
		out[i] = models.Contact{ID: id, ContactID: id}
	}
	return out
}

func TestCounter_SeedWithMarkers(t *testing.T) {
	store := &fakeMarkerStore{supported: true, counts: map[string]int{"u2": 3}}
	c := NewCounter("u1", store)
	c.Seed(contacts("u2", "u3"))

	if got := c.Get("u2"); got != 3 {
		t.Errorf("expected persisted count 3, got %d", got)
	}
	if got := c.Get("u3"); got != 0 {
		t.Errorf("expected 0 for contact with no unread, got %d", got)
	}
}

func TestCounter_SeedWithoutMarkers(t *testing.T) {
	store := &fakeMarkerStore{supported: false, counts: map[string]int{"u2": 7}}
	c := NewCounter("u1", store)
	c.Seed(contacts("u2"))

	if got := c.Get("u2"); got != 0 {
		t.Errorf("expected zero seed without marker schema, got %d", got)
	}
}

func TestCounter_SeedErrorDegradesToZero(t *testing.T) {
	store := &fakeMarkerStore{supported: true, countErr: errors.New("db closed")}
	c := NewCounter("u1", store)
	c.Seed(contacts("u2"))

	if got := c.Get("u2"); got != 0 {
		t.Errorf("expected degraded zero on seed error, got %d", got)
	}
}

func TestCounter_OnInboundMessage(t *testing.T) {
	c := NewCounter("u1", nil)

	c.OnInboundMessage("u2", false)
	c.OnInboundMessage("u2", false)
	if got := c.Get("u2"); got != 2 {
		t.Errorf("expected 2 after two inactive messages, got %d", got)
	}

	// An active conversation pins the count at zero.
	c.OnInboundMessage("u2", true)
	if got := c.Get("u2"); got != 0 {
		t.Errorf("expected 0 while conversation active, got %d", got)
	}

	// A contact never seeded still counts from zero.
	c.OnInboundMessage("u9", false)
	if got := c.Get("u9"); got != 1 {
		t.Errorf("expected 1 for unseeded contact, got %d", got)
	}
}

func TestCounter_MarkRead(t *testing.T) {
	store := &fakeMarkerStore{supported: true}
	c := NewCounter("u1", store)
	c.OnInboundMessage("u2", false)

	if err := c.MarkRead("u2"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if got := c.Get("u2"); got != 0 {
		t.Errorf("expected 0 after MarkRead, got %d", got)
	}
	if len(store.marked) != 1 || store.marked[0] != [2]string{"u2", "u1"} {
		t.Errorf("unexpected durable mark calls %v", store.marked)
	}
}

func TestCounter_MarkReadLocalResetSurvivesStoreError(t *testing.T) {
	store := &fakeMarkerStore{supported: true, markErr: errors.New("write failed")}
	c := NewCounter("u1", store)
	c.OnInboundMessage("u2", false)

	err := c.MarkRead("u2")
	if err == nil {
		t.Fatal("expected durable write error")
	}
	if got := c.Get("u2"); got != 0 {
		t.Errorf("local count must reset despite store error, got %d", got)
	}
}

func TestCounter_MarkReadSkipsStoreWithoutMarkers(t *testing.T) {
	store := &fakeMarkerStore{supported: false, markErr: errors.New("should not be called")}
	c := NewCounter("u1", store)
	c.OnInboundMessage("u2", false)

	if err := c.MarkRead("u2"); err != nil {
		t.Fatalf("MarkRead without marker schema must not fail: %v", err)
	}
	if len(store.marked) != 0 {
		t.Errorf("store touched without marker schema: %v", store.marked)
	}
}

func TestCounter_Counts(t *testing.T) {
	c := NewCounter("u1", nil)
	c.OnInboundMessage("u2", false)
	c.OnInboundMessage("u3", false)

	counts := c.Counts()
	if counts["u2"] != 1 || counts["u3"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	// Mutating the copy must not leak back.
	counts["u2"] = 99
	if got := c.Get("u2"); got != 1 {
		t.Errorf("Counts returned a live reference, got %d", got)
	}
}
