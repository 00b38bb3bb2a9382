package directory

import (
	"context"
	"testing"
	"time"

	"livesync/internal/models"
)

type fakeDirectory struct {
	profiles map[string]models.Profile
	calls    int
}

func (d *fakeDirectory) Lookup(id string) (models.Profile, error) {
	d.calls++
	p, ok := d.profiles[id]
	if !ok {
		return models.Profile{}, models.ErrNotFound
	}
	return p, nil
}

func TestDisplayName(t *testing.T) {
	dir := &fakeDirectory{profiles: map[string]models.Profile{
		"u1": {ID: "u1", DisplayName: "Alice"},
		"u2": {ID: "u2"}, // profile without a name
	}}

	if got := DisplayName(dir, "u1"); got != "Alice" {
		t.Errorf("expected Alice, got %q", got)
	}
	if got := DisplayName(dir, "u2"); got != "User u2" {
		t.Errorf("expected fallback for empty name, got %q", got)
	}
	if got := DisplayName(dir, "missing"); got != "User missing" {
		t.Errorf("expected fallback for missing profile, got %q", got)
	}
	if got := DisplayName(nil, "u1"); got != "User u1" {
		t.Errorf("expected fallback without a directory, got %q", got)
	}
}

func TestCached_LookupHitsInnerOnce(t *testing.T) {
	inner := &fakeDirectory{profiles: map[string]models.Profile{
		"u1": {ID: "u1", DisplayName: "Alice"},
	}}
	c := NewCached(context.Background(), inner, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := c.Lookup("u1")
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if p.DisplayName != "Alice" {
			t.Errorf("expected Alice, got %q", p.DisplayName)
		}
	}

	if inner.calls != 1 {
		t.Errorf("expected 1 backing lookup, got %d", inner.calls)
	}
}

func TestCached_ErrorNotCached(t *testing.T) {
	inner := &fakeDirectory{profiles: map[string]models.Profile{}}
	c := NewCached(context.Background(), inner, time.Minute)

	if _, err := c.Lookup("u1"); err == nil {
		t.Fatal("expected lookup error")
	}

	// The profile appears later; a failed lookup must not stick.
	inner.profiles["u1"] = models.Profile{ID: "u1", DisplayName: "Alice"}
	p, err := c.Lookup("u1")
	if err != nil {
		t.Fatalf("Lookup after profile appeared: %v", err)
	}
	if p.DisplayName != "Alice" {
		t.Errorf("expected Alice, got %q", p.DisplayName)
	}
}
