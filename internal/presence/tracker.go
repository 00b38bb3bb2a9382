// Package presence maintains the set of currently online peers observed
// over a shared presence topic. The protocol is full-state: every sync
// event replaces the whole online set, never patches it.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"livesync/internal/models"
	"livesync/internal/realtime"
)

// DefaultTopic is the shared presence channel name.
const DefaultTopic = "online_users"

type Config struct {
	SelfID    string
	Transport realtime.PresenceTransport
	Topic     string
}

// Tracker announces its own presence and mirrors the peer set from sync
// snapshots. Offline is only ever learned from a snapshot that no longer
// contains the peer; there is no liveness timeout, so a dropped untrack
// leaves a peer online until the next authoritative sync.
type Tracker struct {
	cfg Config

	mu           sync.RWMutex
	online       map[string]struct{}
	sub          realtime.PresenceSubscription
	joined       bool
	wantAnnounce bool
}

func New(cfg Config) *Tracker {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &Tracker{
		cfg:    cfg,
		online: make(map[string]struct{}),
	}
}

// Join subscribes to the presence topic and, once subscribed, announces
// self as online. Calling Join twice is an error.
func (t *Tracker) Join(ctx context.Context) error {
	t.mu.Lock()
	if t.joined {
		t.mu.Unlock()
		return models.ErrClosed
	}
	t.joined = true
	t.mu.Unlock()

	sub, err := t.cfg.Transport.SubscribePresence(ctx, t.cfg.Topic,
		t.ApplySync,
		func(st realtime.Status) {
			if st != realtime.StatusSubscribed {
				return
			}
			// The status can arrive from the transport's read loop
			// before SubscribePresence returns. Remember it so Join
			// announces once the subscription lands.
			t.mu.Lock()
			sub := t.sub
			if sub == nil {
				t.wantAnnounce = true
			}
			t.mu.Unlock()
			if sub != nil {
				t.announce(ctx, sub)
			}
		},
	)
	if err != nil {
		t.mu.Lock()
		t.joined = false
		t.wantAnnounce = false
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.sub = sub
	pending := t.wantAnnounce
	t.wantAnnounce = false
	t.mu.Unlock()

	if pending {
		t.announce(ctx, sub)
	}
	return nil
}

func (t *Tracker) announce(ctx context.Context, sub realtime.PresenceSubscription) {
	err := sub.Track(ctx, realtime.TrackState{
		UserID:   t.cfg.SelfID,
		OnlineAt: time.Now().UnixMilli(),
		Status:   "online",
	})
	if err != nil {
		slog.Error("presence track failed", "user_id", t.cfg.SelfID, "error", err)
	}
}

// Leave announces departure and drops the subscription. The untrack is
// best effort; peers learn of it from the next sync snapshot either way.
func (t *Tracker) Leave(ctx context.Context) {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.online = make(map[string]struct{})
	t.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Untrack(ctx); err != nil {
		slog.Warn("presence untrack failed", "user_id", t.cfg.SelfID, "error", err)
	}
	_ = sub.Unsubscribe()
}

// ApplySync replaces the online set with the snapshot. An empty snapshot
// clears every previously known peer.
func (t *Tracker) ApplySync(peers []string) {
	next := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		next[p] = struct{}{}
	}

	t.mu.Lock()
	t.online = next
	t.mu.Unlock()
}

func (t *Tracker) IsOnline(peerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[peerID]
	return ok
}

// Online returns the current peer set, sorted.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	peers := make([]string, 0, len(t.online))
	for p := range t.online {
		peers = append(peers, p)
	}
	t.mu.RUnlock()

	sort.Strings(peers)
	return peers
}
