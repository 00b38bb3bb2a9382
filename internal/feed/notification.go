package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"livesync/internal/models"
	"livesync/internal/realtime"
)

const notificationsTable = "notifications"

// NotificationStore is the durable surface the notification feed consumes.
type NotificationStore interface {
	ListNotifications(userID string) ([]models.Notification, error)
	MarkSeen(userID, id string) error
	MarkAllSeen(userID string) error
}

type NotificationConfig struct {
	SelfID    string
	Transport realtime.Transport
	Store     NotificationStore
	Policy    realtime.ReconnectPolicy
	// SettleDelay for the inbound deduplicator; zero means the default.
	SettleDelay time.Duration
	// OnNotification fires once per accepted inbound notification, before
	// the list refetch. Optional.
	OnNotification func(models.Notification)
}

// NotificationFeed mirrors a user's notification list. An inbound event
// triggers a full refetch rather than a local patch: the store is the
// source of truth, the event is only the wake-up.
type NotificationFeed struct {
	cfg NotificationConfig

	channel *realtime.Channel

	mu            sync.Mutex
	notifications []models.Notification
	closed        bool

	obs observers
}

// OpenNotifications loads the current list and opens the subscription.
func OpenNotifications(ctx context.Context, cfg NotificationConfig) (*NotificationFeed, error) {
	f := &NotificationFeed{cfg: cfg}

	list, err := cfg.Store.ListNotifications(cfg.SelfID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	f.notifications = list

	dedup := realtime.NewDeduplicator(f.handleInbound, cfg.SettleDelay)
	f.channel = realtime.OpenChannel(ctx, realtime.ChannelConfig{
		Transport: cfg.Transport,
		Topic: realtime.Topic{
			Table:     notificationsTable,
			EventType: "INSERT",
			Filter:    "user_id=eq." + cfg.SelfID,
		},
		Handler: dedup.Handle,
		Policy:  cfg.Policy,
		OnStatusChange: func(connected bool) {
			f.obs.emit(Event{Kind: EventConnectivity, Connected: connected})
		},
	})

	return f, nil
}

// handleInbound surfaces the new notification, then refetches the list.
// A refetch error is returned so the deduplicator releases its guard
// immediately and the next delivery retries; the last-seen identifier is
// kept, so an exact redelivery of the failed event still dedupes.
func (f *NotificationFeed) handleInbound(ev realtime.Event) error {
	var n models.Notification
	if err := json.Unmarshal(ev.Row, &n); err != nil {
		slog.Warn("dropping malformed notification event", "id", ev.ID, "error", err)
		return nil
	}

	if f.cfg.OnNotification != nil {
		f.cfg.OnNotification(n)
	}

	list, err := f.cfg.Store.ListNotifications(f.cfg.SelfID)
	if err != nil {
		return fmt.Errorf("failed to refetch notifications: %w", err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.notifications = list
	f.mu.Unlock()

	f.obs.emit(Event{Kind: EventNotifications, MessageID: n.ID})
	return nil
}

func (f *NotificationFeed) Notifications() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.notifications)
}

// UnseenCount counts notifications not yet marked seen.
func (f *NotificationFeed) UnseenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, item := range f.notifications {
		if !item.Seen {
			n++
		}
	}
	return n
}

// MarkSeen marks one notification seen, durably and locally.
func (f *NotificationFeed) MarkSeen(id string) error {
	if err := f.cfg.Store.MarkSeen(f.cfg.SelfID, id); err != nil {
		return fmt.Errorf("failed to mark notification %s seen: %w", id, err)
	}

	f.mu.Lock()
	for i := range f.notifications {
		if f.notifications[i].ID == id {
			f.notifications[i].Seen = true
			break
		}
	}
	f.mu.Unlock()

	f.obs.emit(Event{Kind: EventNotifications, MessageID: id})
	return nil
}

// MarkAllSeen marks every notification seen in one pass.
func (f *NotificationFeed) MarkAllSeen() error {
	if err := f.cfg.Store.MarkAllSeen(f.cfg.SelfID); err != nil {
		return fmt.Errorf("failed to mark notifications seen: %w", err)
	}

	f.mu.Lock()
	for i := range f.notifications {
		f.notifications[i].Seen = true
	}
	f.mu.Unlock()

	f.obs.emit(Event{Kind: EventNotifications})
	return nil
}

// Connected reports the subscription's connectivity indicator.
func (f *NotificationFeed) Connected() bool {
	return f.channel.Connected()
}

// Subscribe registers an observer. The returned function removes it.
func (f *NotificationFeed) Subscribe(fn func(Event)) func() {
	return f.obs.subscribe(fn)
}

// Close tears down the subscription. Safe to call multiple times.
func (f *NotificationFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.channel.Close()
}
