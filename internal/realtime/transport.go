package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a subscription as reported by the
// backend change-feed.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusSubscribed   Status = "subscribed"
	StatusChannelError Status = "channel_error"
	StatusTimedOut     Status = "timed_out"
	StatusClosed       Status = "closed"
)

// Topic names a filtered live channel on the backend change-feed.
type Topic struct {
	Table     string `json:"table"`
	EventType string `json:"eventType"`
	Filter    string `json:"filter,omitempty"`
}

// Event is one inbound change-feed delivery carrying the new row image.
// It is transient: consumed once by the handler chain, then discarded.
type Event struct {
	ID         string          `json:"id"`
	Table      string          `json:"table"`
	Row        json.RawMessage `json:"row"`
	ReceivedAt time.Time       `json:"-"`
}

// Subscription is one live server-side registration.
type Subscription interface {
	Unsubscribe() error
}

// Transport opens filtered subscriptions against the backend change-feed.
// Events for a single subscription arrive in backend emission order; no
// ordering holds across distinct subscriptions. The instance name must be
// unique per registration so a stale server-side subscription can never be
// confused with a fresh one.
type Transport interface {
	Subscribe(ctx context.Context, name string, topic Topic, onEvent func(Event), onStatus func(Status)) (Subscription, error)
}

// TrackState is the self-presence announcement payload.
type TrackState struct {
	UserID   string `json:"userId"`
	OnlineAt int64  `json:"onlineAt"` // Unix timestamp (milliseconds)
	Status   string `json:"status"`
}

// PresenceSubscription is a registration on a shared presence topic.
// Track and Untrack are best-effort announcements; the transport may drop
// an untrack on teardown.
type PresenceSubscription interface {
	Track(ctx context.Context, state TrackState) error
	Untrack(ctx context.Context) error
	Unsubscribe() error
}

// PresenceTransport opens presence subscriptions. Sync callbacks deliver
// the full current peer set, never a delta.
type PresenceTransport interface {
	SubscribePresence(ctx context.Context, name string, onSync func(peers []string), onStatus func(Status)) (PresenceSubscription, error)
}
