// Package feed composes the realtime substrate into the two live data
// paths a client consumes: the direct-chat feed and the notification
// feed. Each feed owns its state, mutates it from change-feed events and
// local operations, and tells subscribers which slice changed.
package feed

import "sync"

type EventKind string

const (
	// EventMessage: the active conversation's message list grew.
	EventMessage EventKind = "message"
	// EventUnread: an unread count changed.
	EventUnread EventKind = "unread"
	// EventContacts: the contact list changed (order, entries or summaries).
	EventContacts EventKind = "contacts"
	// EventNotifications: the notification list was refetched.
	EventNotifications EventKind = "notifications"
	// EventSendConfirmed: a provisional message got its durable identity.
	EventSendConfirmed EventKind = "send_confirmed"
	// EventSendFailed: a send did not reach the store; the provisional
	// record is still in place.
	EventSendFailed EventKind = "send_failed"
	// EventConnectivity: the subscription connectivity indicator flipped.
	EventConnectivity EventKind = "connectivity"
)

// Event describes one observable state change.
type Event struct {
	Kind      EventKind
	ContactID string
	PendingID string
	MessageID string
	Connected bool
	Err       error
}

type observers struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func (o *observers) subscribe(fn func(Event)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.subs == nil {
		o.subs = make(map[int]func(Event))
	}
	id := o.next
	o.next++
	o.subs[id] = fn

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// emit invokes every subscriber outside the registry lock, so a
// subscriber may call back into the feed or unsubscribe itself.
func (o *observers) emit(ev Event) {
	o.mu.Lock()
	fns := make([]func(Event), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
