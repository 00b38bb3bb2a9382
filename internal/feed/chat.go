package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"livesync/internal/content"
	"livesync/internal/directory"
	"livesync/internal/models"
	"livesync/internal/presence"
	"livesync/internal/realtime"
	"livesync/internal/unread"
)

const messagesTable = "ch_messages"

// ChatStore is the durable surface the chat feed consumes.
type ChatStore interface {
	History(selfID, contactID string) ([]models.Message, error)
	InsertMessage(draft models.Draft) (models.Message, error)
	LastConversations(userID string) ([]models.Contact, error)
	unread.MarkerStore
}

type ChatConfig struct {
	SelfID    string
	Transport realtime.Transport
	// Presence is optional; without it IsOnline always reports false.
	Presence  realtime.PresenceTransport
	Store     ChatStore
	Directory directory.Directory
	Policy    realtime.ReconnectPolicy
	// SettleDelay for the inbound deduplicator; zero means the default.
	SettleDelay time.Duration
}

// ChatFeed keeps the contact list, the active conversation's messages,
// per-contact unread counts and the online peer set in sync with the
// change-feed. All reads return copies; the feed is the only writer of
// its state.
type ChatFeed struct {
	cfg ChatConfig

	counter *unread.Counter
	tracker *presence.Tracker
	channel *realtime.Channel

	mu       sync.Mutex
	contacts []models.Contact
	messages []models.Message
	active   string
	closed   bool

	obs observers
}

// OpenChat loads the contact list, seeds unread counts, joins presence
// and opens the inbound message subscription. The subscription reconnects
// on its own; a failed presence join degrades to everyone-offline rather
// than failing the open.
func OpenChat(ctx context.Context, cfg ChatConfig) (*ChatFeed, error) {
	f := &ChatFeed{
		cfg:     cfg,
		counter: unread.NewCounter(cfg.SelfID, cfg.Store),
	}

	contacts, err := cfg.Store.LastConversations(cfg.SelfID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	for i := range contacts {
		contacts[i].DisplayName = f.resolveName(contacts[i].ContactID)
	}
	f.contacts = contacts
	f.counter.Seed(contacts)

	if cfg.Presence != nil {
		f.tracker = presence.New(presence.Config{SelfID: cfg.SelfID, Transport: cfg.Presence})
		if err := f.tracker.Join(ctx); err != nil {
			slog.Warn("presence join failed", "user_id", cfg.SelfID, "error", err)
		}
	}

	dedup := realtime.NewDeduplicator(f.handleInbound, cfg.SettleDelay)
	f.channel = realtime.OpenChannel(ctx, realtime.ChannelConfig{
		Transport: cfg.Transport,
		Topic: realtime.Topic{
			Table:     messagesTable,
			EventType: "INSERT",
			Filter:    "to_id=eq." + cfg.SelfID,
		},
		Handler: dedup.Handle,
		Policy:  cfg.Policy,
		OnStatusChange: func(connected bool) {
			f.obs.emit(Event{Kind: EventConnectivity, Connected: connected})
		},
	})

	return f, nil
}

func (f *ChatFeed) resolveName(id string) string {
	return content.SanitizeName(directory.DisplayName(f.cfg.Directory, id))
}

// handleInbound applies one change-feed message event. A malformed row is
// dropped with a warning; it must never wedge the pipeline. Whether the
// conversation is active is decided here, at delivery time, not when the
// event was emitted.
func (f *ChatFeed) handleInbound(ev realtime.Event) error {
	var msg models.Message
	if err := json.Unmarshal(ev.Row, &msg); err != nil {
		slog.Warn("dropping malformed message event", "id", ev.ID, "error", err)
		return nil
	}
	if msg.FromID == "" || msg.FromID == f.cfg.SelfID {
		return nil
	}
	msg.Body = content.SanitizeBody(msg.Body)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	activeConv := f.active == msg.FromID
	if activeConv {
		f.messages = append(f.messages, msg)
	}
	f.counter.OnInboundMessage(msg.FromID, activeConv)
	known := f.touchContactLocked(msg.FromID, msg.Body, msg.CreatedAt)
	f.mu.Unlock()

	if !known {
		// Unknown sender: resolve the profile outside the lock, then
		// prepend a contact entry keyed by the message id.
		name := f.resolveName(msg.FromID)
		f.mu.Lock()
		if !f.closed && f.indexOfContactLocked(msg.FromID) < 0 {
			f.contacts = append([]models.Contact{{
				ID:          msg.ID,
				ContactID:   msg.FromID,
				DisplayName: name,
				LastBody:    msg.Body,
				LastAt:      msg.CreatedAt,
			}}, f.contacts...)
		}
		f.mu.Unlock()
	}

	if activeConv {
		f.obs.emit(Event{Kind: EventMessage, ContactID: msg.FromID, MessageID: msg.ID})
	} else {
		f.obs.emit(Event{Kind: EventUnread, ContactID: msg.FromID})
	}
	f.obs.emit(Event{Kind: EventContacts, ContactID: msg.FromID})
	return nil
}

// touchContactLocked updates an existing contact's last-message summary
// in place and reports whether the contact was found. Existing contacts
// keep their list position.
func (f *ChatFeed) touchContactLocked(contactID, body string, at int64) bool {
	i := f.indexOfContactLocked(contactID)
	if i < 0 {
		return false
	}
	f.contacts[i].LastBody = body
	f.contacts[i].LastAt = at
	return true
}

func (f *ChatFeed) indexOfContactLocked(contactID string) int {
	for i := range f.contacts {
		if f.contacts[i].ContactID == contactID {
			return i
		}
	}
	return -1
}

// SelectConversation makes contactID the active conversation: history is
// loaded, the unread count resets and, for a peer with no prior
// conversation, a provisional contact entry is prepended. A failed
// durable read-marker write is returned after the local state is already
// updated.
func (f *ChatFeed) SelectConversation(contactID string) error {
	history, err := f.cfg.Store.History(f.cfg.SelfID, contactID)
	if err != nil {
		return fmt.Errorf("failed to load history with %s: %w", contactID, err)
	}
	name := f.resolveName(contactID)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return models.ErrClosed
	}
	f.active = contactID
	f.messages = history
	if f.indexOfContactLocked(contactID) < 0 {
		// No conversation yet. The provisional identifier is promoted to
		// the first durable message id when a send round-trips.
		f.contacts = append([]models.Contact{{
			ID:          newTempID(),
			ContactID:   contactID,
			DisplayName: name,
			LastAt:      time.Now().UnixMilli(),
		}}, f.contacts...)
	}
	f.mu.Unlock()

	err = f.counter.MarkRead(contactID)

	f.obs.emit(Event{Kind: EventUnread, ContactID: contactID})
	f.obs.emit(Event{Kind: EventContacts, ContactID: contactID})
	return err
}

// CloseConversation deactivates the current conversation; subsequent
// inbound messages from that peer count as unread again.
func (f *ChatFeed) CloseConversation() {
	f.mu.Lock()
	f.active = ""
	f.messages = nil
	f.mu.Unlock()
}

// SendMessage appends a provisional message under a temp identifier,
// updates the contact summary and kicks off the durable write. It
// returns the pending identifier immediately.
func (f *ChatFeed) SendMessage(body string) (string, error) {
	body = content.SanitizeBody(body)
	if body == "" {
		return "", fmt.Errorf("empty message body")
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return "", models.ErrClosed
	}
	toID := f.active
	if toID == "" {
		f.mu.Unlock()
		return "", fmt.Errorf("no conversation selected")
	}

	pendingID := newTempID()
	now := time.Now().UnixMilli()
	f.messages = append(f.messages, models.Message{
		ID:        pendingID,
		FromID:    f.cfg.SelfID,
		ToID:      toID,
		Body:      body,
		CreatedAt: now,
	})
	f.touchContactLocked(toID, body, now)
	f.mu.Unlock()

	f.obs.emit(Event{Kind: EventMessage, ContactID: toID, MessageID: pendingID})
	f.obs.emit(Event{Kind: EventContacts, ContactID: toID})

	go f.confirmSend(pendingID, models.Draft{FromID: f.cfg.SelfID, ToID: toID, Body: body})
	return pendingID, nil
}

func (f *ChatFeed) confirmSend(pendingID string, draft models.Draft) {
	durable, err := f.cfg.Store.InsertMessage(draft)
	if err != nil {
		// The provisional record stays in place; retrying is the
		// caller's decision.
		slog.Error("send failed", "pending_id", pendingID, "to_id", draft.ToID, "error", err)
		f.obs.emit(Event{Kind: EventSendFailed, ContactID: draft.ToID, PendingID: pendingID, Err: err})
		return
	}

	f.mu.Lock()
	for i := range f.messages {
		if f.messages[i].ID == pendingID {
			// Identity substitution at the same position: the id and
			// timestamp change, the displayed order never does.
			f.messages[i].ID = durable.ID
			f.messages[i].CreatedAt = durable.CreatedAt
			break
		}
	}
	// Promote a provisional contact entry in the same critical section,
	// so no reader sees a durable message next to a temp contact id.
	if i := f.indexOfContactLocked(draft.ToID); i >= 0 && models.IsTempID(f.contacts[i].ID) {
		f.contacts[i].ID = durable.ID
	}
	f.mu.Unlock()

	f.obs.emit(Event{
		Kind:      EventSendConfirmed,
		ContactID: draft.ToID,
		PendingID: pendingID,
		MessageID: durable.ID,
	})
}

// MarkRead resets the unread count for contactID. The local reset always
// happens; the durable write error, if any, is returned.
func (f *ChatFeed) MarkRead(contactID string) error {
	err := f.counter.MarkRead(contactID)
	f.obs.emit(Event{Kind: EventUnread, ContactID: contactID})
	return err
}

func (f *ChatFeed) UnreadCount(contactID string) int {
	return f.counter.Get(contactID)
}

// UnreadCounts returns a copy of the whole mapping.
func (f *ChatFeed) UnreadCounts() map[string]int {
	return f.counter.Counts()
}

func (f *ChatFeed) IsOnline(peerID string) bool {
	if f.tracker == nil {
		return false
	}
	return f.tracker.IsOnline(peerID)
}

// OnlinePeers returns the current online set, sorted.
func (f *ChatFeed) OnlinePeers() []string {
	if f.tracker == nil {
		return nil
	}
	return f.tracker.Online()
}

func (f *ChatFeed) Contacts() []models.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.contacts)
}

// SearchContacts filters the contact list by a case-insensitive query
// over display names and identifiers.
func (f *ChatFeed) SearchContacts(query string) []models.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Contact
	for _, c := range f.contacts {
		if c.Matches(query) {
			out = append(out, c)
		}
	}
	return out
}

func (f *ChatFeed) Messages() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages)
}

func (f *ChatFeed) ActiveConversation() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Connected reports the message subscription's connectivity indicator.
func (f *ChatFeed) Connected() bool {
	return f.channel.Connected()
}

// Subscribe registers an observer. The returned function removes it.
func (f *ChatFeed) Subscribe(fn func(Event)) func() {
	return f.obs.subscribe(fn)
}

// Close tears down the subscription and leaves presence. After Close
// returns no handler runs and no observer fires from inbound events.
// Safe to call multiple times.
func (f *ChatFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.channel.Close()
	if f.tracker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.tracker.Leave(ctx)
	}
}

func newTempID() string {
	return models.TempIDPrefix + ulid.Make().String()
}
