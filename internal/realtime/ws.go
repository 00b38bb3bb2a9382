package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errTransportClosed = errors.New("transport closed")

// Wire frames for the websocket change-feed protocol. The client registers
// named channels; the server pushes per-channel status, row events and
// presence snapshots.
type clientFrame struct {
	Action  string      `json:"action"` // subscribe, unsubscribe, presence_subscribe, track, untrack
	Channel string      `json:"channel"`
	Topic   *Topic      `json:"topic,omitempty"`
	State   *TrackState `json:"state,omitempty"`
}

type serverFrame struct {
	Channel string   `json:"channel"`
	Type    string   `json:"type"` // status, event, presence_sync
	Status  Status   `json:"status,omitempty"`
	Event   *Event   `json:"event,omitempty"`
	Peers   []string `json:"peers,omitempty"`
}

// WSTransport implements Transport and PresenceTransport over a single
// websocket connection. All deliveries for one channel are dispatched from
// one read loop, preserving per-subscription FIFO order. When the
// connection drops, every live subscription is told ChannelError and the
// next Subscribe redials.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]*wsSub
	closed bool
}

type wsSub struct {
	t        *WSTransport
	name     string
	onEvent  func(Event)
	onStatus func(Status)
	onSync   func([]string)
}

type wsPresenceSub struct {
	*wsSub
}

// DialWS connects to the change-feed websocket endpoint.
func DialWS(ctx context.Context, url string) (*WSTransport, error) {
	t := &WSTransport{
		url:    url,
		dialer: websocket.DefaultDialer,
		subs:   make(map[string]*wsSub),
	}
	if err := t.ensureConn(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *WSTransport) ensureConn(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errTransportClosed
	}
	if t.conn != nil {
		return nil
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial change-feed: %w", err)
	}
	t.conn = conn
	go t.readLoop(conn)
	return nil
}

func (t *WSTransport) Subscribe(ctx context.Context, name string, topic Topic, onEvent func(Event), onStatus func(Status)) (Subscription, error) {
	sub := &wsSub{t: t, name: name, onEvent: onEvent, onStatus: onStatus}
	if err := t.register(ctx, sub, clientFrame{Action: "subscribe", Channel: name, Topic: &topic}); err != nil {
		return nil, err
	}
	return sub, nil
}

func (t *WSTransport) SubscribePresence(ctx context.Context, name string, onSync func(peers []string), onStatus func(Status)) (PresenceSubscription, error) {
	sub := &wsSub{t: t, name: name, onSync: onSync, onStatus: onStatus}
	if err := t.register(ctx, sub, clientFrame{Action: "presence_subscribe", Channel: name}); err != nil {
		return nil, err
	}
	return &wsPresenceSub{sub}, nil
}

func (t *WSTransport) register(ctx context.Context, sub *wsSub, frame clientFrame) error {
	if err := t.ensureConn(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	t.subs[sub.name] = sub
	t.mu.Unlock()

	if err := t.writeFrame(frame); err != nil {
		t.removeSub(sub.name)
		return err
	}
	return nil
}

func (t *WSTransport) writeFrame(frame clientFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return errors.New("not connected")
	}
	return t.conn.WriteJSON(frame)
}

func (t *WSTransport) removeSub(name string) {
	t.mu.Lock()
	delete(t.subs, name)
	t.mu.Unlock()
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.handleDisconnect(conn, err)
			return
		}
		t.dispatch(frame)
	}
}

func (t *WSTransport) dispatch(frame serverFrame) {
	t.mu.Lock()
	sub := t.subs[frame.Channel]
	t.mu.Unlock()
	if sub == nil {
		return
	}

	switch frame.Type {
	case "status":
		if sub.onStatus != nil {
			sub.onStatus(frame.Status)
		}
	case "event":
		if frame.Event != nil && sub.onEvent != nil {
			ev := *frame.Event
			ev.ReceivedAt = time.Now()
			sub.onEvent(ev)
		}
	case "presence_sync":
		if sub.onSync != nil {
			sub.onSync(frame.Peers)
		}
	}
}

// handleDisconnect reports ChannelError to every live subscription so
// their owners can reopen through a redialed connection.
func (t *WSTransport) handleDisconnect(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	closed := t.closed
	subs := make([]*wsSub, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	if closed {
		return
	}

	slog.Warn("change-feed connection lost", "error", err)
	for _, s := range subs {
		if s.onStatus != nil {
			s.onStatus(StatusChannelError)
		}
	}
}

// Close shuts the transport down. Live subscriptions get no further
// callbacks.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.subs = make(map[string]*wsSub)
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *wsSub) Unsubscribe() error {
	s.t.removeSub(s.name)
	// Best effort: the connection may already be gone.
	_ = s.t.writeFrame(clientFrame{Action: "unsubscribe", Channel: s.name})
	return nil
}

func (s *wsPresenceSub) Track(ctx context.Context, state TrackState) error {
	return s.t.writeFrame(clientFrame{Action: "track", Channel: s.name, State: &state})
}

func (s *wsPresenceSub) Untrack(ctx context.Context) error {
	return s.t.writeFrame(clientFrame{Action: "untrack", Channel: s.name})
}
