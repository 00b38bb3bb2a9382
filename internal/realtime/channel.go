package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChannelConfig configures one logical live feed.
type ChannelConfig struct {
	Transport Transport
	Topic     Topic
	Handler   func(Event)
	Policy    ReconnectPolicy
	// OnStatusChange is invoked whenever the connectivity indicator flips.
	OnStatusChange func(connected bool)
}

// Channel owns one subscription on a topic and keeps it alive: on channel
// error or timeout it discards the subscription and opens a brand-new one
// under a fresh instance name, with at most one reconnect pending at any
// instant. Retries are unbounded. Close is terminal and idempotent.
type Channel struct {
	cfg    ChannelConfig
	ctx    context.Context
	cancel context.CancelFunc

	// hmu gates handler delivery: deliver holds the read side while the
	// handler runs, Close takes the write side as a barrier so no handler
	// invocation can start or still be running once Close returns.
	hmu sync.RWMutex

	mu        sync.Mutex
	sub       Subscription
	timer     *time.Timer
	attempt   int
	gen       int
	status    Status
	connected bool
	closed    bool
}

// OpenChannel starts the subscription lifecycle. The first connect attempt
// runs before return; failures are retried via the policy, never surfaced.
func OpenChannel(ctx context.Context, cfg ChannelConfig) *Channel {
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		status: StatusConnecting,
	}
	c.connect()
	return c
}

// connect discards any previous subscription and registers a new one under
// a freshly generated instance name. The old subscription is never reused.
func (c *Channel) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if old := c.sub; old != nil {
		c.sub = nil
		go func() { _ = old.Unsubscribe() }()
	}
	c.gen++
	gen := c.gen
	c.status = StatusConnecting
	name := fmt.Sprintf("%s-%s", c.cfg.Topic.Table, uuid.NewString())
	c.mu.Unlock()

	sub, err := c.cfg.Transport.Subscribe(c.ctx, name, c.cfg.Topic,
		func(ev Event) { c.deliver(gen, ev) },
		func(st Status) { c.handleStatus(gen, st) },
	)
	if err != nil {
		slog.Error("subscribe failed", "table", c.cfg.Topic.Table, "error", err)
		c.mu.Lock()
		if !c.closed && gen == c.gen {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		return
	}
	c.sub = sub
	c.mu.Unlock()
}

// deliver runs the handler for events from the current generation only.
// Deliveries from a replaced subscription carry a stale gen and are
// dropped.
func (c *Channel) deliver(gen int, ev Event) {
	c.hmu.RLock()
	defer c.hmu.RUnlock()

	c.mu.Lock()
	ok := !c.closed && gen == c.gen && c.cfg.Handler != nil
	c.mu.Unlock()
	if !ok {
		return
	}
	c.cfg.Handler(ev)
}

func (c *Channel) handleStatus(gen int, st Status) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}

	c.status = st
	wasConnected := c.connected

	switch st {
	case StatusSubscribed:
		c.connected = true
		c.attempt = 0
		c.stopTimerLocked()
	case StatusChannelError, StatusTimedOut:
		c.connected = false
		c.scheduleReconnectLocked()
	case StatusClosed:
		// Server-side close without error. No reconnect.
		c.connected = false
	}

	connected := c.connected
	notify := connected != wasConnected && c.cfg.OnStatusChange != nil
	c.mu.Unlock()

	if notify {
		c.cfg.OnStatusChange(connected)
	}
}

// scheduleReconnectLocked arms the single reconnect timer, replacing any
// previously pending one.
func (c *Channel) scheduleReconnectLocked() {
	c.stopTimerLocked()
	c.attempt++
	delay := c.cfg.Policy.NextDelay(c.attempt)
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.timer = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		c.connect()
	})
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Connected reports the connectivity indicator. Transport failures are
// only ever exposed through this, never as errors.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Status returns the current subscription status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close tears the channel down: the pending reconnect (if any) is
// cancelled and no handler invocation can happen after Close returns.
// Safe to call multiple times.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.status = StatusClosed
	c.connected = false
	c.stopTimerLocked()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	// Wait out in-flight handler invocations. Any deliver that starts
	// after this barrier observes closed and drops the event.
	c.hmu.Lock()
	c.hmu.Unlock()

	c.cancel()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}
