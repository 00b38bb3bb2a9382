package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSettleDelay is how long the single-flight guard stays held after
// an accepted event finishes processing. It absorbs rapid duplicate
// deliveries from the transport without keeping a persistent dedup set.
const DefaultSettleDelay = time.Second

// Deduplicator wraps an event handler with a single-flight guard. An
// event is dropped while a previous one is still in flight, or when its
// identifier matches the immediately preceding accepted event.
type Deduplicator struct {
	next   func(Event) error
	settle time.Duration

	mu       sync.Mutex
	inFlight bool
	lastID   string
}

func NewDeduplicator(next func(Event) error, settle time.Duration) *Deduplicator {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Deduplicator{next: next, settle: settle}
}

// Handle runs the wrapped handler unless the event is a duplicate. On
// success the guard is released after the settle delay; on handler error
// it is released immediately so a failure can never wedge the pipeline.
func (d *Deduplicator) Handle(ev Event) {
	d.mu.Lock()
	if d.inFlight || ev.ID == d.lastID {
		d.mu.Unlock()
		slog.Debug("duplicate event dropped", "id", ev.ID, "table", ev.Table)
		return
	}
	d.inFlight = true
	d.lastID = ev.ID
	d.mu.Unlock()

	if err := d.next(ev); err != nil {
		slog.Error("event handler failed", "id", ev.ID, "error", err)
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
		return
	}

	time.AfterFunc(d.settle, func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	})
}
