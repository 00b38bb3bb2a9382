package realtime

import "time"

// ReconnectPolicy computes the delay before the next resubscription
// attempt. Implementations must be pure: same attempt, same delay.
type ReconnectPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedDelay waits the same duration on every attempt.
type FixedDelay time.Duration

func (d FixedDelay) NextDelay(int) time.Duration {
	return time.Duration(d)
}

// DefaultPolicy matches the observed resubscribe behavior: a fixed two
// second delay independent of attempt count.
var DefaultPolicy ReconnectPolicy = FixedDelay(2 * time.Second)

// Backoff doubles the base delay per attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
