package conn

import (
	"time"

	"golang.org/x/time/rate"
)

// Backoff implements the client-only reconnection policy of spec §4.4: an
// exponential schedule derived from (retryCount, lastWasConnected,
// lastWasActive, lastWasSecured), capped at a ceiling, base taken from
// connection_reconnect_timeout_seconds. Spec §9 leaves the exact formula
// to the implementer provided these four inputs are respected; this one
// grows faster when the prior attempt never even connected (suggesting a
// dead name) and resets quickly once a connection reaches Active at
// least once.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration

	retryCount int
	// limiter paces reconnect attempts independently of the backoff
	// delay, bounding worst-case reconnect storms when many pools share
	// one dead peer name.
	limiter *rate.Limiter
}

func NewBackoff(base, ceiling time.Duration) *Backoff {
	return &Backoff{
		Base:    base,
		Ceiling: ceiling,
		limiter: rate.NewLimiter(rate.Every(base), 1),
	}
}

// Next returns the delay before the next reconnect attempt and advances
// internal state. lastWasActive resets the schedule (a peer that was
// briefly healthy is assumed likely to recover quickly); otherwise the
// delay doubles per attempt up to Ceiling.
func (b *Backoff) Next(lastWasConnected, lastWasActive, lastWasSecured bool) time.Duration {
	if lastWasActive {
		b.retryCount = 0
	} else {
		b.retryCount++
	}

	d := b.Base << uint(min(b.retryCount, 16))
	if !lastWasConnected {
		d *= 2 // never even reached TCP connect: back off harder
	}
	if d > b.Ceiling {
		d = b.Ceiling
	}
	_ = lastWasSecured // reserved: a future TLS-aware schedule may weight handshake failures differently
	return d
}

// Allow reports whether the rate limiter permits an attempt right now;
// callers should still respect Next's delay, this is a secondary guard
// against reconfiguration races that could otherwise cause a reconnect
// storm.
func (b *Backoff) Allow() bool { return b.limiter.Allow() }

func (b *Backoff) Reset() { b.retryCount = 0 }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
