package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum spacing between request starts.
// A single Pacer is shared by every query a client issues.
type Pacer struct {
	interval time.Duration
	clock    Clock
	last     time.Time
	mu       sync.Mutex
}

// New creates a pacer that keeps at least interval between successive Wait returns
func New(interval time.Duration, clock Clock) *Pacer {
	if interval < 0 {
		interval = 0
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Pacer{
		interval: interval,
		clock:    clock,
	}
}

// Interval returns the configured minimum spacing
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks until the minimum interval since the previous request has elapsed,
// then records the current time as the new last request time.
// The lock is held while suspended so concurrent callers queue behind each other.
func (p *Pacer) Wait(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var waited time.Duration
	if !p.last.IsZero() {
		elapsed := p.clock.Now().Sub(p.last)
		if wait := p.interval - elapsed; wait > 0 {
			if err := p.clock.Sleep(ctx, wait); err != nil {
				return 0, err
			}
			waited = wait
		}
	}

	p.last = p.clock.Now()
	return waited, nil
}
