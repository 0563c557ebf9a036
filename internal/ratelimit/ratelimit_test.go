package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPacerFirstCallDoesNotWait(t *testing.T) {
	clock := NewManualClock(epoch)
	p := New(250*time.Millisecond, clock)

	waited, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited != 0 {
		t.Errorf("first wait: got %v, want 0", waited)
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("expected no sleeps, got %v", clock.Sleeps())
	}
}

func TestPacerWaitsRemainderOfInterval(t *testing.T) {
	tests := []struct {
		name     string
		gap      time.Duration
		wantWait time.Duration
	}{
		{"back to back", 0, 250 * time.Millisecond},
		{"partial gap", 100 * time.Millisecond, 150 * time.Millisecond},
		{"exact interval", 250 * time.Millisecond, 0},
		{"long gap", 2 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewManualClock(epoch)
			p := New(250*time.Millisecond, clock)

			if _, err := p.Wait(context.Background()); err != nil {
				t.Fatalf("first wait: %v", err)
			}
			clock.Advance(tt.gap)

			waited, err := p.Wait(context.Background())
			if err != nil {
				t.Fatalf("second wait: %v", err)
			}
			if waited != tt.wantWait {
				t.Errorf("got wait %v, want %v", waited, tt.wantWait)
			}
		})
	}
}

// Drives the pacer with random caller gaps and checks the spacing invariant
// on every consecutive pair of request starts.
func TestPacerNeverStartsRequestsCloserThanInterval(t *testing.T) {
	const interval = 250 * time.Millisecond
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		clock := NewManualClock(epoch)
		p := New(interval, clock)

		var starts []time.Time
		for i := 0; i < 40; i++ {
			clock.Advance(time.Duration(rng.Int63n(int64(400 * time.Millisecond))))
			if _, err := p.Wait(context.Background()); err != nil {
				t.Fatalf("wait: %v", err)
			}
			starts = append(starts, clock.Now())
		}

		for i := 1; i < len(starts); i++ {
			if gap := starts[i].Sub(starts[i-1]); gap < interval {
				t.Fatalf("trial %d: requests %d and %d only %v apart", trial, i-1, i, gap)
			}
		}
	}
}

func TestPacerSerializesConcurrentCallers(t *testing.T) {
	clock := NewManualClock(epoch)
	p := New(250*time.Millisecond, clock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Wait(context.Background()); err != nil {
				t.Errorf("wait: %v", err)
			}
		}()
	}
	wg.Wait()

	// Seven of the eight callers must have waited a full interval each.
	if got, want := clock.Now().Sub(epoch), 7*250*time.Millisecond; got != want {
		t.Errorf("elapsed: got %v, want %v", got, want)
	}
}

func TestPacerHonoursCancelledContext(t *testing.T) {
	clock := NewManualClock(epoch)
	p := New(250*time.Millisecond, clock)
	if _, err := p.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Wait(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestSystemClockSleep(t *testing.T) {
	start := time.Now()
	if err := (SystemClock{}).Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("sleep returned early")
	}
}
