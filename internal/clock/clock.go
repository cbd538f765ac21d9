package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall time so polling loops and cadence logic are
// deterministic under test.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is cancelled, whichever comes first
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the production clock
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fake is a manually advanced clock for tests. Sleep returns immediately
// after advancing the fake time, so polling loops run without real delay.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock starting at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Advance(d)
	return nil
}

// Advance moves the fake time forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
