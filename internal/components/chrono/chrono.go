package chrono

import (
	"context"
	"sync"
	"time"
)

// API is the interface that anything depending on the system clock should use, it also covers
// sleeping so deadlines and backoffs can be driven by a fake clock in tests.
type API interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, in which case it returns ctx.Err().
	Sleep(ctx context.Context, d time.Duration) error
}

// StandardImpl is the standard implementation of API using the standard library.
type StandardImpl struct{}

func NewStandardImpl() StandardImpl {
	return StandardImpl{}
}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

func (StandardImpl) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FakeImpl is a clock that only moves when it is slept on or advanced.
type FakeImpl struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	onTick func(d time.Duration)
}

func NewFakeImpl(start time.Time) *FakeImpl {
	return &FakeImpl{now: start}
}

func (f *FakeImpl) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeImpl) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	f.slept = append(f.slept, d)
	tick := f.onTick
	f.mu.Unlock()

	if tick != nil {
		tick(d)
	}
	return ctx.Err()
}

// Advance moves the clock forward without recording a sleep.
func (f *FakeImpl) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// OnSleep registers a callback invoked after every Sleep.
func (f *FakeImpl) OnSleep(fn func(d time.Duration)) {
	f.mu.Lock()
	f.onTick = fn
	f.mu.Unlock()
}

// Slept returns every duration passed to Sleep so far.
func (f *FakeImpl) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)
	return out
}
