package capture

import (
	"context"
	"sync"
	"time"

	"github.com/offsync/offsync/pkg/location"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeWatch struct {
	ctx     context.Context
	opts    location.Options
	onFix   location.FixHandler
	onError location.ErrorHandler
}

func (w *fakeWatch) cancelled() bool {
	return w.ctx.Err() != nil
}

type fakeSource struct {
	mu         sync.Mutex
	watchErr   error
	watches    []*fakeWatch
	last       location.Fix
	hasLast    bool
	current    location.Fix
	currentErr error
}

func (f *fakeSource) Watch(ctx context.Context, opts location.Options, onFix location.FixHandler, onError location.ErrorHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return f.watchErr
	}
	f.watches = append(f.watches, &fakeWatch{ctx: ctx, opts: opts, onFix: onFix, onError: onError})
	return nil
}

func (f *fakeSource) CurrentPosition(ctx context.Context, opts location.Options) (location.Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.currentErr
}

func (f *fakeSource) LastKnown() (location.Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast
}

func (f *fakeSource) watchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watches)
}

func (f *fakeSource) watch(i int) *fakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches[i]
}

func (f *fakeSource) latest() *fakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches[len(f.watches)-1]
}

type fakePower struct {
	state PowerState
	err   error
}

func (p fakePower) Read() (PowerState, error) {
	return p.state, p.err
}
