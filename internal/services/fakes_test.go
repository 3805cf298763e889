package services

import (
	"sync"

	"github.com/offsync/offsync/internal/capture"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/utils"
)

type fakeTracker struct {
	samples *utils.Observable[models.Sample]
	errs    *utils.Observable[error]

	mu       sync.Mutex
	started  []capture.Mode
	stopped  int
	startErr error
	reported []error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		samples: utils.NewObservable[models.Sample](),
		errs:    utils.NewObservable[error](),
	}
}

func (f *fakeTracker) Subscribe(fn func(models.Sample)) func() { return f.samples.Subscribe(fn) }

func (f *fakeTracker) SubscribeErrors(fn func(error)) func() { return f.errs.Subscribe(fn) }

func (f *fakeTracker) ReportError(err error) {
	f.mu.Lock()
	f.reported = append(f.reported, err)
	f.mu.Unlock()
	f.errs.Publish(err)
}

func (f *fakeTracker) Start(mode capture.Mode, _ models.AccuracyMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, mode)
	return nil
}

func (f *fakeTracker) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeTracker) reportedErrors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.reported...)
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) NotifyCaptured() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
