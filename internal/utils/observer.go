package utils

import (
	"strconv"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Observable fans values out to subscribers. Subscribers are called synchronously on the
// publishing goroutine, so they must not block.
type Observable[T any] struct {
	subscribers cmap.ConcurrentMap[string, func(T)]
	nextID      atomic.Uint64
}

// NewObservable creates an Observable with no subscribers.
func NewObservable[T any]() *Observable[T] {
	return &Observable[T]{subscribers: cmap.New[func(T)]()}
}

// Subscribe registers fn and returns the function that removes it again.
func (o *Observable[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	key := strconv.FormatUint(o.nextID.Add(1), 10)
	o.subscribers.Set(key, fn)
	return func() { o.subscribers.Remove(key) }
}

// Publish delivers v to every current subscriber.
func (o *Observable[T]) Publish(v T) {
	for item := range o.subscribers.IterBuffered() {
		item.Val(v)
	}
}

// Count returns the number of current subscribers.
func (o *Observable[T]) Count() int {
	return o.subscribers.Count()
}
