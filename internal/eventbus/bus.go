package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a lightweight, in-memory broadcast used to decouple tasks.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Each subscriber owns a bounded buffered channel registered at Subscribe time.
//   - Slow subscribers drop events (at-most-once per subscriber).
//   - There is no backlog: a subscriber only sees events published after it subscribed.
//
// Separate Bus values never share subscribers, so one value per event kind keeps
// channels independent.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs map[uint64]chan T
	seq  atomic.Uint64

	dropped atomic.Uint64
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: map[uint64]chan T{}}
}

// Publish offers e to every current subscriber without blocking and returns
// how many of them accepted it.
func (b *Bus[T]) Publish(e T) int {
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan T, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, ch := range chs {
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
				delivered++
			default:
				b.dropped.Add(1)
			}
		}()
	}
	return delivered
}

// Subscribe registers a new consumer. Events published from now on are
// delivered on the returned channel until unsubscribe is called.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan T, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

// Next blocks until the next event published after the call, or until ctx ends.
func (b *Bus[T]) Next(ctx context.Context) (T, error) {
	ch, unsub := b.Subscribe(1)
	defer unsub()

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case e := <-ch:
		return e, nil
	}
}

// Subscribers returns the number of registered consumers.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber buffer was full.
func (b *Bus[T]) Dropped() uint64 { return b.dropped.Load() }
