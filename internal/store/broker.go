package store

import (
	"context"
	"sync"
)

// broker fans change signals out to in-process watchers of a room.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[chan struct{}]struct{})}
}

// subscribe registers a watcher until ctx is done. Signals coalesce: a
// watcher that has not drained the previous one misses nothing, it just
// re-reads once.
func (b *broker) subscribe(ctx context.Context, roomID string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[chan struct{}]struct{})
	}
	b.subs[roomID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[roomID], ch)
		if len(b.subs[roomID]) == 0 {
			delete(b.subs, roomID)
		}
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

func (b *broker) publish(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[roomID] {
		signal(ch)
	}
}

// publishAll wakes every watcher of every room.
func (b *broker) publishAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for ch := range subs {
			signal(ch)
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
