package invalidation

import (
	"context"
	"errors"
	"sync"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/invalidation"
)

var errClosed = errors.New("invalidation bus closed")

// Bus is an in-process implementation of invalidation.Bus for single-instance deployments.
// Publish delivers synchronously to every active subscriber.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(invalidation.Message)
	closed bool
	done   chan struct{}
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]func(invalidation.Message)),
		done: make(chan struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, msg invalidation.Message) error {
	_ = ctx
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	for _, handle := range b.subs {
		handle(msg)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, handle func(invalidation.Message)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = handle
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return nil
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}
