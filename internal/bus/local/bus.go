// Package local provides an in-process implementation of the domain event
// bus for single-instance deployments and tests. It preserves publish order
// per channel, matching the delivery contract of the Redis implementation.
package local

import (
	"context"
	"sync"

	"github.com/rtbsystem/auctiond/internal/domain"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts losing messages, mirroring the at-least-once,
// re-fetch-to-recover contract of the shared bus.
const subscriberBuffer = 256

// Bus is a direct-dispatch domain.EventBus. Publish delivers synchronously,
// under a single lock, to every subscriber of the channel, so subscribers
// observe payloads in exactly the order they were published.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

type subscriber struct {
	ch   chan []byte
	done <-chan struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Publish delivers the payload to all current subscribers of the channel.
// Subscribers whose buffers are full miss the message.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[channel] {
		select {
		case <-sub.done:
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber for the channel. The returned channel
// is closed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := &subscriber{
		ch:   make(chan []byte, subscriberBuffer),
		done: ctx.Done(),
	}

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[channel]
		for i, s := range subs {
			if s == sub {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*Bus)(nil)
