// Package eventbus provides the Bus interface and an in-memory implementation
// for real-time invocation events.
package eventbus

import (
	"sync"

	"github.com/jxucoder/bedrockcall/pkg/model"
)

// All is the topic that receives every published event regardless of
// invocation.
const All = "*"

// Bus provides pub/sub for invocation events.
type Bus interface {
	Subscribe(invocationID string) chan *model.Event
	Unsubscribe(invocationID string, ch chan *model.Event)
	Publish(invocationID string, event *model.Event)
}

// InMemoryBus is the default in-memory Bus implementation.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.Event
}

// NewInMemoryBus creates a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *model.Event),
	}
}

// Subscribe creates a channel that receives events for an invocation, or for
// every invocation when invocationID is All.
func (b *InMemoryBus) Subscribe(invocationID string) chan *model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.Event, 64)
	b.subs[invocationID] = append(b.subs[invocationID], ch)
	return ch
}

// Unsubscribe removes a channel from the invocation's subscribers and closes it.
func (b *InMemoryBus) Unsubscribe(invocationID string, ch chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[invocationID]
	for i, s := range subs {
		if s == ch {
			b.subs[invocationID] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[invocationID]) == 0 {
				delete(b.subs, invocationID)
			}
			close(ch)
			return
		}
	}
}

// Publish sends an event to the invocation's subscribers and to All.
func (b *InMemoryBus) Publish(invocationID string, event *model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	deliver(b.subs[invocationID], event)
	if invocationID != All {
		deliver(b.subs[All], event)
	}
}

func deliver(subs []chan *model.Event, event *model.Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is too slow.
		}
	}
}
