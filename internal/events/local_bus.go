package events

import (
	"context"
	"sync"
	"time"
)

// LocalBus is the in-process Bus used when no NATS URL is configured.
// Handlers run in their own goroutines; a slow subscriber cannot stall
// the publisher.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: map[string]map[int]Handler{}}
}

func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.subs[e.Topic]))
	for _, h := range b.subs[e.Topic] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		go h(ctx, e)
	}
	return nil
}

func (b *LocalBus) Subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[int]Handler{}
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		b.mu.Unlock()
	}, nil
}

func (b *LocalBus) Close() error { return nil }
