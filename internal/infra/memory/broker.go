package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

const subscriberBuffer = 16

// Broker is an in-process app.Broker. Each subscriber owns a buffered
// channel; a subscriber that falls behind loses its oldest events and sees a
// sequence gap instead of blocking the publisher.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]map[chan domain.Event]struct{})}
}

func (b *Broker) Publish(_ context.Context, evt domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers[evt.GameID] {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- evt
		}
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, gameID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.subscribers[gameID]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		b.subscribers[gameID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.subscribers[gameID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.subscribers, gameID)
		}
	}
	return ch, cancel, nil
}

// Subscribers reports the number of live subscriptions of a game.
func (b *Broker) Subscribers(gameID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[gameID])
}
