package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// Broker carries a game's event stream to every subscribed connection. Events
// published for one game must reach each subscriber in publish order.
type Broker interface {
	Publish(ctx context.Context, evt domain.Event) error
	// Subscribe returns the event channel and a cancel function the caller
	// must invoke to release it. The channel is closed on cancel.
	Subscribe(ctx context.Context, gameID string) (<-chan domain.Event, func(), error)
}

// Hub fans game events out through a Broker. Publish is called while the game
// mutex is held, which fixes the relative order of events for every subscriber.
type Hub struct {
	broker Broker
}

func NewHub(broker Broker) *Hub {
	return &Hub{broker: broker}
}

// Publish forwards evt. A broker failure is logged but does not undo the
// state change: subscribers recover by fetching a snapshot.
func (h *Hub) Publish(ctx context.Context, evt domain.Event) {
	if err := h.broker.Publish(ctx, evt); err != nil {
		log.Error().Err(err).
			Str("game_id", evt.GameID).
			Str("type", string(evt.Type)).
			Uint64("seq", evt.Seq).
			Msg("publish game event")
	}
}

// Subscribe attaches a connection to the game's stream. The stream carries no
// backlog; callers pair it with a snapshot.
func (h *Hub) Subscribe(ctx context.Context, gameID string) (<-chan domain.Event, func(), error) {
	ch, cancel, err := h.broker.Subscribe(ctx, gameID)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", gameID, err)
	}
	return ch, cancel, nil
}

// SnapshotTracker follows one subscriber's view of a stream and tells it
// whether an incoming event should be applied.
type SnapshotTracker struct {
	mu    sync.Mutex
	epoch string
	seq   uint64
}

// Observe records a snapshot fetched out of band, e.g. on connect or after a
// gap. It reports whether s is newer than anything the subscriber has seen.
func (t *SnapshotTracker) Observe(s domain.Snapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Epoch != t.epoch || s.Seq > t.seq {
		t.epoch = s.Epoch
		t.seq = s.Seq
		return true
	}
	return false
}

// Apply returns false for duplicates and stale events. It returns
// ErrBroadcastGap when events were skipped; the event itself is still the
// newest state and is recorded as applied.
func (t *SnapshotTracker) Apply(evt domain.Event) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if evt.Epoch != t.epoch {
		// a new owner took over the game; its sequence starts fresh
		t.epoch = evt.Epoch
		t.seq = evt.Seq
		return true, nil
	}
	if evt.Seq <= t.seq {
		return false, nil
	}
	gap := evt.Seq > t.seq+1
	t.seq = evt.Seq
	if gap {
		return true, domain.ErrBroadcastGap
	}
	return true, nil
}
