package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

const subscriberBuffer = 16

// Broker fans game events out over Redis pub/sub so every instance serving
// connections of a game sees the same stream.
// Channel per game: game:{gameID}:events
type Broker struct {
	client *redis.Client
}

func NewBroker(client *redis.Client) *Broker {
	return &Broker{client: client}
}

func (b *Broker) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.client.Publish(ctx, channel(evt.GameID), payload).Err()
}

func (b *Broker) Subscribe(ctx context.Context, gameID string) (<-chan domain.Event, func(), error) {
	sub := b.client.Subscribe(ctx, channel(gameID))
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", gameID, err)
	}

	out := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Warn().Err(err).Str("game_id", gameID).Msg("decode event")
				continue
			}
			select {
			case out <- evt:
			default:
				// slow consumer: drop the oldest, the tracker reports the gap
				select {
				case <-out:
				default:
				}
				out <- evt
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}

func channel(gameID string) string {
	return "game:" + gameID + ":events"
}
