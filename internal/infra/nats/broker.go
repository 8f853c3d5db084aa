package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

const (
	subscriberBuffer = 16
	flushTimeout     = 2 * time.Second
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default NATS connection settings.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Connect dials NATS with reconnect handling and logging hooks.
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("live-quiz-service"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Broker publishes game events on core NATS subjects (game.{gameID}.events).
// Delivery is at-most-once; subscribers recover from gaps with a snapshot.
type Broker struct {
	nc *nats.Conn
}

func NewBroker(nc *nats.Conn) *Broker {
	return &Broker{nc: nc}
}

func (b *Broker) Publish(_ context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.nc.Publish(subject(evt.GameID), payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, gameID string) (<-chan domain.Event, func(), error) {
	out := make(chan domain.Event, subscriberBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	sub, err := b.nc.Subscribe(subject(gameID), func(msg *nats.Msg) {
		var evt domain.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.Warn().Err(err).Str("game_id", gameID).Msg("decode event")
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- evt:
		default:
			// slow consumer: drop the oldest
			select {
			case <-out:
			default:
			}
			out <- evt
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", gameID, err)
	}
	// make sure the server registered the interest before returning
	if err := b.nc.FlushTimeout(flushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flush subscription %s: %w", gameID, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(out)
			mu.Unlock()
		})
	}
	return out, cancel, nil
}

func subject(gameID string) string {
	return "game." + gameID + ".events"
}
