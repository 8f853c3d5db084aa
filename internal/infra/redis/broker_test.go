package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"live-quiz-service/internal/domain"
)

func TestBrokerRoundTripsEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	broker := NewBroker(newClient(mr))
	ctx := context.Background()

	events, cancel, err := broker.Subscribe(ctx, "game-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	shown := 1
	for seq := uint64(1); seq <= 3; seq++ {
		evt := domain.Event{
			Type:   domain.EventGameState,
			GameID: "game-1",
			Epoch:  "epoch-1",
			Seq:    seq,
			Snapshot: domain.Snapshot{
				Game: domain.Game{ID: "game-1", Phase: domain.PhaseQuiz, ShownChoiceIndex: &shown},
			},
		}
		if err := broker.Publish(ctx, evt); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	// other games do not leak into the stream
	_ = broker.Publish(ctx, domain.Event{GameID: "game-2", Seq: 99})

	for want := uint64(1); want <= 3; want++ {
		select {
		case evt := <-events:
			if evt.Seq != want || evt.Epoch != "epoch-1" {
				t.Fatalf("expected seq %d, got %+v", want, evt)
			}
			if evt.Snapshot.ShownChoiceIndex == nil || *evt.Snapshot.ShownChoiceIndex != 1 {
				t.Fatalf("shown index lost in transit: %+v", evt.Snapshot.Game)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for seq %d", want)
		}
	}
	select {
	case evt := <-events:
		t.Fatalf("unexpected event %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	events, cancel, err := NewBroker(newClient(mr)).Subscribe(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}
