package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewSessionStore(newClient(mr), time.Minute, "instance-a")

	first := new(app.Machine)
	if got, err := store.Put(ctx, "game-1", first); err != nil || got != first {
		t.Fatalf("expected first machine registered, got %v", err)
	}
	if got, err := store.Put(ctx, "game-1", new(app.Machine)); err != nil || got != first {
		t.Fatalf("expected existing machine to win, got %v", err)
	}
	if owner, _ := mr.Get("game:session:game-1"); owner != "instance-a" {
		t.Fatalf("expected owner instance-a, got %q", owner)
	}

	mr.FastForward(50 * time.Second)
	if err := store.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	mr.FastForward(50 * time.Second)
	if !mr.Exists("game:session:game-1") {
		t.Fatalf("expected refreshed key to survive")
	}

	store.Remove("game-1")
	if mr.Exists("game:session:game-1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := store.Get("game-1"); ok {
		t.Fatalf("expected machine removed")
	}
}

func TestSessionStoreClaimIsExclusive(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	client := newClient(mr)
	a := NewSessionStore(client, time.Minute, "instance-a")
	b := NewSessionStore(client, time.Minute, "instance-b")

	if _, err := a.Put(ctx, "game-1", new(app.Machine)); err != nil {
		t.Fatalf("claim by a: %v", err)
	}
	if _, err := b.Put(ctx, "game-1", new(app.Machine)); !errors.Is(err, domain.ErrGameOwnedElsewhere) {
		t.Fatalf("expected ErrGameOwnedElsewhere, got %v", err)
	}
	if _, ok := b.Get("game-1"); ok {
		t.Fatalf("rejected machine must not be registered")
	}

	// b removing a game it never owned leaves a's claim alone
	b.Remove("game-1")
	if owner, _ := mr.Get("game:session:game-1"); owner != "instance-a" {
		t.Fatalf("expected claim kept by instance-a, got %q", owner)
	}

	// a stops renewing; once the claim lapses b takes over and a drops its copy
	mr.FastForward(2 * time.Minute)
	if _, err := b.Put(ctx, "game-1", new(app.Machine)); err != nil {
		t.Fatalf("takeover by b: %v", err)
	}
	if err := a.Refresh(ctx); err != nil {
		t.Fatalf("refresh a: %v", err)
	}
	if _, ok := a.Get("game-1"); ok {
		t.Fatalf("expected a to drop the game it lost")
	}
	if owner, _ := mr.Get("game:session:game-1"); owner != "instance-b" {
		t.Fatalf("expected owner instance-b, got %q", owner)
	}
}

func TestOnlyOwningInstanceDrivesGame(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	client := newClient(mr)
	store := memory.NewStore()
	broker := memory.NewBroker()
	loader := memory.NewStaticQuestionLoader(map[string][]domain.Question{"set-1": sampleQuestions()})
	newInstance := func(owner string) *app.GameService {
		return app.NewGameService(store, memory.NewQuestionRepository(loader, time.Minute),
			NewSessionStore(client, time.Minute, owner), broker, app.Options{
				Timing: app.Timing{AnswerBudget: time.Minute, ChoiceRevealDelay: time.Second, TransitionTimeout: time.Second},
			})
	}
	a := newInstance("instance-a")
	b := newInstance("instance-b")

	game, err := a.CreateGame(ctx, "set-1")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	player, err := a.Join(ctx, game.ID, "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := a.StartGame(ctx, game.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := a.RevealNextChoice(ctx, game.ID); err != nil {
			t.Fatalf("reveal choice: %v", err)
		}
	}

	if _, err := b.Snapshot(ctx, game.ID); !errors.Is(err, domain.ErrGameOwnedElsewhere) {
		t.Fatalf("snapshot via b: expected ErrGameOwnedElsewhere, got %v", err)
	}
	if _, err := b.SubmitAnswer(ctx, game.ID, player.ID, "q1", "c2"); !errors.Is(err, domain.ErrGameOwnedElsewhere) {
		t.Fatalf("answer via b: expected ErrGameOwnedElsewhere, got %v", err)
	}
	if _, err := b.Join(ctx, game.ID, "Mallory"); !errors.Is(err, domain.ErrGameOwnedElsewhere) {
		t.Fatalf("join via b: expected ErrGameOwnedElsewhere, got %v", err)
	}

	res, err := a.SubmitAnswer(ctx, game.ID, player.ID, "q1", "c2")
	if err != nil {
		t.Fatalf("answer via a: %v", err)
	}
	if !res.Correct {
		t.Fatalf("expected correct answer")
	}
	snap, err := a.Snapshot(ctx, game.ID)
	if err != nil {
		t.Fatalf("snapshot via a: %v", err)
	}
	if !snap.IsAnswerRevealed || snap.ParticipantCount != 1 {
		t.Fatalf("expected reveal after the only answer, got revealed=%v participants=%d", snap.IsAnswerRevealed, snap.ParticipantCount)
	}
}
