package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestQuestionRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticQuestionLoader(map[string][]domain.Question{
			"set-1": sampleQuestions(),
		}),
	}
	repo := NewQuestionRepository(client, loader, time.Minute)

	questions, err := repo.GetQuestions(context.Background(), "set-1")
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("quizset:set-1:questions") {
		t.Fatalf("expected questions cached in redis")
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuestions(context.Background(), "set-1")
	if err != nil {
		t.Fatalf("get cached questions: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if len(cached) != len(questions) || len(cached[0].Choices) != 2 || !cached[0].Choices[1].IsCorrect {
		t.Fatalf("cached questions differ: %+v", cached)
	}

	if err := repo.Invalidate(context.Background(), "set-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.GetQuestions(context.Background(), "set-1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls)
	}
}

func TestQuestionRepositoryExpiresWithTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticQuestionLoader(map[string][]domain.Question{"set-1": sampleQuestions()}),
	}
	repo := NewQuestionRepository(newClient(mr), loader, time.Minute)

	_, _ = repo.GetQuestions(context.Background(), "set-1")
	mr.FastForward(2 * time.Minute)
	_, _ = repo.GetQuestions(context.Background(), "set-1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, loader calls=%d", loader.calls)
	}
}

func TestQuestionRepositoryUnknownSet(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	repo := NewQuestionRepository(newClient(mr), memory.NewStaticQuestionLoader(nil), time.Minute)
	_, err = repo.GetQuestions(context.Background(), "missing")
	if !errors.Is(err, domain.ErrQuizSetNotFound) {
		t.Fatalf("expected ErrQuizSetNotFound, got %v", err)
	}
	if mr.Exists("quizset:missing:questions") {
		t.Fatalf("failed loads must not be cached")
	}
}

type countingLoader struct {
	memory.QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx, quizSetID)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:        "q1",
			QuizSetID: "set-1",
			Order:     1,
			Body:      "What is 2 + 2?",
			Choices: []domain.Choice{
				{ID: "c1", QuestionID: "q1", Body: "3"},
				{ID: "c2", QuestionID: "q1", Body: "4", IsCorrect: true},
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
