package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(map[string][]domain.Question{
			"set-1": sampleQuestions(),
		}),
	}
	repo := NewQuestionRepository(loader, time.Minute)

	if _, err := repo.GetQuestions(context.Background(), "set-1"); err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}

	questions, err := repo.GetQuestions(context.Background(), "set-1")
	if err != nil {
		t.Fatalf("get questions 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.count())
	}
	if len(questions) != 2 || questions[0].ID != "q1" {
		t.Fatalf("unexpected questions %+v", questions)
	}
}

func TestQuestionRepositoryExpires(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(map[string][]domain.Question{"set-1": sampleQuestions()}),
	}
	repo := NewQuestionRepository(loader, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetQuestions(context.Background(), "set-1")
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetQuestions(context.Background(), "set-1")
	if loader.count() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.count())
	}
}

func TestQuestionRepositoryUnknownSet(t *testing.T) {
	repo := NewQuestionRepository(NewStaticQuestionLoader(nil), time.Minute)
	if _, err := repo.GetQuestions(context.Background(), "missing"); !errors.Is(err, domain.ErrQuizSetNotFound) {
		t.Fatalf("expected ErrQuizSetNotFound, got %v", err)
	}
}

type countingLoader struct {
	QuestionLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.QuestionLoader.LoadQuestions(ctx, quizSetID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID: "q1", QuizSetID: "set-1", Order: 1, Body: "What is 2 + 2?",
			Choices: []domain.Choice{
				{ID: "c1", QuestionID: "q1", Body: "3"},
				{ID: "c2", QuestionID: "q1", Body: "4", IsCorrect: true},
			},
		},
		{
			ID: "q2", QuizSetID: "set-1", Order: 2, Body: "Capital of France?",
			Choices: []domain.Choice{
				{ID: "c3", QuestionID: "q2", Body: "Paris", IsCorrect: true},
				{ID: "c4", QuestionID: "q2", Body: "Rome"},
			},
		},
	}
}
