package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// QuestionLoader fetches the questions of a quiz set from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error)
}

// QuestionRepository caches quiz sets with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

func (r *QuestionRepository) GetQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error) {
	if questions, ok := r.lookup(quizSetID); ok {
		return questions, nil
	}

	result, err, _ := r.sf.Do(quizSetID, func() (interface{}, error) {
		if questions, ok := r.lookup(quizSetID); ok {
			return questions, nil
		}

		questions, err := r.loader.LoadQuestions(ctx, quizSetID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[quizSetID] = cachedQuestions{
			questions: questions,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) lookup(quizSetID string) ([]domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[quizSetID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return nil, false
	}
	return entry.questions, true
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticQuestionLoader struct {
	sets map[string][]domain.Question
}

func NewStaticQuestionLoader(sets map[string][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{sets: sets}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, quizSetID string) ([]domain.Question, error) {
	if questions, ok := l.sets[quizSetID]; ok {
		return questions, nil
	}
	return nil, domain.ErrQuizSetNotFound
}
