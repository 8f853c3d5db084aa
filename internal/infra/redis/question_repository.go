package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

// QuestionRepository caches quiz sets in Redis and falls back to a loader on cache miss.
// Questions are stored as one JSON document: SET quizset:{quizSetID}:questions <json>
type QuestionRepository struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error) {
	if questions, ok := r.cached(ctx, quizSetID); ok {
		return questions, nil
	}

	result, err, _ := r.sf.Do(quizSetID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := r.cached(ctx, quizSetID); ok {
			return questions, nil
		}

		questions, err := r.loader.LoadQuestions(ctx, quizSetID)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(questions)
		if err != nil {
			return nil, err
		}
		// a failed cache write only costs a reload
		if err := r.client.Set(ctx, r.key(quizSetID), payload, r.ttlWithJitter()).Err(); err != nil {
			log.Warn().Err(err).Str("quiz_set_id", quizSetID).Msg("cache questions")
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops the cached copy of a quiz set after its content changed.
func (r *QuestionRepository) Invalidate(ctx context.Context, quizSetID string) error {
	return r.client.Del(ctx, r.key(quizSetID)).Err()
}

func (r *QuestionRepository) cached(ctx context.Context, quizSetID string) ([]domain.Question, bool) {
	raw, err := r.client.Get(ctx, r.key(quizSetID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("quiz_set_id", quizSetID).Msg("read cached questions")
		}
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		log.Warn().Err(err).Str("quiz_set_id", quizSetID).Msg("decode cached questions")
		return nil, false
	}
	return questions, true
}

func (r *QuestionRepository) key(quizSetID string) string {
	return "quizset:" + quizSetID + ":questions"
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
