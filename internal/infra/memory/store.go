package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/domain"
)

// Store keeps games, participants and answers in process memory. It satisfies
// app.Store and is used for demos, tests and single-node deployments.
type Store struct {
	mu           sync.RWMutex
	games        map[string]domain.Game
	participants map[string][]domain.Participant
	answers      map[string][]domain.Answer
	answered     map[answerKey]struct{}
}

type answerKey struct {
	participantID string
	questionID    string
}

func NewStore() *Store {
	return &Store{
		games:        make(map[string]domain.Game),
		participants: make(map[string][]domain.Participant),
		answers:      make(map[string][]domain.Answer),
		answered:     make(map[answerKey]struct{}),
	}
}

func (s *Store) CreateGame(_ context.Context, game domain.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[game.ID] = cloneGame(game)
	return nil
}

func (s *Store) GetGame(_ context.Context, gameID string) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	game, ok := s.games[gameID]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return cloneGame(game), nil
}

func (s *Store) UpdateGame(_ context.Context, game domain.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; !ok {
		return domain.ErrGameNotFound
	}
	s.games[game.ID] = cloneGame(game)
	return nil
}

func (s *Store) AddParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[p.GameID]; !ok {
		return domain.ErrGameNotFound
	}
	s.participants[p.GameID] = append(s.participants[p.GameID], p)
	return nil
}

func (s *Store) ListParticipants(_ context.Context, gameID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, len(s.participants[gameID]))
	copy(out, s.participants[gameID])
	return out, nil
}

func (s *Store) CreateAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{participantID: answer.ParticipantID, questionID: answer.QuestionID}
	if _, ok := s.answered[key]; ok {
		return domain.ErrDuplicateAnswer
	}
	s.answered[key] = struct{}{}
	s.answers[answer.GameID] = append(s.answers[answer.GameID], answer)
	return nil
}

func (s *Store) ListAnswers(_ context.Context, gameID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Answer, len(s.answers[gameID]))
	copy(out, s.answers[gameID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func cloneGame(g domain.Game) domain.Game {
	if g.ShownChoiceIndex != nil {
		idx := *g.ShownChoiceIndex
		g.ShownChoiceIndex = &idx
	}
	return g
}
