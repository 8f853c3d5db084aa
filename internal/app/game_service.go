package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// GameStore persists the game row.
type GameStore interface {
	CreateGame(ctx context.Context, game domain.Game) error
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
	UpdateGame(ctx context.Context, game domain.Game) error
}

// ParticipantStore persists lobby registrations.
type ParticipantStore interface {
	AddParticipant(ctx context.Context, p domain.Participant) error
	ListParticipants(ctx context.Context, gameID string) ([]domain.Participant, error)
}

// AnswerStore is the append-only answer log. CreateAnswer returns
// domain.ErrDuplicateAnswer when (participant, question) already exists.
type AnswerStore interface {
	CreateAnswer(ctx context.Context, answer domain.Answer) error
	ListAnswers(ctx context.Context, gameID string) ([]domain.Answer, error)
}

// Store bundles the storage ports a game needs.
type Store interface {
	GameStore
	ParticipantStore
	AnswerStore
}

// QuestionRepository loads quiz content (from cache/backing store), ordered by Question.Order.
type QuestionRepository interface {
	GetQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error)
}

// SessionRepository abstracts where live game machines are kept (in-memory, Redis, etc).
type SessionRepository interface {
	Get(gameID string) (*Machine, bool)
	// Put registers m unless a machine for gameID exists already, and returns
	// the registered machine. It returns domain.ErrGameOwnedElsewhere when
	// another instance runs the game.
	Put(ctx context.Context, gameID string, m *Machine) (*Machine, error)
	Remove(gameID string)
}

// Options tunes a GameService. Zero values fall back to defaults.
type Options struct {
	Clock  clockwork.Clock
	Timing Timing
	Retry  RetryPolicy
}

// GameService contains the host, participant and snapshot use cases.
type GameService struct {
	store       Store
	questions   QuestionRepository
	sessions    SessionRepository
	hub         *Hub
	leaderboard *LeaderboardCalculator
	clock       clockwork.Clock
	timing      Timing
	retry       RetryPolicy
	loads       singleflight.Group
}

func NewGameService(store Store, questions QuestionRepository, sessions SessionRepository, broker Broker, opts Options) *GameService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Timing.AnswerBudget <= 0 {
		opts.Timing = DefaultTiming()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &GameService{
		store:       store,
		questions:   questions,
		sessions:    sessions,
		hub:         NewHub(broker),
		leaderboard: NewLeaderboardCalculator(store, store),
		clock:       opts.Clock,
		timing:      opts.Timing,
		retry:       opts.Retry,
	}
}

// CreateGame opens a lobby for a quiz set.
func (s *GameService) CreateGame(ctx context.Context, quizSetID string) (domain.Game, error) {
	if _, err := s.loadQuestions(ctx, quizSetID); err != nil {
		return domain.Game{}, err
	}
	game := domain.Game{
		ID:        uuid.NewString(),
		QuizSetID: quizSetID,
		Phase:     domain.PhaseLobby,
	}
	if err := s.store.CreateGame(ctx, game); err != nil {
		return domain.Game{}, fmt.Errorf("create game: %w: %w", domain.ErrPersistence, err)
	}
	log.Info().Str("game_id", game.ID).Str("quiz_set_id", quizSetID).Msg("game created")
	return game, nil
}

// Join registers a participant in a game that is still in the lobby.
func (s *GameService) Join(ctx context.Context, gameID, nickname string) (domain.Participant, error) {
	m, err := s.machine(ctx, gameID)
	if err != nil {
		return domain.Participant{}, err
	}
	p := domain.Participant{
		ID:       uuid.NewString(),
		GameID:   gameID,
		Nickname: nickname,
		JoinedAt: s.clock.Now(),
	}
	if _, err := m.Join(ctx, p); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

// StartGame is the host command leaving the lobby.
func (s *GameService) StartGame(ctx context.Context, gameID string) (domain.Snapshot, error) {
	m, err := s.machine(ctx, gameID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return m.Start(ctx)
}

// RevealNextChoice is the host command showing one more choice.
func (s *GameService) RevealNextChoice(ctx context.Context, gameID string) (domain.Snapshot, error) {
	m, err := s.machine(ctx, gameID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return m.RevealNextChoice(ctx)
}

// TimeUp closes the answer window of the current question. The reveal timer
// does this on its own; the host may signal it early.
func (s *GameService) TimeUp(ctx context.Context, gameID string) (domain.Snapshot, error) {
	m, err := s.machine(ctx, gameID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return m.TimeUp(ctx)
}

// AdvanceQuestion is the host command moving past a revealed question.
func (s *GameService) AdvanceQuestion(ctx context.Context, gameID string) (domain.Snapshot, error) {
	m, err := s.machine(ctx, gameID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return m.AdvanceQuestion(ctx)
}

// SubmitAnswer records a participant's answer for the active question.
func (s *GameService) SubmitAnswer(ctx context.Context, gameID, participantID, questionID, choiceID string) (domain.AnswerResult, error) {
	m, err := s.machine(ctx, gameID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	return m.SubmitAnswer(ctx, participantID, questionID, choiceID)
}

// Snapshot returns the current game state.
func (s *GameService) Snapshot(ctx context.Context, gameID string) (domain.Snapshot, error) {
	m, err := s.machine(ctx, gameID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// Participant returns a participant registered in the game.
func (s *GameService) Participant(ctx context.Context, gameID, participantID string) (domain.Participant, error) {
	m, err := s.machine(ctx, gameID)
	if err != nil {
		return domain.Participant{}, err
	}
	p, ok := m.Participant(participantID)
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

// Leaderboard recomputes the standings from the answer log.
func (s *GameService) Leaderboard(ctx context.Context, gameID string) (domain.Leaderboard, error) {
	if _, err := retryRead(ctx, s.retry, "load game", func(ctx context.Context) (domain.Game, error) {
		return s.store.GetGame(ctx, gameID)
	}); err != nil {
		return nil, err
	}
	return s.leaderboard.Compute(ctx, gameID)
}

// Subscribe attaches to the game's event stream and returns the snapshot taken
// right after subscribing, so no change between the two is lost.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *GameService) Subscribe(ctx context.Context, gameID string) (<-chan domain.Event, func(), domain.Snapshot, error) {
	m, err := s.machine(ctx, gameID)
	if err != nil {
		return nil, nil, domain.Snapshot{}, err
	}
	ch, cancel, err := s.hub.Subscribe(ctx, gameID)
	if err != nil {
		return nil, nil, domain.Snapshot{}, err
	}
	return ch, cancel, m.Snapshot(), nil
}

// machine returns the live machine of a game, loading it from storage on a
// registry miss. Concurrent misses for one game share a single load.
func (s *GameService) machine(ctx context.Context, gameID string) (*Machine, error) {
	if m, ok := s.sessions.Get(gameID); ok {
		return m, nil
	}
	loads := s.loads.DoChan(gameID, func() (interface{}, error) {
		if m, ok := s.sessions.Get(gameID); ok {
			return m, nil
		}
		// the load is shared, so no single caller's cancellation may end it
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout())
		defer cancel()
		return s.loadMachine(loadCtx, gameID)
	})
	select {
	case res := <-loads:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Machine), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// loadTimeout bounds a machine load: every read may use all its attempts.
func (s *GameService) loadTimeout() time.Duration {
	timeout := s.timing.TransitionTimeout
	if timeout <= 0 {
		timeout = DefaultTiming().TransitionTimeout
	}
	return timeout * time.Duration(s.retry.MaxAttempts)
}

func (s *GameService) loadMachine(ctx context.Context, gameID string) (*Machine, error) {
	game, err := retryRead(ctx, s.retry, "load game", func(ctx context.Context) (domain.Game, error) {
		return s.store.GetGame(ctx, gameID)
	})
	if err != nil {
		return nil, err
	}
	questions, err := s.loadQuestions(ctx, game.QuizSetID)
	if err != nil {
		return nil, err
	}
	participants, err := retryRead(ctx, s.retry, "load participants", func(ctx context.Context) ([]domain.Participant, error) {
		return s.store.ListParticipants(ctx, gameID)
	})
	if err != nil {
		return nil, err
	}
	answers, err := retryRead(ctx, s.retry, "load answers", func(ctx context.Context) ([]domain.Answer, error) {
		return s.store.ListAnswers(ctx, gameID)
	})
	if err != nil {
		return nil, err
	}

	m := newMachine(machineDeps{
		games:       s.store,
		players:     s.store,
		answers:     s.store,
		hub:         s.hub,
		leaderboard: s.leaderboard,
		clock:       s.clock,
		timing:      s.timing,
		onResults:   s.sessions.Remove,
	}, game, questions, participants, answers)

	if game.Phase == domain.PhaseResults {
		// finished games are served read-only and never registered
		return m, nil
	}
	registered, err := s.sessions.Put(ctx, gameID, m)
	if err != nil {
		return nil, err
	}
	if registered == m {
		m.resume()
		log.Debug().Str("game_id", gameID).Str("phase", string(game.Phase)).Msg("game loaded")
	}
	return registered, nil
}

func (s *GameService) loadQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error) {
	questions, err := retryRead(ctx, s.retry, "load questions", func(ctx context.Context) ([]domain.Question, error) {
		return s.questions.GetQuestions(ctx, quizSetID)
	})
	if err != nil {
		return nil, err
	}
	ordered := make([]domain.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	return ordered, nil
}
