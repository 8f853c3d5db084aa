package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// Timing holds the deployment-wide pacing constants.
type Timing struct {
	// AnswerBudget is the answer window and the scoring time base.
	AnswerBudget time.Duration
	// ChoiceRevealDelay is forwarded to clients for pacing; scoring ignores it.
	ChoiceRevealDelay time.Duration
	// TransitionTimeout bounds the storage calls of a single transition.
	TransitionTimeout time.Duration
}

// DefaultTiming matches the original pacing: 20s to answer, 5s between choices.
func DefaultTiming() Timing {
	return Timing{
		AnswerBudget:      20 * time.Second,
		ChoiceRevealDelay: 5 * time.Second,
		TransitionTimeout: 5 * time.Second,
	}
}

type machineDeps struct {
	games       GameStore
	players     ParticipantStore
	answers     AnswerStore
	hub         *Hub
	leaderboard *LeaderboardCalculator
	clock       clockwork.Clock
	timing      Timing
	onResults   func(gameID string)
}

// Machine owns the authoritative state of one live game. Every mutation of the
// game row, the roster and the current question's answers happens under mu,
// and every committed change is published before mu is released.
type Machine struct {
	deps   machineDeps
	reveal RevealSequencer
	epoch  string

	mu           sync.Mutex
	seq          uint64
	game         domain.Game
	questions    []domain.Question
	roster       map[string]domain.Participant
	current      *questionAnswers
	answerableAt time.Time
	timer        revealTimer
}

func newMachine(deps machineDeps, game domain.Game, questions []domain.Question, participants []domain.Participant, answers []domain.Answer) *Machine {
	m := &Machine{
		deps:      deps,
		epoch:     uuid.NewString(),
		game:      game,
		questions: questions,
		roster:    make(map[string]domain.Participant, len(participants)),
		timer:     revealTimer{clock: deps.clock},
	}
	for _, p := range participants {
		m.roster[p.ID] = p
	}
	m.current = newQuestionAnswers("")
	if q, ok := m.currentQuestionLocked(); ok {
		m.current = newQuestionAnswers(q.ID)
		for _, a := range answers {
			if a.QuestionID == q.ID {
				m.current.record(a.ParticipantID, a.ChoiceID)
			}
		}
	}
	return m
}

// resume re-opens the answer window of a machine rebuilt from storage in the
// middle of a question. The original window start is not persisted, so the
// window restarts at load time.
func (m *Machine) resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.currentQuestionLocked()
	if !ok || m.game.IsAnswerRevealed || !m.reveal.Answerable(m.game.ShownChoiceIndex, len(q.Choices)) {
		return
	}
	m.openAnswerWindowLocked()
	log.Info().Str("game_id", m.game.ID).Int("question", m.game.CurrentQuestionIndex).Msg("answer window resumed")
}

// Join adds a participant while the game is in the lobby.
func (m *Machine) Join(ctx context.Context, p domain.Participant) (domain.Snapshot, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.game.Phase != domain.PhaseLobby {
		return domain.Snapshot{}, domain.ErrGameStarted
	}
	if err := m.deps.players.AddParticipant(ctx, p); err != nil {
		return domain.Snapshot{}, fmt.Errorf("add participant: %w: %w", domain.ErrPersistence, err)
	}
	m.roster[p.ID] = p
	return m.emitLocked(ctx, domain.EventGameState, nil), nil
}

// Start moves the game from the lobby to the first question.
func (m *Machine) Start(ctx context.Context) (domain.Snapshot, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.game.Phase != domain.PhaseLobby {
		return domain.Snapshot{}, fmt.Errorf("start game in phase %s: %w", m.game.Phase, domain.ErrInvalidTransition)
	}
	if err := validateQuestions(m.questions); err != nil {
		return domain.Snapshot{}, err
	}

	next := m.game
	next.Phase = domain.PhaseQuiz
	next.CurrentQuestionIndex = 0
	next.ShownChoiceIndex = nil
	next.IsAnswerRevealed = false
	if err := m.commitLocked(ctx, next); err != nil {
		return domain.Snapshot{}, err
	}
	m.beginQuestionLocked()

	log.Info().Str("game_id", m.game.ID).Int("participants", len(m.roster)).Int("questions", len(m.questions)).Msg("game started")
	return m.emitLocked(ctx, domain.EventGameState, nil), nil
}

// RevealNextChoice shows one more choice of the current question. Showing the
// last choice opens the answer window and arms the reveal timer.
func (m *Machine) RevealNextChoice(ctx context.Context) (domain.Snapshot, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.currentQuestionLocked()
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("reveal choice in phase %s: %w", m.game.Phase, domain.ErrInvalidTransition)
	}
	if m.game.IsAnswerRevealed {
		return domain.Snapshot{}, fmt.Errorf("reveal choice after answer reveal: %w", domain.ErrInvalidTransition)
	}
	idx, err := m.reveal.Next(m.game.ShownChoiceIndex, len(q.Choices))
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("reveal choice of question %d: all %d choices shown: %w", m.game.CurrentQuestionIndex, len(q.Choices), err)
	}

	next := m.game
	next.ShownChoiceIndex = &idx
	if err := m.commitLocked(ctx, next); err != nil {
		return domain.Snapshot{}, err
	}
	if m.reveal.Answerable(m.game.ShownChoiceIndex, len(q.Choices)) {
		m.openAnswerWindowLocked()
	}
	return m.emitLocked(ctx, domain.EventGameState, nil), nil
}

// TimeUp closes the answer window regardless of how many answers arrived.
// Calling it again, or after all participants answered, changes nothing.
func (m *Machine) TimeUp(ctx context.Context) (domain.Snapshot, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.revealLocked(ctx, "time_up"); err != nil {
		return domain.Snapshot{}, err
	}
	return m.snapshotLocked(), nil
}

// AdvanceQuestion moves to the next question, or to the results once the last
// question has been revealed.
func (m *Machine) AdvanceQuestion(ctx context.Context) (domain.Snapshot, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.game.Phase != domain.PhaseQuiz {
		return domain.Snapshot{}, fmt.Errorf("advance in phase %s: %w", m.game.Phase, domain.ErrInvalidTransition)
	}
	if !m.game.IsAnswerRevealed {
		return domain.Snapshot{}, fmt.Errorf("advance before answer reveal: %w", domain.ErrInvalidTransition)
	}

	next := m.game
	if next.CurrentQuestionIndex+1 < len(m.questions) {
		next.CurrentQuestionIndex++
		next.ShownChoiceIndex = nil
		next.IsAnswerRevealed = false
	} else {
		next.Phase = domain.PhaseResults
	}
	if err := m.commitLocked(ctx, next); err != nil {
		return domain.Snapshot{}, err
	}

	if m.game.Phase == domain.PhaseQuiz {
		m.beginQuestionLocked()
		return m.emitLocked(ctx, domain.EventGameState, nil), nil
	}

	m.timer.disarm()
	snapshot := m.emitLocked(ctx, domain.EventGameState, nil)
	m.publishLeaderboardLocked(ctx)
	log.Info().Str("game_id", m.game.ID).Msg("game finished")
	if m.deps.onResults != nil {
		m.deps.onResults(m.game.ID)
	}
	return snapshot, nil
}

// Snapshot returns the current state for a (re)connecting client.
func (m *Machine) Snapshot() domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Participant looks up a registered participant.
func (m *Machine) Participant(participantID string) (domain.Participant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.roster[participantID]
	return p, ok
}

// Close stops the reveal timer of a machine that is being discarded.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timer.disarm()
}

// revealLocked is the single consumer of both reveal triggers: the last
// participant answering and the answer timer firing.
func (m *Machine) revealLocked(ctx context.Context, cause string) error {
	q, ok := m.currentQuestionLocked()
	if !ok {
		return fmt.Errorf("reveal answer in phase %s: %w", m.game.Phase, domain.ErrInvalidTransition)
	}
	if m.game.IsAnswerRevealed {
		return nil
	}
	if !m.reveal.Answerable(m.game.ShownChoiceIndex, len(q.Choices)) {
		return fmt.Errorf("reveal answer before all choices shown: %w", domain.ErrInvalidTransition)
	}

	next := m.game
	next.IsAnswerRevealed = true
	if err := m.commitLocked(ctx, next); err != nil {
		return err
	}
	m.timer.disarm()

	log.Info().
		Str("game_id", m.game.ID).
		Int("question", m.game.CurrentQuestionIndex).
		Int("answers", m.current.count()).
		Int("participants", len(m.roster)).
		Str("cause", cause).
		Msg("answer revealed")

	m.emitLocked(ctx, domain.EventGameState, nil)
	m.publishLeaderboardLocked(ctx)
	return nil
}

// onTimer runs on the timer goroutine. A firing from a timer that was
// disarmed or replaced in the meantime is ignored.
func (m *Machine) onTimer(gen uint64) {
	ctx, cancel := m.opContext(context.Background())
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.timer.current(gen) {
		return
	}
	if err := m.revealLocked(ctx, "time_up"); err != nil {
		log.Error().Err(err).Str("game_id", m.game.ID).Msg("reveal on timeout failed, retrying")
		m.timer.arm(time.Second, m.onTimer)
	}
}

func (m *Machine) publishLeaderboardLocked(ctx context.Context) {
	board, err := m.deps.leaderboard.Compute(ctx, m.game.ID)
	if err != nil {
		log.Error().Err(err).Str("game_id", m.game.ID).Msg("compute leaderboard")
		return
	}
	m.emitLocked(ctx, domain.EventLeaderboard, board)
}

func (m *Machine) commitLocked(ctx context.Context, next domain.Game) error {
	if err := m.deps.games.UpdateGame(ctx, next); err != nil {
		return fmt.Errorf("update game %s: %w: %w", next.ID, domain.ErrPersistence, err)
	}
	m.game = next
	return nil
}

func (m *Machine) beginQuestionLocked() {
	m.timer.disarm()
	m.answerableAt = time.Time{}
	q, _ := m.currentQuestionLocked()
	m.current = newQuestionAnswers(q.ID)
}

func (m *Machine) openAnswerWindowLocked() {
	m.answerableAt = m.deps.clock.Now()
	m.timer.arm(m.deps.timing.AnswerBudget, m.onTimer)
}

func (m *Machine) emitLocked(ctx context.Context, typ domain.EventType, board domain.Leaderboard) domain.Snapshot {
	m.seq++
	snapshot := m.snapshotLocked()
	m.deps.hub.Publish(ctx, domain.Event{
		Type:        typ,
		GameID:      m.game.ID,
		Epoch:       m.epoch,
		Seq:         m.seq,
		Snapshot:    snapshot,
		Leaderboard: board,
	})
	return snapshot
}

func (m *Machine) snapshotLocked() domain.Snapshot {
	s := domain.Snapshot{
		Game:                m.game,
		Epoch:               m.epoch,
		Seq:                 m.seq,
		TotalQuestions:      len(m.questions),
		ParticipantCount:    len(m.roster),
		AnswerBudgetMs:      m.deps.timing.AnswerBudget.Milliseconds(),
		ChoiceRevealDelayMs: m.deps.timing.ChoiceRevealDelay.Milliseconds(),
	}
	if m.game.ShownChoiceIndex != nil {
		idx := *m.game.ShownChoiceIndex
		s.ShownChoiceIndex = &idx
	}
	q, ok := m.currentQuestionLocked()
	if !ok {
		return s
	}
	s.AnswerCount = m.current.count()
	if !m.answerableAt.IsZero() {
		at := m.answerableAt
		s.AnswerableAt = &at
	}

	view := &domain.QuestionView{ID: q.ID, Body: q.Body, ChoiceCount: len(q.Choices)}
	visible := m.reveal.Visible(m.game.ShownChoiceIndex, len(q.Choices))
	for _, c := range q.Choices[:visible] {
		cv := domain.ChoiceView{ID: c.ID, Body: c.Body}
		if m.game.IsAnswerRevealed {
			correct := c.IsCorrect
			tally := m.current.tally[c.ID]
			cv.IsCorrect = &correct
			cv.Answers = &tally
		}
		view.Choices = append(view.Choices, cv)
	}
	s.Question = view
	return s
}

func (m *Machine) currentQuestionLocked() (domain.Question, bool) {
	if m.game.Phase != domain.PhaseQuiz {
		return domain.Question{}, false
	}
	idx := m.game.CurrentQuestionIndex
	if idx < 0 || idx >= len(m.questions) {
		return domain.Question{}, false
	}
	return m.questions[idx], true
}

// opContext detaches storage calls from the caller so a disconnecting client
// cannot abort a transition halfway.
func (m *Machine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := m.deps.timing.TransitionTimeout
	if timeout <= 0 {
		timeout = DefaultTiming().TransitionTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func validateQuestions(questions []domain.Question) error {
	if len(questions) == 0 {
		return domain.ErrInvalidQuizSet
	}
	for _, q := range questions {
		if len(q.Choices) == 0 {
			return fmt.Errorf("question %s has no choices: %w", q.ID, domain.ErrInvalidQuizSet)
		}
	}
	return nil
}
