package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/scoring"
)

// questionAnswers tracks who answered the active question and how the
// answers are spread over its choices.
type questionAnswers struct {
	questionID string
	chosen     map[string]string
	tally      map[string]int
}

func newQuestionAnswers(questionID string) *questionAnswers {
	return &questionAnswers{
		questionID: questionID,
		chosen:     make(map[string]string),
		tally:      make(map[string]int),
	}
}

func (a *questionAnswers) has(participantID string) bool {
	_, ok := a.chosen[participantID]
	return ok
}

func (a *questionAnswers) record(participantID, choiceID string) {
	if a.has(participantID) {
		return
	}
	a.chosen[participantID] = choiceID
	a.tally[choiceID]++
}

func (a *questionAnswers) count() int {
	return len(a.chosen)
}

// SubmitAnswer validates and stores one answer for the active question. The
// score is timed on the server clock from the moment the last choice was
// shown. The last expected answer reveals the question, and so does the first
// submission arriving once the budget has run out.
func (m *Machine) SubmitAnswer(ctx context.Context, participantID, questionID, choiceID string) (domain.AnswerResult, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roster[participantID]; !ok {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	q, ok := m.currentQuestionLocked()
	if !ok {
		return domain.AnswerResult{}, fmt.Errorf("game in phase %s: %w", m.game.Phase, domain.ErrAnswerWindowClosed)
	}
	if q.ID != questionID {
		return domain.AnswerResult{}, domain.ErrQuestionNotActive
	}
	if m.game.IsAnswerRevealed {
		return domain.AnswerResult{}, fmt.Errorf("question %s already revealed: %w", q.ID, domain.ErrAnswerWindowClosed)
	}
	if !m.reveal.Answerable(m.game.ShownChoiceIndex, len(q.Choices)) {
		return domain.AnswerResult{}, domain.ErrChoicesNotRevealed
	}
	now := m.deps.clock.Now()
	if !m.answerableAt.IsZero() && now.Sub(m.answerableAt) >= m.deps.timing.AnswerBudget {
		// the budget ran out before the timer got the lock; close the window here
		if err := m.revealLocked(ctx, "time_up"); err != nil {
			log.Error().Err(err).Str("game_id", m.game.ID).Msg("reveal on late answer")
		}
		return domain.AnswerResult{}, fmt.Errorf("answer after %s budget: %w", m.deps.timing.AnswerBudget, domain.ErrAnswerWindowClosed)
	}
	if m.current.has(participantID) {
		return domain.AnswerResult{}, domain.ErrDuplicateAnswer
	}
	choice, ok := q.Choice(choiceID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrChoiceNotFound
	}

	elapsed := now.Sub(m.answerableAt)
	if elapsed < 0 {
		elapsed = 0
	}
	answer := domain.Answer{
		GameID:        m.game.ID,
		ParticipantID: participantID,
		QuestionID:    q.ID,
		ChoiceID:      choice.ID,
		IsCorrect:     choice.IsCorrect,
		Score:         scoring.Score(choice.IsCorrect, elapsed, m.deps.timing.AnswerBudget),
		ElapsedMs:     elapsed.Milliseconds(),
		SubmittedAt:   now,
	}
	if err := m.deps.answers.CreateAnswer(ctx, answer); err != nil {
		if errors.Is(err, domain.ErrDuplicateAnswer) {
			return domain.AnswerResult{}, err
		}
		return domain.AnswerResult{}, fmt.Errorf("store answer: %w: %w", domain.ErrPersistence, err)
	}
	m.current.record(participantID, choice.ID)
	m.emitLocked(ctx, domain.EventAnswerCreated, nil)

	if m.current.count() >= len(m.roster) {
		if err := m.revealLocked(ctx, "all_answered"); err != nil {
			// the answer is stored; the timer still closes the window
			log.Error().Err(err).Str("game_id", m.game.ID).Msg("reveal after last answer")
		}
	}

	return domain.AnswerResult{
		QuestionID: answer.QuestionID,
		ChoiceID:   answer.ChoiceID,
		Correct:    answer.IsCorrect,
		Score:      answer.Score,
		ElapsedMs:  answer.ElapsedMs,
	}, nil
}
