package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrGameNotFound is returned when a game id is unknown to the store.
	ErrGameNotFound = errors.New("game not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in game")
	// ErrQuizSetNotFound indicates the quiz content could not be loaded.
	ErrQuizSetNotFound = errors.New("quiz set not found")
	// ErrInvalidQuizSet indicates the quiz set has no playable questions.
	ErrInvalidQuizSet = errors.New("quiz set has no playable questions")
	// ErrChoiceNotFound indicates a submitted choice ID is not part of the question.
	ErrChoiceNotFound = errors.New("choice not found")
	// ErrGameStarted is returned when joining a game that already left the lobby.
	ErrGameStarted = errors.New("game already started")

	// ErrInvalidTransition is returned for host commands issued in the wrong phase.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDuplicateAnswer is returned when a participant answers the same question twice.
	ErrDuplicateAnswer = errors.New("answer already submitted")
	// ErrAnswerWindowClosed is returned when a submission arrives outside the answer window.
	ErrAnswerWindowClosed = errors.New("answer window closed")
	// ErrPersistence marks a storage failure; the caller may retry.
	ErrPersistence = errors.New("persistence failure")
	// ErrBroadcastGap is reported when an event stream skipped a sequence number.
	ErrBroadcastGap = errors.New("broadcast gap")
	// ErrGameOwnedElsewhere is returned when another instance runs the game.
	ErrGameOwnedElsewhere = errors.New("game is owned by another instance")
)

var (
	// ErrChoicesNotRevealed is returned while the host is still revealing choices.
	ErrChoicesNotRevealed = fmt.Errorf("choices not fully revealed: %w", ErrAnswerWindowClosed)
	// ErrQuestionNotActive is returned for submissions against any question but the current one.
	ErrQuestionNotActive = fmt.Errorf("question is not active: %w", ErrAnswerWindowClosed)
)

// Code maps an error to a stable machine-readable code for clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrGameNotFound):
		return "game_not_found"
	case errors.Is(err, ErrParticipantNotFound):
		return "participant_not_found"
	case errors.Is(err, ErrQuizSetNotFound):
		return "quiz_set_not_found"
	case errors.Is(err, ErrInvalidQuizSet):
		return "invalid_quiz_set"
	case errors.Is(err, ErrChoiceNotFound):
		return "choice_not_found"
	case errors.Is(err, ErrGameStarted):
		return "game_started"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrDuplicateAnswer):
		return "duplicate_answer"
	case errors.Is(err, ErrChoicesNotRevealed):
		return "choices_not_revealed"
	case errors.Is(err, ErrAnswerWindowClosed):
		return "answer_window_closed"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrBroadcastGap):
		return "broadcast_gap"
	case errors.Is(err, ErrGameOwnedElsewhere):
		return "game_owned_elsewhere"
	default:
		return "internal"
	}
}
