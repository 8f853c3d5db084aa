package domain

import "time"

// Phase is the coarse stage of a game.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseQuiz    Phase = "quiz"
	PhaseResults Phase = "result"
)

// Game is the authoritative game row. ShownChoiceIndex is nil until the host
// reveals the first choice; 0 means the first choice is visible.
type Game struct {
	ID                   string `json:"id"`
	QuizSetID            string `json:"quizSetId"`
	Phase                Phase  `json:"phase"`
	CurrentQuestionIndex int    `json:"currentQuestionIndex"`
	ShownChoiceIndex     *int   `json:"shownChoiceIndex"`
	IsAnswerRevealed     bool   `json:"isAnswerRevealed"`
}

// Participant represents a registered player of a game.
type Participant struct {
	ID       string    `json:"id"`
	GameID   string    `json:"gameId"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Choice represents a possible answer for a question.
type Choice struct {
	ID         string `json:"id"`
	QuestionID string `json:"questionId"`
	Body       string `json:"body"`
	IsCorrect  bool   `json:"isCorrect"`
}

// Question models an MCQ question with exactly one correct choice.
type Question struct {
	ID        string   `json:"id"`
	QuizSetID string   `json:"quizSetId"`
	Order     int      `json:"order"`
	Body      string   `json:"body"`
	Choices   []Choice `json:"choices"`
}

// LastChoiceIndex is the index of the final choice, -1 for a question without choices.
func (q Question) LastChoiceIndex() int {
	return len(q.Choices) - 1
}

// Choice looks up a choice by id.
func (q Question) Choice(choiceID string) (Choice, bool) {
	for _, c := range q.Choices {
		if c.ID == choiceID {
			return c, true
		}
	}
	return Choice{}, false
}

// Answer is one participant's submission for one question. Immutable once stored.
type Answer struct {
	GameID        string    `json:"gameId"`
	ParticipantID string    `json:"participantId"`
	QuestionID    string    `json:"questionId"`
	ChoiceID      string    `json:"choiceId"`
	IsCorrect     bool      `json:"isCorrect"`
	Score         int       `json:"score"`
	ElapsedMs     int64     `json:"elapsedMs"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// AnswerResult summarizes the outcome of a submission for the submitting participant.
type AnswerResult struct {
	QuestionID string `json:"questionId"`
	ChoiceID   string `json:"choiceId"`
	Correct    bool   `json:"correct"`
	Score      int    `json:"score"`
	ElapsedMs  int64  `json:"elapsedMs"`
}

// GameResult is a derived leaderboard row.
type GameResult struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	TotalScore    int    `json:"totalScore"`
}

// Leaderboard is the ranked list of results for a game.
type Leaderboard []GameResult

// Top returns at most n leading entries.
func (l Leaderboard) Top(n int) Leaderboard {
	if n < 0 || n >= len(l) {
		return l
	}
	return l[:n]
}
