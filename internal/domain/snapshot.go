package domain

import "time"

// ChoiceView is what clients see of a choice. Correctness and the tally stay
// hidden until the answer is revealed.
type ChoiceView struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	IsCorrect *bool  `json:"isCorrect,omitempty"`
	Answers   *int   `json:"answers,omitempty"`
}

// QuestionView is the current question as rendered by clients.
type QuestionView struct {
	ID          string       `json:"id"`
	Body        string       `json:"body"`
	ChoiceCount int          `json:"choiceCount"`
	Choices     []ChoiceView `json:"choices"`
}

// Snapshot is a self-sufficient view of a game for a newly connecting client.
type Snapshot struct {
	Game
	Epoch               string        `json:"epoch"`
	Seq                 uint64        `json:"seq"`
	TotalQuestions      int           `json:"totalQuestions"`
	ParticipantCount    int           `json:"participantCount"`
	AnswerCount         int           `json:"answerCount"`
	Question            *QuestionView `json:"question,omitempty"`
	AnswerableAt        *time.Time    `json:"answerableAt,omitempty"`
	AnswerBudgetMs      int64         `json:"answerBudgetMs"`
	ChoiceRevealDelayMs int64         `json:"choiceRevealDelayMs"`
}

// EventType names the kind of change an Event carries.
type EventType string

const (
	EventGameState     EventType = "game.state"
	EventAnswerCreated EventType = "answer.created"
	EventLeaderboard   EventType = "leaderboard"
)

// Event is one entry of a game's broadcast stream. Epoch identifies the
// in-memory owner of the game; Seq increases by one per event within an epoch.
type Event struct {
	Type        EventType   `json:"type"`
	GameID      string      `json:"gameId"`
	Epoch       string      `json:"epoch"`
	Seq         uint64      `json:"seq"`
	Snapshot    Snapshot    `json:"snapshot"`
	Leaderboard Leaderboard `json:"leaderboard,omitempty"`
}
