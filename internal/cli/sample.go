package cli

import "live-quiz-service/internal/domain"

// sampleQuizSets backs the in-memory mode and `migrate --seed`.
func sampleQuizSets() map[string][]domain.Question {
	return map[string][]domain.Question{
		"sample": {
			{
				ID:        "sample-q1",
				QuizSetID: "sample",
				Order:     1,
				Body:      "What is 2 + 2?",
				Choices: []domain.Choice{
					{ID: "sample-q1-c1", QuestionID: "sample-q1", Body: "3"},
					{ID: "sample-q1-c2", QuestionID: "sample-q1", Body: "4", IsCorrect: true},
					{ID: "sample-q1-c3", QuestionID: "sample-q1", Body: "5"},
					{ID: "sample-q1-c4", QuestionID: "sample-q1", Body: "22"},
				},
			},
			{
				ID:        "sample-q2",
				QuizSetID: "sample",
				Order:     2,
				Body:      "Which planet is closest to the sun?",
				Choices: []domain.Choice{
					{ID: "sample-q2-c1", QuestionID: "sample-q2", Body: "Venus"},
					{ID: "sample-q2-c2", QuestionID: "sample-q2", Body: "Mercury", IsCorrect: true},
					{ID: "sample-q2-c3", QuestionID: "sample-q2", Body: "Mars"},
				},
			},
		},
	}
}
