package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// QuestionLoader loads the questions of a quiz set, choices in display order.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, quizSetID string) ([]domain.Question, error) {
	var exists bool
	if err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quiz_sets WHERE id=$1)`, quizSetID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("load quiz set: %w", err)
	}
	if !exists {
		return nil, domain.ErrQuizSetNotFound
	}

	rows, err := l.pool.Query(ctx, `
		SELECT q.id, q."order", q.body, c.id, c.body, c.is_correct
		FROM questions q
		LEFT JOIN choices c ON c.question_id = q.id
		WHERE q.quiz_set_id = $1
		ORDER BY q."order", q.id, c.position`, quizSetID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			q              domain.Question
			choiceID, body *string
			isCorrect      *bool
		)
		if err := rows.Scan(&q.ID, &q.Order, &q.Body, &choiceID, &body, &isCorrect); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if n := len(questions); n == 0 || questions[n-1].ID != q.ID {
			q.QuizSetID = quizSetID
			questions = append(questions, q)
		}
		if choiceID == nil {
			continue
		}
		last := &questions[len(questions)-1]
		last.Choices = append(last.Choices, domain.Choice{
			ID:         *choiceID,
			QuestionID: last.ID,
			Body:       deref(body),
			IsCorrect:  isCorrect != nil && *isCorrect,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return questions, nil
}

// SaveQuizSet replaces a quiz set and its questions in one transaction.
func (l *QuestionLoader) SaveQuizSet(ctx context.Context, quizSetID, title string, questions []domain.Question) error {
	return l.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO quiz_sets (id, title) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title`, quizSetID, title); err != nil {
			return fmt.Errorf("save quiz set: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE quiz_set_id=$1`, quizSetID); err != nil {
			return fmt.Errorf("clear questions: %w", err)
		}
		for _, q := range questions {
			if _, err := tx.Exec(ctx, `INSERT INTO questions (id, quiz_set_id, "order", body) VALUES ($1, $2, $3, $4)`,
				q.ID, quizSetID, q.Order, q.Body); err != nil {
				return fmt.Errorf("save question %s: %w", q.ID, err)
			}
			for pos, c := range q.Choices {
				if _, err := tx.Exec(ctx, `INSERT INTO choices (id, question_id, position, body, is_correct) VALUES ($1, $2, $3, $4, $5)`,
					c.ID, q.ID, pos, c.Body, c.IsCorrect); err != nil {
					return fmt.Errorf("save choice %s: %w", c.ID, err)
				}
			}
		}
		return nil
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
