package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

const uniqueViolation = "23505"

// Store persists games, participants and the answer log.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateGame(ctx context.Context, game domain.Game) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO games (id, quiz_set_id, phase, current_question_index, shown_choice_index, is_answer_revealed)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		game.ID, game.QuizSetID, string(game.Phase), game.CurrentQuestionIndex, toNullInt(game.ShownChoiceIndex), game.IsAnswerRevealed)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

func (s *Store) GetGame(ctx context.Context, gameID string) (domain.Game, error) {
	var (
		game  domain.Game
		phase string
		shown sql.NullInt32
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, quiz_set_id, phase, current_question_index, shown_choice_index, is_answer_revealed
		FROM games WHERE id=$1`, gameID).
		Scan(&game.ID, &game.QuizSetID, &phase, &game.CurrentQuestionIndex, &shown, &game.IsAnswerRevealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("load game: %w", err)
	}
	game.Phase = domain.Phase(phase)
	game.ShownChoiceIndex = fromNullInt(shown)
	return game, nil
}

func (s *Store) UpdateGame(ctx context.Context, game domain.Game) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE games
		SET phase=$2, current_question_index=$3, shown_choice_index=$4, is_answer_revealed=$5, updated_at=now()
		WHERE id=$1`,
		game.ID, string(game.Phase), game.CurrentQuestionIndex, toNullInt(game.ShownChoiceIndex), game.IsAnswerRevealed)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGameNotFound
	}
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, p domain.Participant) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO participants (id, game_id, nickname, joined_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.GameID, p.Nickname, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, gameID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, game_id, nickname, joined_at FROM participants WHERE game_id=$1 ORDER BY joined_at, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.GameID, &p.Nickname, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// CreateAnswer relies on the (participant_id, question_id) key to reject a
// second answer even when two instances race.
func (s *Store) CreateAnswer(ctx context.Context, a domain.Answer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO answers (game_id, participant_id, question_id, choice_id, is_correct, score, elapsed_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.GameID, a.ParticipantID, a.QuestionID, a.ChoiceID, a.IsCorrect, a.Score, a.ElapsedMs, a.SubmittedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrDuplicateAnswer
	}
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (s *Store) ListAnswers(ctx context.Context, gameID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_id, participant_id, question_id, choice_id, is_correct, score, elapsed_ms, submitted_at
		FROM answers WHERE game_id=$1 ORDER BY submitted_at, participant_id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.GameID, &a.ParticipantID, &a.QuestionID, &a.ChoiceID, &a.IsCorrect, &a.Score, &a.ElapsedMs, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// toNullInt keeps "no choice shown" (NULL) apart from the first choice (0).
func toNullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func fromNullInt(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int32)
	return &i
}
