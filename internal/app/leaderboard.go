package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"live-quiz-service/internal/domain"
)

// LeaderboardCalculator derives standings from the persisted answer log only,
// so recomputing it is always safe.
type LeaderboardCalculator struct {
	participants ParticipantStore
	answers      AnswerStore
}

func NewLeaderboardCalculator(participants ParticipantStore, answers AnswerStore) *LeaderboardCalculator {
	return &LeaderboardCalculator{participants: participants, answers: answers}
}

// Compute reads participants and answers of a game and ranks them.
func (c *LeaderboardCalculator) Compute(ctx context.Context, gameID string) (domain.Leaderboard, error) {
	participants, err := c.participants.ListParticipants(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w: %w", domain.ErrPersistence, err)
	}
	answers, err := c.answers.ListAnswers(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w: %w", domain.ErrPersistence, err)
	}
	return RankAnswers(participants, answers), nil
}

type standing struct {
	result    domain.GameResult
	reachedAt time.Time
}

// RankAnswers sums scores per participant. Ties go to whoever reached the
// total first, then to the lower participant id. Participants without
// points rank after everyone who scored.
func RankAnswers(participants []domain.Participant, answers []domain.Answer) domain.Leaderboard {
	byID := make(map[string]*standing, len(participants))
	for _, p := range participants {
		byID[p.ID] = &standing{result: domain.GameResult{ParticipantID: p.ID, Nickname: p.Nickname}}
	}
	for _, a := range answers {
		s, ok := byID[a.ParticipantID]
		if !ok {
			// answer from a participant no longer listed; keep the score visible
			s = &standing{result: domain.GameResult{ParticipantID: a.ParticipantID}}
			byID[a.ParticipantID] = s
		}
		s.result.TotalScore += a.Score
		if a.Score > 0 && a.SubmittedAt.After(s.reachedAt) {
			s.reachedAt = a.SubmittedAt
		}
	}

	standings := make([]*standing, 0, len(byID))
	for _, s := range byID {
		standings = append(standings, s)
	}
	sort.Slice(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.result.TotalScore != b.result.TotalScore {
			return a.result.TotalScore > b.result.TotalScore
		}
		if !a.reachedAt.Equal(b.reachedAt) {
			if a.reachedAt.IsZero() || b.reachedAt.IsZero() {
				return !a.reachedAt.IsZero()
			}
			return a.reachedAt.Before(b.reachedAt)
		}
		return a.result.ParticipantID < b.result.ParticipantID
	})

	board := make(domain.Leaderboard, 0, len(standings))
	for _, s := range standings {
		board = append(board, s.result)
	}
	return board
}
