package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"escrow-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store persists quizzes and attempts as JSONB rows. Indexed columns are
// duplicated out of the payload for querying; the payload stays the source
// of truth.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO quizzes (id, creator_id, status, unsettled, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, data=EXCLUDED.data`,
		quiz.ID, quiz.CreatorID, string(quiz.Status), quiz.Unsettled, data)
	if err != nil {
		return fmt.Errorf("save quiz: %w", err)
	}
	return nil
}

func (s *Store) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return quiz, nil
}

func (s *Store) SaveAttempt(ctx context.Context, attempt domain.QuizAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO quiz_attempts (user_id, quiz_id, completed, score, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, quiz_id)
		DO UPDATE SET completed=EXCLUDED.completed, score=EXCLUDED.score, data=EXCLUDED.data`,
		attempt.UserID, attempt.QuizID, attempt.Completed, attempt.Score, data)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

func (s *Store) FindAttempt(ctx context.Context, userID, quizID string) (*domain.QuizAttempt, error) {
	return s.findAttempt(ctx, `SELECT data FROM quiz_attempts WHERE user_id=$1 AND quiz_id=$2`, userID, quizID)
}

func (s *Store) FindCompletion(ctx context.Context, userID, quizID string) (*domain.QuizAttempt, error) {
	return s.findAttempt(ctx, `SELECT data FROM quiz_attempts WHERE user_id=$1 AND quiz_id=$2 AND completed`, userID, quizID)
}

func (s *Store) findAttempt(ctx context.Context, query, userID, quizID string) (*domain.QuizAttempt, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, query, userID, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find attempt: %w", err)
	}
	var attempt domain.QuizAttempt
	if err := json.Unmarshal(raw, &attempt); err != nil {
		return nil, fmt.Errorf("unmarshal attempt: %w", err)
	}
	return &attempt, nil
}
