package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"escrow-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AttemptStore keeps attempt and completion records in Redis:
//
//	SET attempt:{userID}:{quizID}    {json}   (TTL optional)
//	SET completion:{userID}:{quizID} {json}   (no TTL: completions are permanent)
//
// The records back the one-shot rule, so attempt keys should outlive the
// quiz itself; a zero TTL keeps them forever.
type AttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAttemptStore(client *redis.Client, ttl time.Duration) *AttemptStore {
	return &AttemptStore{client: client, ttl: ttl}
}

func (s *AttemptStore) SaveAttempt(ctx context.Context, attempt domain.QuizAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.attemptKey(attempt.UserID, attempt.QuizID), data, s.ttl)
	if attempt.Completed {
		pipe.Set(ctx, s.completionKey(attempt.UserID, attempt.QuizID), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) FindAttempt(ctx context.Context, userID, quizID string) (*domain.QuizAttempt, error) {
	return s.find(ctx, s.attemptKey(userID, quizID))
}

func (s *AttemptStore) FindCompletion(ctx context.Context, userID, quizID string) (*domain.QuizAttempt, error) {
	return s.find(ctx, s.completionKey(userID, quizID))
}

func (s *AttemptStore) find(ctx context.Context, key string) (*domain.QuizAttempt, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", key, err)
	}
	var attempt domain.QuizAttempt
	if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
		return nil, fmt.Errorf("unmarshal attempt: %w", err)
	}
	return &attempt, nil
}

func (s *AttemptStore) attemptKey(userID, quizID string) string {
	return "attempt:" + userID + ":" + quizID
}

func (s *AttemptStore) completionKey(userID, quizID string) string {
	return "completion:" + userID + ":" + quizID
}
