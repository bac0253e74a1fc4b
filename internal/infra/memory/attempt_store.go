package memory

import (
	"context"
	"sync"

	"escrow-quiz-service/internal/domain"
)

// AttemptStore keeps attempt and completion records in memory. A completed
// attempt is indexed twice: SaveAttempt upserts the attempt record and, once
// Completed is set, also the completion record.
type AttemptStore struct {
	mu          sync.RWMutex
	attempts    map[string]domain.QuizAttempt
	completions map[string]domain.QuizAttempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts:    make(map[string]domain.QuizAttempt),
		completions: make(map[string]domain.QuizAttempt),
	}
}

func attemptID(userID, quizID string) string {
	return userID + "|" + quizID
}

func (s *AttemptStore) SaveAttempt(_ context.Context, attempt domain.QuizAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := attemptID(attempt.UserID, attempt.QuizID)
	s.attempts[id] = attempt
	if attempt.Completed {
		s.completions[id] = attempt
	}
	return nil
}

func (s *AttemptStore) FindCompletion(_ context.Context, userID, quizID string) (*domain.QuizAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.completions[attemptID(userID, quizID)]; ok {
		return &record, nil
	}
	return nil, nil
}

func (s *AttemptStore) FindAttempt(_ context.Context, userID, quizID string) (*domain.QuizAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.attempts[attemptID(userID, quizID)]; ok {
		return &record, nil
	}
	return nil, nil
}
