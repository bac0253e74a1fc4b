package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"escrow-quiz-service/internal/domain"
	"go.uber.org/zap"
)

// AttemptStore persists attempt and completion records. FindCompletion and
// FindAttempt return nil when no record exists.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, attempt domain.QuizAttempt) error
	FindCompletion(ctx context.Context, userID, quizID string) (*domain.QuizAttempt, error)
	FindAttempt(ctx context.Context, userID, quizID string) (*domain.QuizAttempt, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// NextStep tells the caller what to render after starting or answering.
type NextStep struct {
	Completed     bool             `json:"completed"`
	Correct       bool             `json:"correct"`
	QuestionIndex int              `json:"questionIndex"`
	Question      *domain.Question `json:"question,omitempty"`
	Score         int              `json:"score"`
	Total         int              `json:"total"`
}

type attemptKey struct {
	userID string
	quizID string
}

type session struct {
	mu       sync.Mutex
	quiz     domain.Quiz
	attempt  domain.QuizAttempt
	lastStep NextStep
}

// Sessions tracks per-(user, quiz) attempt progress. Starting is one-shot:
// any prior completion, prior attempt record, or active session blocks a new
// start, finished or not. The active index is guarded by an atomic
// check-and-insert, so two simultaneous starts for one pair cannot both
// succeed.
type Sessions struct {
	store   AttemptStore
	quizzes QuizRepository
	wallets WalletResolver
	logger  *zap.Logger
	clock   func() time.Time

	mu     sync.Mutex
	active map[attemptKey]*session
}

// NewSessions builds the session manager. wallets may be nil; the wallet
// address on an attempt is best effort.
func NewSessions(store AttemptStore, quizzes QuizRepository, wallets WalletResolver, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		store:   store,
		quizzes: quizzes,
		wallets: wallets,
		logger:  logger,
		clock:   time.Now,
		active:  make(map[attemptKey]*session),
	}
}

// Start opens an attempt for the pair and returns the first question.
// Checks, in order: historical completions, historical attempts, active
// sessions; the pair is reserved in the active index up front so concurrent
// starts race on the insert, not on a read.
func (s *Sessions) Start(ctx context.Context, userID, quizID string) (NextStep, error) {
	key := attemptKey{userID: userID, quizID: quizID}

	s.mu.Lock()
	if _, exists := s.active[key]; exists {
		s.mu.Unlock()
		return NextStep{}, domain.ErrAlreadyAttempted
	}
	reservation := &session{}
	s.active[key] = reservation
	s.mu.Unlock()

	step, err := s.begin(ctx, key, reservation)
	if err != nil {
		s.mu.Lock()
		if current, ok := s.active[key]; ok && current == reservation {
			delete(s.active, key)
		}
		s.mu.Unlock()
		return NextStep{}, err
	}
	return step, nil
}

func (s *Sessions) begin(ctx context.Context, key attemptKey, reservation *session) (NextStep, error) {
	completion, err := s.store.FindCompletion(ctx, key.userID, key.quizID)
	if err != nil {
		return NextStep{}, fmt.Errorf("find completion: %w", err)
	}
	if completion != nil {
		return NextStep{}, domain.ErrAlreadyAttempted
	}

	prior, err := s.store.FindAttempt(ctx, key.userID, key.quizID)
	if err != nil {
		return NextStep{}, fmt.Errorf("find attempt: %w", err)
	}
	if prior != nil {
		return NextStep{}, domain.ErrAlreadyAttempted
	}

	quiz, err := s.quizzes.GetQuiz(ctx, key.quizID)
	if err != nil {
		return NextStep{}, err
	}
	if len(quiz.Questions) == 0 {
		return NextStep{}, domain.ErrQuizNotFound
	}

	attempt := domain.QuizAttempt{
		UserID:    key.userID,
		QuizID:    key.quizID,
		StartedAt: s.clock(),
	}
	if s.wallets != nil {
		if address, err := s.wallets.WalletAddress(ctx, key.userID); err == nil {
			attempt.WalletAddress = address
		}
	}

	// the durable attempt record is what makes starting one-shot: an
	// abandoned attempt still blocks a later start
	if err := s.store.SaveAttempt(ctx, attempt); err != nil {
		return NextStep{}, fmt.Errorf("save attempt: %w", err)
	}

	step := NextStep{
		QuestionIndex: 0,
		Question:      &quiz.Questions[0],
		Total:         len(quiz.Questions),
	}

	reservation.mu.Lock()
	reservation.quiz = quiz
	reservation.attempt = attempt
	reservation.lastStep = step
	reservation.mu.Unlock()

	s.logger.Info("attempt started",
		zap.String("userId", key.userID),
		zap.String("quizId", key.quizID))
	return step, nil
}

// Answer records the selected option for the session's current question.
// A repeat delivery of the already-recorded answer replays the same step
// without double-counting; any other stale or future index is rejected
// without mutating the session. A duplicate of the final answer arriving
// after the session was evicted replays the completed step from the
// durable record.
func (s *Sessions) Answer(ctx context.Context, userID, quizID string, questionIndex int, optionID string) (NextStep, error) {
	s.mu.Lock()
	sess, ok := s.active[attemptKey{userID: userID, quizID: quizID}]
	s.mu.Unlock()
	if !ok {
		return s.replayCompleted(ctx, userID, quizID, questionIndex, optionID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(sess.quiz.Questions) == 0 {
		// reservation whose start has not finished yet
		return NextStep{}, domain.ErrSessionNotFound
	}

	current := sess.attempt.CurrentQuestionIndex
	if questionIndex == current-1 && len(sess.attempt.Answers) > 0 {
		last := sess.attempt.Answers[len(sess.attempt.Answers)-1]
		if last.QuestionIndex == questionIndex && last.OptionID == optionID {
			return sess.lastStep, nil
		}
		return NextStep{}, domain.ErrSessionOutOfOrder
	}
	if questionIndex != current {
		return NextStep{}, domain.ErrSessionOutOfOrder
	}

	question := sess.quiz.Questions[current]
	correct, found := false, false
	for _, option := range question.Options {
		if option.ID == optionID {
			correct, found = option.Correct, true
			break
		}
	}
	if !found {
		return NextStep{}, domain.ErrOptionNotFound
	}

	prev := sess.attempt
	sess.attempt.Answers = append(sess.attempt.Answers, domain.AnswerRecord{
		QuestionIndex: questionIndex,
		OptionID:      optionID,
		Correct:       correct,
	})
	if correct {
		sess.attempt.Score++
	}
	sess.attempt.CurrentQuestionIndex++

	total := len(sess.quiz.Questions)
	step := NextStep{
		Correct: correct,
		Score:   sess.attempt.Score,
		Total:   total,
	}
	if sess.attempt.CurrentQuestionIndex >= total {
		sess.attempt.Completed = true
		step.Completed = true
		step.QuestionIndex = questionIndex
	} else {
		step.QuestionIndex = sess.attempt.CurrentQuestionIndex
		step.Question = &sess.quiz.Questions[sess.attempt.CurrentQuestionIndex]
	}

	if err := s.store.SaveAttempt(ctx, sess.attempt); err != nil {
		// behave as if the answer was never delivered so it can be retried
		sess.attempt = prev
		return NextStep{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	sess.lastStep = step

	if step.Completed {
		s.evict(userID, quizID, sess)
		s.logger.Info("attempt completed",
			zap.String("userId", userID),
			zap.String("quizId", quizID),
			zap.Int("score", sess.attempt.Score))
	}
	return step, nil
}

// replayCompleted serves a duplicate delivery of the last answer of an
// already-completed attempt. Anything else with no active session is an
// error.
func (s *Sessions) replayCompleted(ctx context.Context, userID, quizID string, questionIndex int, optionID string) (NextStep, error) {
	completion, err := s.store.FindCompletion(ctx, userID, quizID)
	if err != nil {
		return NextStep{}, fmt.Errorf("find completion: %w", err)
	}
	if completion == nil || len(completion.Answers) == 0 {
		return NextStep{}, domain.ErrSessionNotFound
	}
	last := completion.Answers[len(completion.Answers)-1]
	if last.QuestionIndex != questionIndex || last.OptionID != optionID {
		return NextStep{}, domain.ErrSessionNotFound
	}
	return NextStep{
		Completed:     true,
		Correct:       last.Correct,
		QuestionIndex: last.QuestionIndex,
		Score:         completion.Score,
		Total:         len(completion.Answers),
	}, nil
}

// Abandon drops the active session without erasing the attempt record, so
// the one-shot rule still holds afterwards.
func (s *Sessions) Abandon(userID, quizID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, attemptKey{userID: userID, quizID: quizID})
}

func (s *Sessions) evict(userID, quizID string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{userID: userID, quizID: quizID}
	if current, ok := s.active[key]; ok && current == sess {
		delete(s.active, key)
	}
}
