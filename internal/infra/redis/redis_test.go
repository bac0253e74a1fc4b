package redis

import (
	"context"
	"testing"
	"time"

	"escrow-quiz-service/internal/domain"
	"escrow-quiz-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:     "quiz-1",
		Status: domain.StatusSettled,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "First?",
				Options: []domain.Option{
					{ID: "a", Text: "right", Correct: true},
					{ID: "b", Text: "wrong"},
				},
			},
		},
	}
}

func TestQuizCacheFillsFromLoader(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	cache := NewQuizCache(newClient(mr), loader, time.Minute)

	quiz, err := cache.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if len(quiz.Questions) != 1 || quiz.Questions[0].Prompt != "First?" {
		t.Fatalf("unexpected quiz content: %+v", quiz)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("quiz:quiz-1:content") {
		t.Fatalf("expected content cached in redis")
	}

	// Second read hits the cache.
	if _, err := cache.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}

	cache.Invalidate(context.Background(), "quiz-1")
	if mr.Exists("quiz:quiz-1:content") {
		t.Fatalf("expected key removed")
	}
}

func TestAttemptStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewAttemptStore(newClient(mr), time.Hour)

	if found, err := store.FindAttempt(ctx, "u1", "q1"); err != nil || found != nil {
		t.Fatalf("expected no attempt, got %v err=%v", found, err)
	}

	if err := store.SaveAttempt(ctx, domain.QuizAttempt{UserID: "u1", QuizID: "q1", CurrentQuestionIndex: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	attempt, err := store.FindAttempt(ctx, "u1", "q1")
	if err != nil || attempt == nil || attempt.CurrentQuestionIndex != 1 {
		t.Fatalf("expected stored attempt, got %v err=%v", attempt, err)
	}
	if completion, _ := store.FindCompletion(ctx, "u1", "q1"); completion != nil {
		t.Fatalf("expected no completion before completing")
	}

	if err := store.SaveAttempt(ctx, domain.QuizAttempt{UserID: "u1", QuizID: "q1", Completed: true, Score: 3}); err != nil {
		t.Fatalf("save completed: %v", err)
	}
	completion, err := store.FindCompletion(ctx, "u1", "q1")
	if err != nil || completion == nil || completion.Score != 3 {
		t.Fatalf("expected completion with score 3, got %v err=%v", completion, err)
	}

	// completions survive attempt-key expiry
	mr.FastForward(2 * time.Hour)
	if completion, _ := store.FindCompletion(ctx, "u1", "q1"); completion == nil {
		t.Fatalf("completion must not expire")
	}
}

type countingLoader struct {
	QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}
